/*
Package config loads entitystate settings.

Settings come from the environment, optionally seeded from a .env file in the
working directory:

	ENTITYSTATE_TRANSPORT      memory | rest | ddb | sqlite (default memory)
	ENTITYSTATE_BASE_URL       REST API root, required for rest
	ENTITYSTATE_AUTH_TOKEN     sent as a bearer token by the rest transport
	ENTITYSTATE_TIMEOUT        per-request timeout (default 30s)
	ENTITYSTATE_MAX_RETRIES    list attempts (default 3)
	AWS_REGION, AWS_ACCESS_KEY, AWS_SECRET_KEY, AWS_DDB_TABLE
	ENTITYSTATE_DDB_ENDPOINT   optional DynamoDB endpoint override
	ENTITYSTATE_SQLITE_PATH    database file for sqlite
	ENTITYSTATE_LOG_LEVEL      debug | info | warn | error
	ENTITYSTATE_LOG_FORMAT     text | json
	ENTITYSTATE_ENTITIES_FILE  YAML file of entity endpoints

Entity endpoints are declared in YAML and loaded with LoadEntities.
*/
package config
