/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/suparena/entitystate/registry"
)

// Transport kinds accepted by Config.Transport.
const (
	TransportMemory = "memory"
	TransportREST   = "rest"
	TransportDDB    = "ddb"
	TransportSQLite = "sqlite"
)

// Config holds the settings needed to build an engine and its transport.
type Config struct {
	Transport    string        `env:"ENTITYSTATE_TRANSPORT" envDefault:"memory"`
	BaseURL      string        `env:"ENTITYSTATE_BASE_URL"`
	AuthToken    string        `env:"ENTITYSTATE_AUTH_TOKEN"`
	Timeout      time.Duration `env:"ENTITYSTATE_TIMEOUT" envDefault:"30s"`
	MaxRetries   uint          `env:"ENTITYSTATE_MAX_RETRIES" envDefault:"3"`
	AWSRegion    string        `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSAccessKey string        `env:"AWS_ACCESS_KEY"`
	AWSSecretKey string        `env:"AWS_SECRET_KEY"`
	DDBTable     string        `env:"AWS_DDB_TABLE"`
	DDBEndpoint  string        `env:"ENTITYSTATE_DDB_ENDPOINT"`
	SQLitePath   string        `env:"ENTITYSTATE_SQLITE_PATH" envDefault:"entitystate.db"`
	LogLevel     string        `env:"ENTITYSTATE_LOG_LEVEL" envDefault:"info"`
	LogFormat    string        `env:"ENTITYSTATE_LOG_FORMAT" envDefault:"text"`
	EntitiesFile string        `env:"ENTITYSTATE_ENTITIES_FILE"`
}

// Load reads a .env file when one exists in the working directory, then
// parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return ParseEnv(nil)
}

// ParseEnv parses configuration from environ, or from the process
// environment when environ is nil, and validates it.
func ParseEnv(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected transport has what it needs.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportMemory:
	case TransportREST:
		if c.BaseURL == "" {
			return fmt.Errorf("ENTITYSTATE_BASE_URL is required for the %s transport", c.Transport)
		}
	case TransportDDB:
		if c.DDBTable == "" {
			return fmt.Errorf("AWS_DDB_TABLE is required for the %s transport", c.Transport)
		}
	case TransportSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("ENTITYSTATE_SQLITE_PATH is required for the %s transport", c.Transport)
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}

// EntitiesFile is the YAML document listing entity type endpoints:
//
//	entities:
//	  - key: taskTags
//	    path: /task-tags
//	    indexMap:
//	      PK: "TAG#{id}"
//	      SK: "TAG#{id}"
type EntitiesFile struct {
	Entities []registry.Endpoint `yaml:"entities"`
}

// LoadEntities reads the entities file at path into a new endpoint registry.
func LoadEntities(path string) (*registry.Endpoints, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entities file: %w", err)
	}
	return ParseEntities(data)
}

// ParseEntities decodes an entities document into a new endpoint registry.
func ParseEntities(data []byte) (*registry.Endpoints, error) {
	var doc EntitiesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse entities file: %w", err)
	}

	endpoints := registry.NewEndpoints()
	for i, ep := range doc.Entities {
		if err := endpoints.Register(ep); err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
	}
	return endpoints, nil
}
