/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/suparena/entitystate/errors"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "entityctl", cmd.Use)
	assert.Contains(t, cmd.Long, "entity state engine")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"list", "add", "update", "remove", "hydrate", "version"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "json", formatFlag.DefValue)

	for _, name := range []string{"transport", "entities", "events"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestDataFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"add", "update"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.NotNil(t, sub.Flags().Lookup("data"), name)
	}

	list, _, err := cmd.Find([]string{"list"})
	require.NoError(t, err)
	assert.NotNil(t, list.Flags().Lookup("refresh"))
}

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// sqliteEnv points the CLI at a fresh database in an empty working directory.
func sqliteEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("ENTITYSTATE_TRANSPORT", "sqlite")
	t.Setenv("ENTITYSTATE_SQLITE_PATH", filepath.Join(dir, "cli.db"))
}

func TestInvalidFormat(t *testing.T) {
	t.Chdir(t.TempDir())
	_, _, err := run(t, "--format", "xml", "version")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVersion(t *testing.T) {
	t.Chdir(t.TempDir())
	out, _, err := run(t, "version")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info["version"])
}

func TestAddListRemove(t *testing.T) {
	sqliteEnv(t)

	out, _, err := run(t, "add", "taskTags", "--data", `{"id": 1, "name": "urgent"}`)
	require.NoError(t, err)
	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "urgent", created["name"])

	_, _, err = run(t, "add", "taskTags", "--data", `{"id": 2, "name": "later"}`)
	require.NoError(t, err)

	out, _, err = run(t, "list", "taskTags")
	require.NoError(t, err)
	var snap struct {
		EntityType string           `json:"entityType"`
		Records    []map[string]any `json:"records"`
		Loaded     bool             `json:"loaded"`
		Loading    bool             `json:"loading"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, "taskTags", snap.EntityType)
	assert.True(t, snap.Loaded)
	assert.False(t, snap.Loading)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, "urgent", snap.Records[0]["name"])
	assert.Equal(t, "later", snap.Records[1]["name"])

	_, _, err = run(t, "remove", "taskTags", "1")
	require.NoError(t, err)

	out, _, err = run(t, "--format", "yaml", "list", "taskTags", "--refresh")
	require.NoError(t, err)
	var yamlSnap map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &yamlSnap))
	records, ok := yamlSnap["records"].([]any)
	require.True(t, ok)
	assert.Len(t, records, 1)
}

func TestUpdateMerges(t *testing.T) {
	sqliteEnv(t)

	_, _, err := run(t, "add", "workflows", "--data", `{"id": "wf", "name": "build", "steps": 3}`)
	require.NoError(t, err)

	out, _, err := run(t, "update", "workflows", "--data", `{"id": "wf", "steps": 4}`)
	require.NoError(t, err)
	var updated map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &updated))
	assert.Equal(t, "build", updated["name"])
	assert.EqualValues(t, 4, updated["steps"])
}

func TestEventsFlag(t *testing.T) {
	sqliteEnv(t)

	_, stderr, err := run(t, "--events", "add", "taskTags", "--data", `{"id": 9}`)
	require.NoError(t, err)

	var ev map[string]any
	line := strings.TrimSpace(strings.Split(strings.TrimSpace(stderr), "\n")[0])
	require.NoError(t, json.Unmarshal([]byte(line), &ev))
	assert.Equal(t, "created", ev["name"])
	assert.Equal(t, "taskTags", ev["entityType"])
}

func TestRemoveMissing(t *testing.T) {
	sqliteEnv(t)

	_, _, err := run(t, "remove", "taskTags", "404")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsTransport(err))
}

func TestBadData(t *testing.T) {
	sqliteEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing", []string{"add", "taskTags"}},
		{"not json", []string{"add", "taskTags", "--data", "{nope"}},
		{"not an object", []string{"update", "taskTags", "--data", "null"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestUpdateWithoutID(t *testing.T) {
	sqliteEnv(t)

	_, _, err := run(t, "update", "taskTags", "--data", `{"name": "x"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, errors.IsValidationError(err))
}

func TestHydrateWithEntitiesFile(t *testing.T) {
	sqliteEnv(t)
	entities := filepath.Join(t.TempDir(), "entities.yaml")
	require.NoError(t, os.WriteFile(entities, []byte(`
entities:
  - key: apiKeys
    path: /api/v1/api-keys
  - key: taskTags
`), 0o600))

	_, _, err := run(t, "--entities", entities, "add", "apiKeys", "--data", `{"id": "k1"}`)
	require.NoError(t, err)

	out, _, err := run(t, "--entities", entities, "hydrate", "apiKeys", "taskTags")
	require.NoError(t, err)
	var snaps map[string]struct {
		Records []map[string]any `json:"records"`
		Loaded  bool             `json:"loaded"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	assert.Len(t, snaps["apiKeys"].Records, 1)
	assert.Empty(t, snaps["taskTags"].Records)
	assert.True(t, snaps["taskTags"].Loaded)
}

func TestUnknownTransportFlag(t *testing.T) {
	t.Chdir(t.TempDir())
	_, _, err := run(t, "--transport", "carrier-pigeon", "list", "taskTags")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMemoryTransport(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENTITYSTATE_TRANSPORT", "memory")

	out, _, err := run(t, "list", "taskTags")
	require.NoError(t, err)
	assert.Contains(t, out, `"entityType": "taskTags"`)
}
