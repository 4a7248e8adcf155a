package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfig_MergesEnvironmentOverBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
push:
  app_id: base-app
`)
	writeFile(t, dir, "production.yaml", `
db:
  host: db.internal
`)

	cfg, err := LoadConfig("production", dir)
	require.NoError(t, err)

	db := cfg["db"].(map[string]interface{})
	assert.Equal(t, "db.internal", db["host"])
	assert.Equal(t, 5432, db["port"])
	assert.Equal(t, "base-app", cfg["push"].(map[string]interface{})["app_id"])
}

func TestLoadConfig_SubstitutesSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
push:
  api_key: ${PUSH_KEY_FROM_FILE}
jwt:
  secret: ${EXPENSEFLOW_TEST_JWT}
`)
	writeFile(t, dir, "secrets.env", "# comment\nPUSH_KEY_FROM_FILE=\"rest-key\"\n")
	t.Setenv("EXPENSEFLOW_TEST_JWT", "from-env")

	cfg, err := LoadConfig("local", dir)
	require.NoError(t, err)

	assert.Equal(t, "rest-key", cfg["push"].(map[string]interface{})["api_key"])
	assert.Equal(t, "from-env", cfg["jwt"].(map[string]interface{})["secret"])
}

func TestLoadConfig_ClearsUnresolvedPlaceholders(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
push:
  api_key: ${EXPENSEFLOW_UNSET_PUSH_KEY}
  api_url: https://push.example/notifications
`)

	cfg, err := LoadConfig("local", dir)
	require.NoError(t, err)

	push := cfg["push"].(map[string]interface{})
	assert.Equal(t, "", push["api_key"])
	assert.Equal(t, "https://push.example/notifications", push["api_url"])
}

func TestLoadConfig_MissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	assert.Error(t, err)
}

func TestOverridePushFromEnv(t *testing.T) {
	t.Setenv("PUSH_APP_ID", "env-app")
	t.Setenv("PUSH_API_KEY", "env-key")

	cfg := PushConfig{AppID: "file-app", APIURL: "https://push.example"}
	OverridePushFromEnv(&cfg)

	assert.Equal(t, "env-app", cfg.AppID)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, "https://push.example", cfg.APIURL)
}
