package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadCredentialsAuthTokenWins(t *testing.T) {
	path := writeSettings(t, `{"env":{
		"ANTHROPIC_AUTH_TOKEN":"tok-auth",
		"ANTHROPIC_API_KEY":"tok-key",
		"ANTHROPIC_BASE_URL":"https://gw.example.com",
		"ANTHROPIC_MODEL":"claude-sonnet-4"
	}}`)

	creds := loadCredentialsFrom(path)
	assert.Equal(t, "tok-auth", creds.APIKey)
	assert.Equal(t, "https://gw.example.com", creds.BaseURL)
	assert.Equal(t, "claude-sonnet-4", creds.Model)
}

func TestLoadCredentialsAPIKeyFallback(t *testing.T) {
	path := writeSettings(t, `{"env":{"ANTHROPIC_API_KEY":"tok-key"}}`)
	assert.Equal(t, "tok-key", loadCredentialsFrom(path).APIKey)
}

func TestLoadCredentialsMissingFile(t *testing.T) {
	creds := loadCredentialsFrom(filepath.Join(t.TempDir(), "absent.json"))
	assert.Equal(t, Credentials{}, creds)
}

func TestLoadCredentialsMalformedFile(t *testing.T) {
	path := writeSettings(t, `{not json`)
	assert.Equal(t, Credentials{}, loadCredentialsFrom(path))
}
