package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Credentials are the provider settings the chat path needs. They come
// from the Claude CLI's own settings file so users configure one place;
// per-request overrides from the UI take precedence over all of this.
type Credentials struct {
	APIKey  string
	BaseURL string
	Model   string
}

// LoadCredentials reads ~/.claude/settings.json and extracts provider
// credentials from its env block. ANTHROPIC_AUTH_TOKEN wins over
// ANTHROPIC_API_KEY when both are present, matching how the CLI itself
// resolves them. Missing file or fields are not errors; the caller
// decides whether empty credentials are acceptable.
func LoadCredentials() Credentials {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Credentials{}
	}
	return loadCredentialsFrom(filepath.Join(homeDir, ".claude", "settings.json"))
}

func loadCredentialsFrom(path string) Credentials {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}
	}

	var settings struct {
		Env map[string]string `json:"env"`
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return Credentials{}
	}

	creds := Credentials{
		APIKey:  settings.Env["ANTHROPIC_AUTH_TOKEN"],
		BaseURL: settings.Env["ANTHROPIC_BASE_URL"],
		Model:   settings.Env["ANTHROPIC_MODEL"],
	}
	if creds.APIKey == "" {
		creds.APIKey = settings.Env["ANTHROPIC_API_KEY"]
	}
	return creds
}
