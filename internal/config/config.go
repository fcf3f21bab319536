package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Config holds the daemon's configuration
type Config struct {
	DeviceID         string   `json:"device_id"`
	UIURL            string   `json:"-"` // Not saved: determined at runtime from --dev flag or env vars
	ApprovedFolders  []Folder `json:"approved_folders"`
	SelectedFolderID string   `json:"selected_folder_id"`
	DefaultModel     string   `json:"default_model,omitempty"`
}

// Folder represents an approved project folder
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Load loads the configuration from disk
func Load(dev bool) (*Config, error) {
	configPath := getConfigPath()

	// Create default config if doesn't exist
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return createDefaultConfig(dev)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Migrate folder IDs from legacy format (folder name) to UUIDs
	if cfg.migrateFolderIDs() {
		if err := cfg.Save(); err != nil {
			// Log but don't fail - migration is best-effort
			fmt.Printf("Warning: failed to save migrated config: %v\n", err)
		}
	}

	// Override with environment variables and dev flag if set
	cfg.UIURL = getDefaultUIURL(dev)

	return &cfg, nil
}

// migrateFolderIDs converts legacy folder IDs (like "my-project") to proper UUIDs
// Returns true if any migration occurred
func (c *Config) migrateFolderIDs() bool {
	migrated := false
	oldToNew := make(map[string]string) // Track old->new ID mapping

	for i, folder := range c.ApprovedFolders {
		// Check if ID is already a valid UUID
		if _, err := uuid.Parse(folder.ID); err != nil {
			// Not a UUID - migrate to a new UUID
			newID := uuid.New().String()
			oldToNew[folder.ID] = newID
			c.ApprovedFolders[i].ID = newID
			migrated = true
			fmt.Printf("🔄 Migrated folder ID: %s -> %s (%s)\n", folder.ID, newID, folder.Name)
		}
	}

	// Update selected folder ID if it was migrated
	if newID, ok := oldToNew[c.SelectedFolderID]; ok {
		c.SelectedFolderID = newID
	}

	return migrated
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	configPath := getConfigPath()

	// Ensure config directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600) // 0600 = owner read/write only
}

// createDefaultConfig creates a default configuration
func createDefaultConfig(dev bool) (*Config, error) {
	cfg := &Config{
		DeviceID:        generateDeviceID(),
		UIURL:           getDefaultUIURL(dev),
		ApprovedFolders: []Folder{},
	}

	if err := cfg.Save(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// getDefaultUIURL determines the UI websocket endpoint
// Priority order:
// 1. Dev flag (--dev, uses the Vite dev server)
// 2. CODENOVA_UI_URL env var
// 3. Default local UI port
func getDefaultUIURL(dev bool) string {
	if dev {
		return "ws://localhost:5173/ws"
	}
	if url := os.Getenv("CODENOVA_UI_URL"); url != "" {
		return url
	}
	return "ws://127.0.0.1:8787/ws"
}

// getConfigPath returns the path to the config file
func getConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".codenova", "config.json")
}

// generateDeviceID generates a unique device ID
func generateDeviceID() string {
	// Simple implementation - in production you might want MAC address or UUID
	hostname, _ := os.Hostname()
	return "desktop-" + hostname
}

// AddFolder adds a folder to the approved list
func (c *Config) AddFolder(name, path string) error {
	// Generate a proper UUID for the folder ID
	// This ensures uniqueness even if folder names collide (e.g., two "src" folders)
	id := uuid.New().String()

	// Check if already exists
	for _, f := range c.ApprovedFolders {
		if f.Path == path {
			return nil // Already exists, not an error
		}
	}

	c.ApprovedFolders = append(c.ApprovedFolders, Folder{
		ID:   id,
		Name: name,
		Path: path,
	})

	return nil
}

// RemoveFolder removes a folder from the approved list by path
func (c *Config) RemoveFolder(path string) {
	filtered := []Folder{}
	for _, f := range c.ApprovedFolders {
		if f.Path != path {
			filtered = append(filtered, f)
		}
	}
	c.ApprovedFolders = filtered

	// Clear selected folder if it was removed
	for _, f := range c.ApprovedFolders {
		if f.ID == c.SelectedFolderID {
			return // Selected folder still exists
		}
	}
	c.SelectedFolderID = "" // Selected folder was removed
}

// RemoveFolderByID removes a folder from the approved list by ID
func (c *Config) RemoveFolderByID(id string) error {
	filtered := []Folder{}
	found := false
	for _, f := range c.ApprovedFolders {
		if f.ID != id {
			filtered = append(filtered, f)
		} else {
			found = true
		}
	}

	if !found {
		return fmt.Errorf("folder with ID %s not found", id)
	}

	c.ApprovedFolders = filtered

	// Clear selected folder if it was removed
	if c.SelectedFolderID == id {
		c.SelectedFolderID = ""
	}

	return nil
}

// SelectFolder sets the selected folder ID
func (c *Config) SelectFolder(id string) error {
	// Verify folder exists
	found := false
	for _, f := range c.ApprovedFolders {
		if f.ID == id {
			found = true
			break
		}
	}

	if !found {
		return fmt.Errorf("folder with ID %s not found", id)
	}

	c.SelectedFolderID = id
	return nil
}

// FolderByID returns the approved folder with the given ID
func (c *Config) FolderByID(id string) (Folder, bool) {
	for _, f := range c.ApprovedFolders {
		if f.ID == id {
			return f, true
		}
	}
	return Folder{}, false
}

// IsApprovedPath reports whether path is inside an approved folder
func (c *Config) IsApprovedPath(path string) bool {
	clean := filepath.Clean(path)
	for _, f := range c.ApprovedFolders {
		folder := filepath.Clean(f.Path)
		if clean == folder {
			return true
		}
		if rel, err := filepath.Rel(folder, clean); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
