package agent

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	ws "github.com/zkw15555506767-boop/CodeNova/internal/websocket"
)

// handleFolderAdd handles adding a new approved folder from the system tray.
func (a *Agent) handleFolderAdd(path string) {
	name := filepath.Base(path)

	log.Printf("Adding folder: %s (%s)", name, path)

	if err := a.cfg.AddFolder(name, path); err != nil {
		log.Printf("❌ Failed to add folder: %v", err)
		return
	}

	if err := a.cfg.Save(); err != nil {
		log.Printf("Failed to save config: %v", err)
		return
	}

	log.Printf("✅ Folder approved: %s (%d folders)", name, len(a.cfg.ApprovedFolders))

	a.sendFolderListUpdate()

	if a.tray != nil {
		a.tray.ShowNotification("Folder Approved", fmt.Sprintf("Added: %s", name))
	}
}

// handleFolderRemove handles removing an approved folder from the system tray.
func (a *Agent) handleFolderRemove(path string) {
	log.Printf("Removing folder: %s", path)

	a.cfg.RemoveFolder(path)

	if err := a.cfg.Save(); err != nil {
		log.Printf("Failed to save config: %v", err)
		return
	}

	log.Printf("✅ Folder removed")
	a.sendFolderListUpdate()
}

// handleFolderAddRequest handles a request from the UI to add a folder.
func (a *Agent) handleFolderAddRequest(msg *ws.Message) {
	log.Println("📥 Received folder add request from UI")

	var payload struct {
		Path string `json:"path"`
	}

	var path string
	if err := json.Unmarshal(msg.Payload, &payload); err == nil && payload.Path != "" {
		path = payload.Path
		log.Printf("Using provided path: %s", path)
	} else {
		if a.tray == nil {
			log.Println("❌ Cannot open file picker in headless mode")
			a.sendFolderResponse(false, "File picker not available in headless mode. Please use 'Add by Path' to enter the folder path manually.", "")
			return
		}

		path = a.tray.SelectFolder()
		if path == "" {
			log.Println("⚠️ Folder selection cancelled or not available")
			a.sendFolderResponse(false, "Folder selection cancelled. Please try 'Add by Path' to enter the folder path manually.", "")
			return
		}
		log.Printf("Selected path from picker: %s", path)
	}

	// Validate that the path exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("❌ Path does not exist: %s", path)
		a.sendFolderResponse(false, fmt.Sprintf("Folder does not exist: %s", path), "")
		return
	}

	name := filepath.Base(path)
	log.Printf("Adding folder from UI request: %s (%s)", name, path)

	if err := a.cfg.AddFolder(name, path); err != nil {
		log.Printf("❌ Failed to add folder: %v", err)
		a.sendFolderResponse(false, err.Error(), "")
		return
	}

	if err := a.cfg.Save(); err != nil {
		log.Printf("Failed to save config: %v", err)
		a.sendFolderResponse(false, fmt.Sprintf("Failed to save: %v", err), "")
		return
	}

	log.Printf("✅ Folder approved: %s (%d folders)", name, len(a.cfg.ApprovedFolders))

	a.sendFolderResponse(true, "Folder added successfully", "")
	a.sendFolderListUpdate()

	// Batch-discover existing sessions for this folder
	if a.sessionWatcher != nil {
		sessions := a.sessionWatcher.ScanProjectSessions(path)
		if len(sessions) > 0 {
			a.sendExternalSessionsList(sessions, path)
		}
	}

	if a.tray != nil {
		a.tray.ShowNotification("Folder Approved", fmt.Sprintf("Added: %s", name))
	}
}

// handleFolderRemoveRequest handles a request from the UI to remove a folder.
func (a *Agent) handleFolderRemoveRequest(msg *ws.Message) {
	var payload struct {
		FolderID string `json:"folder_id"`
	}

	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("Failed to unmarshal folder remove payload: %v", err)
		a.sendFolderResponse(false, "Invalid request", "")
		return
	}

	log.Printf("📥 Received folder remove request for ID: %s", payload.FolderID)

	// Get the folder path BEFORE removing (needed to clear sessions)
	var folderPath string
	if folder, ok := a.cfg.FolderByID(payload.FolderID); ok {
		folderPath = folder.Path
	}

	if err := a.cfg.RemoveFolderByID(payload.FolderID); err != nil {
		log.Printf("❌ Failed to remove folder: %v", err)
		a.sendFolderResponse(false, err.Error(), "")
		return
	}

	if err := a.cfg.Save(); err != nil {
		log.Printf("Failed to save config: %v", err)
		a.sendFolderResponse(false, fmt.Sprintf("Failed to save: %v", err), "")
		return
	}

	log.Printf("✅ Folder removed: %s", payload.FolderID)

	// Clear sessions from watcher
	if a.sessionWatcher != nil && folderPath != "" {
		a.sessionWatcher.ClearProjectSessions(folderPath)
	}

	a.sendFolderResponse(true, "Folder removed successfully", "")
	a.sendFolderListUpdate()
}

// handleFolderSelectRequest handles a request from the UI to select a folder.
func (a *Agent) handleFolderSelectRequest(msg *ws.Message) {
	var payload struct {
		FolderID string `json:"folder_id"`
	}

	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("Failed to unmarshal folder select payload: %v", err)
		a.sendFolderResponse(false, "Invalid request", "")
		return
	}

	log.Printf("📥 Received folder select request for ID: %s", payload.FolderID)

	if err := a.cfg.SelectFolder(payload.FolderID); err != nil {
		log.Printf("❌ Failed to select folder: %v", err)
		a.sendFolderResponse(false, err.Error(), "")
		return
	}

	if err := a.cfg.Save(); err != nil {
		log.Printf("Failed to save config: %v", err)
		a.sendFolderResponse(false, fmt.Sprintf("Failed to save: %v", err), "")
		return
	}

	log.Printf("✅ Folder selected: %s", payload.FolderID)
	a.sendFolderResponse(true, "Folder selected successfully", payload.FolderID)
	a.sendFolderListUpdate()
}

// handleBrowseFolders handles a request to browse the filesystem.
func (a *Agent) handleBrowseFolders(msg *ws.Message) {
	var payload struct {
		Path string `json:"path"`
	}

	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("Failed to unmarshal browse folders payload: %v", err)
		a.sendBrowseResponse("", nil, "Invalid request")
		return
	}

	// Default to user's home directory if no path provided
	browsePath := payload.Path
	if browsePath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Printf("Failed to get home directory: %v", err)
			a.sendBrowseResponse("", nil, "Failed to get home directory")
			return
		}
		browsePath = homeDir
	}

	log.Printf("📂 Browsing directory: %s", browsePath)

	// Security: Ensure requested path is within user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Printf("Failed to get home directory: %v", err)
		a.sendBrowseResponse("", nil, "Failed to get home directory")
		return
	}

	cleanPath := filepath.Clean(browsePath)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		log.Printf("Failed to resolve path: %v", err)
		a.sendBrowseResponse("", nil, "Invalid path")
		return
	}

	absHomeDir, _ := filepath.Abs(homeDir)
	if !strings.HasPrefix(absPath, absHomeDir) {
		log.Printf("⚠️ Attempted to browse outside home directory: %s", absPath)
		a.sendBrowseResponse("", nil, "Access denied: can only browse within your home directory")
		return
	}

	fileInfo, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Path does not exist: %s", absPath)
			a.sendBrowseResponse("", nil, fmt.Sprintf("Path does not exist: %s", absPath))
		} else {
			log.Printf("Failed to stat path: %v", err)
			a.sendBrowseResponse("", nil, fmt.Sprintf("Failed to access path: %v", err))
		}
		return
	}

	if !fileInfo.IsDir() {
		log.Printf("Path is not a directory: %s", absPath)
		a.sendBrowseResponse("", nil, "Path is not a directory")
		return
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		log.Printf("Failed to read directory: %v", err)
		a.sendBrowseResponse("", nil, fmt.Sprintf("Failed to read directory: %v", err))
		return
	}

	type DirectoryEntry struct {
		Name  string `json:"name"`
		Path  string `json:"path"`
		IsDir bool   `json:"is_dir"`
	}

	var directories []DirectoryEntry
	skipDirs := map[string]bool{
		"node_modules": true,
		".git":         true,
		".vscode":      true,
		".idea":        true,
		"__pycache__":  true,
		".cache":       true,
	}

	for _, entry := range entries {
		// Skip hidden files/directories
		if entry.Name()[0] == '.' {
			continue
		}
		if skipDirs[entry.Name()] {
			continue
		}

		if entry.IsDir() {
			fullPath := filepath.Join(absPath, entry.Name())
			directories = append(directories, DirectoryEntry{
				Name:  entry.Name(),
				Path:  fullPath,
				IsDir: true,
			})
		}
	}

	log.Printf("✅ Found %d directories in %s", len(directories), absPath)
	a.sendBrowseResponse(absPath, directories, "")
}

// IsFolderApproved checks if a folder path is approved.
func (a *Agent) IsFolderApproved(path string) bool {
	return a.cfg.IsApprovedPath(path)
}

// sendFolderResponse sends a response back to the UI about a folder operation.
func (a *Agent) sendFolderResponse(success bool, message string, folderID string) {
	status := "success"
	if !success {
		status = "error"
	}

	a.sendTo("folder_response", map[string]interface{}{
		"status":    status,
		"message":   message,
		"folder_id": folderID,
	})
	log.Printf("📤 Sent folder response: %s - %s", status, message)
}

// sendBrowseResponse sends directory listing back to the UI.
func (a *Agent) sendBrowseResponse(currentPath string, directories interface{}, errorMessage string) {
	status := "success"
	if errorMessage != "" {
		status = "error"
	}

	a.sendTo("folder_browse_response", map[string]interface{}{
		"status":       status,
		"current_path": currentPath,
		"directories":  directories,
		"error":        errorMessage,
	})
	if status == "success" {
		log.Printf("📤 Sent browse response for: %s", currentPath)
	} else {
		log.Printf("📤 Sent browse error: %s", errorMessage)
	}
}

// sendFolderListUpdate sends the updated folder list to the UI.
func (a *Agent) sendFolderListUpdate() {
	folders := make([]map[string]interface{}, 0, len(a.cfg.ApprovedFolders))

	for _, folder := range a.cfg.ApprovedFolders {
		folders = append(folders, map[string]interface{}{
			"id":   folder.ID,
			"name": folder.Name,
			"path": folder.Path,
		})
	}

	a.sendTo("folder_list", map[string]interface{}{
		"folders":            folders,
		"selected_folder_id": a.cfg.SelectedFolderID,
	})
	log.Printf("📤 Sent folder list to UI (%d folders, selected: %s)",
		len(a.cfg.ApprovedFolders), a.cfg.SelectedFolderID)
}
