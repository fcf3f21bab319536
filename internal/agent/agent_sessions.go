package agent

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zkw15555506767-boop/CodeNova/internal/watcher"
	ws "github.com/zkw15555506767-boop/CodeNova/internal/websocket"
)

// initSessionWatcher initializes the watcher for external Claude Code sessions.
func (a *Agent) initSessionWatcher() {
	callbacks := watcher.SessionCallbacks{
		OnNewSession:     a.handleExternalSessionDetected,
		OnSessionUpdated: a.handleExternalSessionUpdated,
		OnSessionEnd:     a.handleExternalSessionEnded,
		// Only watch sessions in approved folders
		ShouldWatchProject: func(projectPath string) bool {
			for _, folder := range a.cfg.ApprovedFolders {
				if folder.Path == projectPath {
					return true
				}
			}
			return false
		},
	}

	w, err := watcher.NewWatcher(callbacks)
	if err != nil {
		log.Printf("⚠️ Failed to create session watcher: %v", err)
		return
	}

	a.sessionWatcher = w
	w.Start()
}

// externalSessionPayload builds the wire shape shared by session broadcasts.
func (a *Agent) externalSessionPayload(info *watcher.SessionInfo) map[string]interface{} {
	folderID := ""
	for _, folder := range a.cfg.ApprovedFolders {
		if folder.Path == info.ProjectPath {
			folderID = folder.ID
			break
		}
	}

	return map[string]interface{}{
		"session_id":     info.SessionID,
		"project_path":   info.ProjectPath,
		"folder_id":      folderID,
		"title":          info.Title,
		"model":          info.Model,
		"message_count":  info.MessageCount,
		"total_cost_usd": info.TotalCostUSD,
		"last_activity":  info.LastActivity,
		"is_active":      info.IsRecentlyActive(),
		"status":         info.GetStatus(),
		"source":         "claude_code_cli",
	}
}

// handleExternalSessionDetected is called when a new Claude Code session is found.
func (a *Agent) handleExternalSessionDetected(info *watcher.SessionInfo) {
	if !a.hasActiveClients() {
		log.Printf("📡 New session %s (skipping broadcast - no clients)", info.SessionID)
		return
	}

	log.Printf("📡 Broadcasting new external session: %s", info.SessionID)
	a.sendTo("external_session_detected", a.externalSessionPayload(info))
}

// handleExternalSessionUpdated is called when session metadata changes.
func (a *Agent) handleExternalSessionUpdated(info *watcher.SessionInfo) {
	if !a.hasActiveClients() {
		return
	}

	log.Printf("📊 Session updated: %s (messages: %d, cost: $%.4f)",
		info.SessionID, info.MessageCount, info.TotalCostUSD)
	a.sendTo("external_session_updated", a.externalSessionPayload(info))
}

// handleExternalSessionEnded is called when a session file stops being modified.
func (a *Agent) handleExternalSessionEnded(sessionID string) {
	if !a.hasActiveClients() {
		log.Printf("🏁 Session %s ended (skipping broadcast - no clients)", sessionID)
		return
	}

	log.Printf("🏁 External session ended: %s", sessionID)
	a.sendTo("external_session_ended", map[string]interface{}{
		"session_id": sessionID,
	})
}

// handleGetSessionMessages handles on-demand request for session messages.
func (a *Agent) handleGetSessionMessages(msg *ws.Message) {
	var payload struct {
		SessionID string `json:"session_id"`
		Offset    int    `json:"offset"`
		Limit     int    `json:"limit"`
	}

	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("❌ Failed to parse get_session_messages payload: %v", err)
		return
	}

	if a.sessionWatcher == nil {
		log.Println("⚠️ Session watcher not initialized")
		return
	}

	log.Printf("📥 Fetching messages for session %s (offset: %d, limit: %d)",
		payload.SessionID, payload.Offset, payload.Limit)

	messages, err := a.sessionWatcher.GetSessionMessages(payload.SessionID)
	if err != nil {
		log.Printf("❌ Failed to get session messages: %v", err)
		a.sendSessionMessagesError(payload.SessionID, err.Error())
		return
	}

	// Apply offset and limit
	if payload.Offset > 0 && payload.Offset < len(messages) {
		messages = messages[payload.Offset:]
	}
	if payload.Limit > 0 && payload.Limit < len(messages) {
		messages = messages[:payload.Limit]
	}

	// Convert to serializable format
	messageData := make([]map[string]interface{}, 0, len(messages))
	var pendingTools []string
	var lastToolTimestamp time.Time

	flushTools := func() {
		if len(pendingTools) == 0 {
			return
		}
		var content string
		if len(pendingTools) == 1 {
			content = "🔧 Used: " + pendingTools[0]
		} else if len(pendingTools) <= 3 {
			content = "🔧 Used: " + strings.Join(pendingTools, ", ")
		} else {
			content = fmt.Sprintf("🔧 Used: %s ... and %d more",
				strings.Join(pendingTools[:3], ", "), len(pendingTools)-3)
		}
		messageData = append(messageData, map[string]interface{}{
			"uuid":      fmt.Sprintf("tools-%d", lastToolTimestamp.UnixNano()),
			"type":      "system",
			"role":      "system",
			"content":   content,
			"timestamp": lastToolTimestamp,
		})
		pendingTools = nil
	}

	for _, m := range messages {
		tools := m.GetToolUses()
		if len(tools) > 0 {
			for _, tool := range tools {
				if tool.Name != "" {
					found := false
					for _, pt := range pendingTools {
						if pt == tool.Name {
							found = true
							break
						}
					}
					if !found {
						pendingTools = append(pendingTools, tool.Name)
					}
				}
			}
			lastToolTimestamp = m.Timestamp
		}

		content := m.GetTextContent()
		if content != "" {
			flushTools()
			messageData = append(messageData, map[string]interface{}{
				"uuid":        m.UUID,
				"parent_uuid": m.ParentUUID,
				"type":        m.Type,
				"role":        m.GetRole(),
				"content":     content,
				"model":       m.GetModel(),
				"timestamp":   m.Timestamp,
				"cost_usd":    m.CostUSD,
				"duration_ms": m.DurationMs,
			})
		}
	}

	flushTools()

	a.sendTo("session_messages", map[string]interface{}{
		"session_id":  payload.SessionID,
		"messages":    messageData,
		"total_count": len(messages),
		"offset":      payload.Offset,
		"has_more":    false,
	})

	log.Printf("📤 Sent %d display messages for session %s (from %d raw)", len(messageData), payload.SessionID, len(messages))
}

// sendSessionMessagesError sends an error response for session message requests.
func (a *Agent) sendSessionMessagesError(sessionID, errMsg string) {
	a.sendTo("session_messages", map[string]interface{}{
		"session_id": sessionID,
		"error":      errMsg,
	})
}

// handleGetExternalSessions returns list of detected external sessions.
func (a *Agent) handleGetExternalSessions(msg *ws.Message) {
	if a.sessionWatcher == nil {
		log.Println("⚠️ Session watcher not initialized")
		return
	}

	sessions := a.sessionWatcher.GetSessions()

	pathToFolderID := make(map[string]string)
	for _, folder := range a.cfg.ApprovedFolders {
		pathToFolderID[folder.Path] = folder.ID
	}

	enrichedSessions := make([]map[string]interface{}, 0)
	for _, info := range sessions {
		if _, ok := pathToFolderID[info.ProjectPath]; ok {
			enrichedSessions = append(enrichedSessions, a.externalSessionPayload(info))
		}
	}

	a.sendTo("external_sessions_list", map[string]interface{}{
		"sessions": enrichedSessions,
	})

	log.Printf("📤 Sent %d external sessions (filtered from %d total)", len(enrichedSessions), len(sessions))
}

// sendExternalSessionsList sends a batch of sessions for a specific project folder.
func (a *Agent) sendExternalSessionsList(sessions []*watcher.SessionInfo, projectPath string) {
	if !a.hasActiveClients() {
		log.Printf("📁 Discovered %d sessions for %s (skipping broadcast - no clients)", len(sessions), projectPath)
		return
	}

	var folderID string
	for _, folder := range a.cfg.ApprovedFolders {
		if folder.Path == projectPath {
			folderID = folder.ID
			break
		}
	}

	enrichedSessions := make([]map[string]interface{}, 0, len(sessions))
	for _, info := range sessions {
		enrichedSessions = append(enrichedSessions, a.externalSessionPayload(info))
	}

	a.sendTo("external_sessions_list", map[string]interface{}{
		"sessions":     enrichedSessions,
		"folder_id":    folderID,
		"project_path": projectPath,
		"batch_type":   "folder_add",
	})

	log.Printf("📤 Batch-sent %d sessions for newly added folder %s", len(sessions), projectPath)
}
