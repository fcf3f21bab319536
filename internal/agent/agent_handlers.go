package agent

import (
	"encoding/json"
	"log"

	ws "github.com/zkw15555506767-boop/CodeNova/internal/websocket"
)

// handleMessage is the main message router for incoming WebSocket messages.
// It dispatches messages to the appropriate handler based on message type.
func (a *Agent) handleMessage(msg *ws.Message) {
	// Skip logging for high-frequency messages to reduce noise
	if msg.Type != ws.MessageTypePresence {
		log.Printf("Handling message of type: %s", msg.Type)
	}

	switch msg.Type {
	// Chat messages
	case ws.MessageTypeChatPrompt:
		a.handleChatPrompt(msg)
	case ws.MessageTypeChatStop:
		a.handleChatStop(msg)

	// Agent session messages
	case ws.MessageTypeAgentPrompt:
		a.handleAgentPrompt(msg)
	case ws.MessageTypeAgentStop:
		a.handleAgentStop(msg)
	case ws.MessageTypePermissionResult:
		a.handlePermissionResult(msg)

	// Folder management messages
	case "folder_sync":
		log.Println("📋 UI requested folder list")
		a.sendFolderListUpdate()
	case "folder_add_request":
		a.handleFolderAddRequest(msg)
	case "folder_remove_request":
		a.handleFolderRemoveRequest(msg)
	case "folder_select":
		a.handleFolderSelectRequest(msg)
	case "browse_folders":
		a.handleBrowseFolders(msg)

	// Session messages
	case "get_external_sessions":
		a.handleGetExternalSessions(msg)
	case "get_session_messages":
		a.handleGetSessionMessages(msg)

	// System messages
	case "error":
		a.handleErrorMessage(msg)
	case "presence":
		a.handlePresenceUpdate(msg)

	default:
		log.Printf("Unknown message type: %s", msg.Type)
	}
}

// handleErrorMessage handles error messages reported by the UI.
func (a *Agent) handleErrorMessage(msg *ws.Message) {
	var payload struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("⚠️ Received error from UI (unparseable payload): %s", string(msg.Payload))
		return
	}

	errorMsg := payload.Error
	if errorMsg == "" {
		errorMsg = payload.Message
	}
	log.Printf("⚠️ Error from UI: %s (code: %s)", errorMsg, payload.Code)
}

// handlePresenceUpdate tracks whether a UI window is listening.
func (a *Agent) handlePresenceUpdate(msg *ws.Message) {
	var payload struct {
		DeviceType string `json:"device_type"`
		Online     bool   `json:"online"`
	}

	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("⚠️ Failed to parse presence payload: %v", err)
		return
	}

	if payload.DeviceType != "ui" {
		return
	}
	// Only log if state actually changed (reduces noise during hot reload)
	if a.uiOnline != payload.Online {
		a.uiOnline = payload.Online
		if payload.Online {
			log.Println("🖥️ UI window connected")
		} else {
			log.Println("🖥️ UI window disconnected")
		}
	}
}

// hasActiveClients returns true if a UI window is connected.
func (a *Agent) hasActiveClients() bool {
	return a.uiOnline
}

// sendTo marshals a payload and sends it as one message to the UI.
func (a *Agent) sendTo(msgType ws.MessageType, payload interface{}) {
	if a.ws == nil {
		return // UI channel not up yet
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal %s payload: %v", msgType, err)
		return
	}
	if err := a.ws.SendMessage(&ws.Message{Type: msgType, Payload: data}); err != nil {
		log.Printf("Failed to send %s: %v", msgType, err)
	}
}
