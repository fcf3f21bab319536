package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/zkw15555506767-boop/CodeNova/internal/api"
	"github.com/zkw15555506767-boop/CodeNova/internal/files"
	ws "github.com/zkw15555506767-boop/CodeNova/internal/websocket"
)

// chatChunkPayload is the wire shape of a chat_chunk message.
type chatChunkPayload struct {
	ConversationID string     `json:"conversation_id"`
	Text           string     `json:"text,omitempty"`
	Full           string     `json:"full,omitempty"`
	Done           bool       `json:"done,omitempty"`
	Usage          *api.Usage `json:"usage,omitempty"`
	CostUSD        float64    `json:"cost_usd,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// handleChatPrompt starts one chat turn against the configured provider.
func (a *Agent) handleChatPrompt(msg *ws.Message) {
	var payload struct {
		ConversationID string `json:"conversation_id"`
		Text           string `json:"text"`
		Attachments    []struct {
			Name string `json:"name"`
			Path string `json:"path"`
		} `json:"attachments,omitempty"`
		Overrides struct {
			APIKey    string `json:"api_key,omitempty"`
			BaseURL   string `json:"base_url,omitempty"`
			Model     string `json:"model,omitempty"`
			System    string `json:"system,omitempty"`
			NoStream  bool   `json:"no_stream,omitempty"`
			MaxTokens int    `json:"max_tokens,omitempty"`
		} `json:"overrides,omitempty"`
	}

	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("Failed to unmarshal chat prompt payload: %v", err)
		return
	}
	if payload.ConversationID == "" {
		log.Println("❌ Chat prompt without conversation_id")
		return
	}

	// Inline attachments the way the UI expects: file contents wrapped
	// in file_context blocks ahead of the user's text
	prompt := payload.Text
	for _, att := range payload.Attachments {
		content, err := files.ReadText(att.Path)
		if err != nil {
			log.Printf("⚠️ Skipping attachment %s: %v", att.Name, err)
			continue
		}
		prompt = fmt.Sprintf("<file_context name=%q>\n%s\n</file_context>\n\n%s", att.Name, content, prompt)
	}
	if strings.TrimSpace(prompt) == "" {
		a.sendChatChunk(chatChunkPayload{ConversationID: payload.ConversationID, Done: true, Error: "Empty prompt"})
		return
	}

	settings := api.Settings{
		APIKey:    a.creds.APIKey,
		BaseURL:   a.creds.BaseURL,
		Model:     a.creds.Model,
		Stream:    !payload.Overrides.NoStream,
		System:    payload.Overrides.System,
		MaxTokens: payload.Overrides.MaxTokens,
	}
	if payload.Overrides.APIKey != "" {
		settings.APIKey = payload.Overrides.APIKey
	}
	if payload.Overrides.BaseURL != "" {
		settings.BaseURL = payload.Overrides.BaseURL
	}
	if payload.Overrides.Model != "" {
		settings.Model = payload.Overrides.Model
	}
	if settings.Model == "" {
		settings.Model = a.cfg.DefaultModel
	}
	if settings.APIKey == "" {
		a.sendChatChunk(chatChunkPayload{ConversationID: payload.ConversationID, Done: true, Error: "No API key configured"})
		return
	}

	conv := a.conversationFor(payload.ConversationID, settings)

	conversationID := payload.ConversationID
	err := conv.StartTurn(context.Background(), prompt, func(chunk api.Chunk) {
		out := chatChunkPayload{
			ConversationID: conversationID,
			Text:           chunk.Text,
			Full:           chunk.Full,
			Done:           chunk.Done,
			Usage:          chunk.Usage,
			CostUSD:        chunk.Cost,
		}
		if chunk.Err != nil {
			out.Error = chunk.Err.Error()
		}
		a.sendChatChunk(out)
	})
	if err != nil {
		log.Printf("❌ Chat turn rejected: %v", err)
		a.sendChatChunk(chatChunkPayload{ConversationID: conversationID, Done: true, Error: err.Error()})
	}
}

// handleChatStop cancels the streaming turn for a conversation. Stopping
// a conversation with nothing in flight is a no-op.
func (a *Agent) handleChatStop(msg *ws.Message) {
	var payload struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("Failed to unmarshal chat stop payload: %v", err)
		return
	}

	a.chatsMu.Lock()
	conv := a.chats[payload.ConversationID]
	a.chatsMu.Unlock()

	if conv == nil {
		log.Printf("⚠️ Chat stop for unknown conversation: %s", payload.ConversationID)
		return
	}
	log.Printf("🛑 Cancelling chat turn: %s", payload.ConversationID)
	conv.Cancel()
}

// conversationFor returns the existing conversation or creates one with
// the given settings. Provider settings are fixed for the lifetime of a
// conversation; the UI starts a new conversation to switch providers.
func (a *Agent) conversationFor(conversationID string, settings api.Settings) *api.Conversation {
	a.chatsMu.Lock()
	defer a.chatsMu.Unlock()

	if conv, ok := a.chats[conversationID]; ok {
		return conv
	}
	conv := api.NewConversation(a.apiClient, settings, nil)
	a.chats[conversationID] = conv
	return conv
}

func (a *Agent) sendChatChunk(payload chatChunkPayload) {
	a.sendTo(ws.MessageTypeChatChunk, payload)
}
