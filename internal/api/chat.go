package api

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
)

// ErrTurnActive is returned when a turn is started while the previous
// one is still streaming.
var ErrTurnActive = errors.New("a turn is already streaming")

// Chunk is one update delivered to a turn handler. Exactly one terminal
// chunk (Done true) is delivered per turn, on every path including
// cancellation and transport failure.
type Chunk struct {
	Text  string // incremental delta, empty on the terminal chunk
	Full  string // everything accumulated so far
	Done  bool
	Usage *Usage  // set on the terminal chunk when the provider reported it
	Cost  float64 // advisory running cost for the conversation, terminal only
	Err   error   // set when the turn failed; never set for cancellation
}

// TurnHandler receives chunks on the turn's own goroutine. Handlers must
// not block for long; they are on the stream's critical path.
type TurnHandler func(Chunk)

// Conversation owns the message history and lifecycle of one chat
// thread: at most one streaming turn at a time, running token totals,
// and an advisory cost figure.
type Conversation struct {
	client   *Client
	settings Settings
	rates    RateTable

	mu       sync.Mutex
	messages []Message
	totals   Usage
	costUSD  float64
	cancel   context.CancelFunc
}

// NewConversation builds a conversation against one provider. A nil rate
// table falls back to DefaultRates.
func NewConversation(client *Client, settings Settings, rates RateTable) *Conversation {
	if rates == nil {
		rates = DefaultRates
	}
	return &Conversation{client: client, settings: settings, rates: rates}
}

// StartTurn appends the user message and streams the assistant reply,
// delivering chunks to handler from a background goroutine. It returns
// ErrTurnActive when called while a previous turn is still in flight.
func (c *Conversation) StartTurn(ctx context.Context, userText string, handler TurnHandler) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrTurnActive
	}
	c.messages = append(c.messages, Message{Role: "user", Content: userText})
	history := make([]Message, len(c.messages))
	copy(history, c.messages)

	turnCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.runTurn(turnCtx, history, handler)
	return nil
}

// Cancel aborts the in-flight turn, if any. The partial reply survives
// and the turn finalizes without error.
func (c *Conversation) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Streaming reports whether a turn is currently in flight.
func (c *Conversation) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Messages returns a copy of the full history, including any assistant
// reply finalized so far.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Totals returns the running token totals and advisory cost across all
// finished turns.
func (c *Conversation) Totals() (Usage, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals, c.costUSD
}

func (c *Conversation) runTurn(ctx context.Context, history []Message, handler TurnHandler) {
	var content strings.Builder
	var usage Usage
	sawUsage := false

	finalize := func(turnErr error) {
		c.mu.Lock()
		if content.Len() > 0 || turnErr == nil {
			c.messages = append(c.messages, Message{Role: "assistant", Content: content.String()})
		}
		if sawUsage {
			c.totals.InputTokens += usage.InputTokens
			c.totals.OutputTokens += usage.OutputTokens
			c.costUSD += c.rates.Estimate(c.settings.Model, usage)
		}
		cost := c.costUSD
		c.cancel = nil
		c.mu.Unlock()

		terminal := Chunk{Full: content.String(), Done: true, Cost: cost, Err: turnErr}
		if sawUsage {
			u := usage
			terminal.Usage = &u
		}
		handler(terminal)
	}

	resp, err := c.client.send(ctx, c.settings, history)
	if err != nil {
		if ctx.Err() != nil {
			finalize(nil)
			return
		}
		finalize(err)
		return
	}
	defer resp.Body.Close()

	if !c.settings.Stream {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			if ctx.Err() != nil {
				finalize(nil)
				return
			}
			finalize(err)
			return
		}
		text, u, err := parseFullResponse(DetectDialect(c.settings.BaseURL, c.settings.Model), raw)
		if err != nil {
			finalize(err)
			return
		}
		content.WriteString(text)
		usage, sawUsage = u, true
		handler(Chunk{Text: text, Full: text})
		finalize(nil)
		return
	}

	decoder := NewDecoder(DetectDialect(c.settings.BaseURL, c.settings.Model))
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range decoder.Feed(buf[:n]) {
				switch ev.Kind {
				case EventText:
					content.WriteString(ev.Text)
					handler(Chunk{Text: ev.Text, Full: content.String()})
				case EventUsage:
					usage, sawUsage = ev.Usage, true
				case EventDone:
					finalize(nil)
					return
				}
			}
		}
		if readErr != nil {
			for _, ev := range decoder.Close() {
				if ev.Kind == EventUsage {
					usage, sawUsage = ev.Usage, true
				}
			}
			if errors.Is(readErr, io.EOF) || ctx.Err() != nil {
				finalize(nil)
				return
			}
			log.Printf("chat stream ended early: %v", readErr)
			finalize(readErr)
			return
		}
	}
}
