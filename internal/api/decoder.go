package api

import (
	"bytes"
	"encoding/json"
	"strings"
)

// EventKind classifies a normalized stream event.
type EventKind int

const (
	// EventText carries an incremental piece of assistant text.
	EventText EventKind = iota
	// EventUsage carries a cumulative token snapshot. Snapshots replace
	// earlier ones; they are never summed.
	EventUsage
	// EventDone marks the provider's end-of-stream frame.
	EventDone
)

// Event is one normalized occurrence decoded from the wire, independent
// of which dialect produced it.
type Event struct {
	Kind  EventKind
	Text  string
	Usage Usage
}

// Decoder turns raw stream bytes into normalized events. Feed it chunks
// exactly as they arrive from the network; it keeps the trailing partial
// line between calls, so chunk boundaries never change the output.
//
// Frames that fail to parse are skipped. Transport delivery is not the
// place to fail a whole turn over one bad frame; degraded output beats
// a dead stream.
type Decoder struct {
	dialect Dialect
	buf     []byte
}

// NewDecoder builds a decoder for one turn. Decoders are single-use and
// not safe for concurrent Feed calls.
func NewDecoder(dialect Dialect) *Decoder {
	return &Decoder{dialect: dialect}
}

// Feed consumes the next chunk of stream bytes and returns the events
// completed by it, in arrival order.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]
		if ev, ok := d.decodeLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Close drains any final line the stream ended without terminating.
func (d *Decoder) Close() []Event {
	if len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	if ev, ok := d.decodeLine(line); ok {
		return []Event{ev}
	}
	return nil
}

func (d *Decoder) decodeLine(line []byte) (Event, bool) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" || !strings.HasPrefix(trimmed, "data: ") {
		return Event{}, false
	}
	data := strings.TrimPrefix(trimmed, "data: ")

	// Stream terminators. Some gateways send literal "null" keepalives
	// before the real terminator; those are not events either.
	if data == "[DONE]" {
		return Event{Kind: EventDone}, true
	}
	if data == "null" {
		return Event{}, false
	}

	if d.dialect == DialectAnthropic {
		return decodeAnthropicFrame(data)
	}
	return decodeOpenAIFrame(data)
}

func decodeAnthropicFrame(data string) (Event, bool) {
	var frame struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
		Message struct {
			Usage Usage `json:"usage"`
		} `json:"message"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		return Event{}, false
	}

	switch frame.Type {
	case "content_block_delta":
		if frame.Delta.Type == "text_delta" && frame.Delta.Text != "" {
			return Event{Kind: EventText, Text: frame.Delta.Text}, true
		}
	case "message_start":
		return Event{Kind: EventUsage, Usage: frame.Message.Usage}, true
	case "message_delta":
		return Event{Kind: EventUsage, Usage: frame.Usage}, true
	case "message_stop":
		return Event{Kind: EventDone}, true
	}
	return Event{}, false
}

func decodeOpenAIFrame(data string) (Event, bool) {
	var frame struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		return Event{}, false
	}

	// Usage rides the final frame, usually with an empty choices array.
	if frame.Usage != nil {
		return Event{Kind: EventUsage, Usage: Usage{
			InputTokens:  frame.Usage.PromptTokens,
			OutputTokens: frame.Usage.CompletionTokens,
		}}, true
	}
	if len(frame.Choices) == 0 {
		return Event{}, false
	}
	choice := frame.Choices[0]
	// Some gateways stream non-delta frames with a full message field.
	if text := choice.Delta.Content; text != "" {
		return Event{Kind: EventText, Text: text}, true
	}
	if text := choice.Message.Content; text != "" {
		return Event{Kind: EventText, Text: text}, true
	}
	return Event{}, false
}
