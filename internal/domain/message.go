// Package domain defines the core data types shared across the streaming
// client: conversation messages, run lifecycle state, and token usage.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

// WireRole maps a Role to the role vocabulary the agent backend expects.
func (r Role) WireRole() string {
	switch r {
	case RoleHuman:
		return "user"
	case RoleAI:
		return "assistant"
	default:
		return string(r)
	}
}

// Message represents one conversation turn. Content may be empty while a
// message is still streaming; Metadata is an open map carrying the source
// node, usage counters, the raw frame, and the progress flag.
type Message struct {
	ID       string         `json:"id"`
	Role     Role           `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// InProgress reports whether the message is still being streamed. A message
// is in progress when it carries the progress flag or has no content yet.
func (m *Message) InProgress() bool {
	if m.Metadata != nil {
		if p, ok := m.Metadata["progress"].(bool); ok {
			return p
		}
	}
	return m.Content == ""
}

// SetMeta sets a metadata key, allocating the map on first use.
func (m *Message) SetMeta(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}

// MergeMeta shallow-merges the given metadata into the message.
func (m *Message) MergeMeta(meta map[string]any) {
	if len(meta) == 0 {
		return
	}
	if m.Metadata == nil {
		m.Metadata = make(map[string]any, len(meta))
	}
	for k, v := range meta {
		m.Metadata[k] = v
	}
}

// CopyMessages deep-copies a message list, metadata maps included, so a
// snapshot never aliases maps the run goroutine is still writing.
func CopyMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	for i := range out {
		meta := messages[i].Metadata
		if meta == nil {
			continue
		}
		m := make(map[string]any, len(meta))
		for k, v := range meta {
			m[k] = v
		}
		out[i].Metadata = m
	}
	return out
}

// NewMessageID generates a unique message id.
func NewMessageID() string {
	return "msg_" + uuid.New().String()
}

// NodeMessageID derives a stable id for a streamed message that arrived
// without one, namespaced by the node that produced it. Stability across
// replays is what makes id-keyed merging idempotent.
func NodeMessageID(node string, index int) string {
	return fmt.Sprintf("%s-%d", node, index)
}
