package stream

import (
	"encoding/json"
	"strings"

	"github.com/helixworks/bioagent-client/internal/domain"
)

// DefaultNode is the node label used when a frame carries no attribution.
const DefaultNode = "agent"

// WireMessage is one message as it appears inside a frame's messages array,
// normalized to the client's role vocabulary.
type WireMessage struct {
	ID      string
	Role    domain.Role
	Content string
}

// Frame is one classified unit of the wire protocol. Exactly one of
// Messages / Delta / Keepalive / opaque Raw is meaningful; Node and
// Terminal are always resolved.
type Frame struct {
	// Node is the pipeline stage that produced the frame.
	Node string
	// Terminal is true when Node is the stage that emits the user-facing
	// final answer.
	Terminal bool

	// Messages holds a complete message list when the frame carried one.
	Messages []WireMessage
	// Delta holds an incremental text fragment; HasDelta distinguishes an
	// empty delta from no delta.
	Delta    string
	HasDelta bool

	// Enriched carries the side-channel fields of a node-wrapped payload
	// (aggregated usage, retrieval context).
	Enriched map[string]any
	// Payload is the decoded JSON object, when the line parsed as one.
	Payload map[string]any
	// Raw is the original line, kept for progress observers.
	Raw string

	// Step is the server-assigned step number for resumable runs; HasStep
	// is false for frames without one.
	Step    int
	HasStep bool

	// Keepalive marks a frame with no semantic payload.
	Keepalive bool
}

// Classifier labels decoded lines. It keeps one line of lookahead state:
// an "event:" line sets the pending event name used to attribute the next
// payload line when that payload names no node itself. The pending name is
// consumed by that one line; it never leaks onto later frames.
type Classifier struct {
	terminalNode string
	pendingEvent string
}

// NewClassifier creates a classifier with the given terminal node name.
func NewClassifier(terminalNode string) *Classifier {
	return &Classifier{terminalNode: terminalNode}
}

// Classify decodes one line into a Frame, or nil when the line carries
// nothing to process (blank lines, "event:" control markers). Malformed
// payloads never fail classification; they come back as opaque frames.
func (c *Classifier) Classify(line string) *Frame {
	line = strings.TrimRight(line, " \t")
	if strings.TrimSpace(line) == "" {
		return nil
	}

	if rest, ok := strings.CutPrefix(line, "event:"); ok {
		name := strings.TrimSpace(rest)
		if name == "ping" {
			// SSE keepalive marker, nothing to attribute.
			c.pendingEvent = ""
			return nil
		}
		c.pendingEvent = name
		return nil
	}

	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		payload := strings.TrimSpace(rest)
		if payload == "" {
			c.pendingEvent = ""
			return nil
		}
		f := c.classifyPayload(payload, line)
		c.pendingEvent = ""
		return f
	}

	f := c.classifyPayload(strings.TrimSpace(line), line)
	c.pendingEvent = ""
	return f
}

// classifyPayload attempts a JSON object parse and falls back to an opaque
// string frame. Parsing is frame-local: a malformed line never aborts the
// stream.
func (c *Classifier) classifyPayload(payload, raw string) *Frame {
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil || obj == nil {
		return &Frame{
			Node: c.resolveNode(nil),
			Raw:  raw,
		}
	}
	return c.classifyObject(obj, raw)
}

func (c *Classifier) classifyObject(obj map[string]any, raw string) *Frame {
	f := &Frame{Payload: obj, Raw: raw}

	if ka, ok := obj["keepalive"].(bool); ok && ka {
		f.Keepalive = true
		return f
	}

	if step, ok := asInt(obj["step"]); ok {
		f.Step = step
		f.HasStep = true
	}

	node := c.resolveNode(obj)
	body := obj

	// A payload with no top-level messages array but exactly one property
	// whose value is an object with a messages array names the node itself;
	// that inner object is the enriched node data.
	if _, ok := obj["messages"].([]any); !ok {
		if key, inner, ok := singleWrappedNode(obj); ok {
			node = key
			body = inner
			f.Enriched = inner
		}
	}

	f.Node = node
	f.Terminal = node == c.terminalNode

	if msgs, ok := body["messages"].([]any); ok {
		f.Messages = decodeWireMessages(msgs)
		return f
	}

	if delta, ok := ExtractDelta(obj); ok {
		f.Delta = delta
		f.HasDelta = true
	}
	return f
}

// resolveNode picks the node label in precedence order: an explicit node
// field, the event field, metadata.node, the pending "event:" line, then
// the generic default.
func (c *Classifier) resolveNode(obj map[string]any) string {
	if obj != nil {
		if n, ok := obj["node"].(string); ok && n != "" {
			return n
		}
		if n, ok := obj["event"].(string); ok && n != "" {
			return n
		}
		if meta, ok := obj["metadata"].(map[string]any); ok {
			if n, ok := meta["node"].(string); ok && n != "" {
				return n
			}
		}
	}
	if c.pendingEvent != "" {
		return c.pendingEvent
	}
	return DefaultNode
}

// singleWrappedNode detects the {"<node>": {"messages": [...], ...}} shape.
func singleWrappedNode(obj map[string]any) (string, map[string]any, bool) {
	var (
		key   string
		inner map[string]any
		found int
	)
	for k, v := range obj {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := m["messages"].([]any); !ok {
			continue
		}
		key, inner = k, m
		found++
	}
	if found != 1 {
		return "", nil, false
	}
	return key, inner, true
}

func decodeWireMessages(msgs []any) []WireMessage {
	out := make([]WireMessage, 0, len(msgs))
	for _, item := range msgs {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		wm := WireMessage{Role: wireRole(m)}
		if id, ok := m["id"].(string); ok {
			wm.ID = id
		}
		if content, ok := ExtractDelta(m); ok {
			wm.Content = content
		}
		out = append(out, wm)
	}
	return out
}

// wireRole normalizes the role vocabulary the backend uses ("type" in
// LangGraph-style payloads, "role" elsewhere) to the client's roles.
func wireRole(m map[string]any) domain.Role {
	role, _ := m["type"].(string)
	if role == "" {
		role, _ = m["role"].(string)
	}
	switch role {
	case "human", "user":
		return domain.RoleHuman
	case "system":
		return domain.RoleSystem
	default:
		return domain.RoleAI
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
