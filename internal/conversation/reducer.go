// Package conversation maintains the in-memory message list for a run,
// merging classified stream frames into it with id-keyed identity.
package conversation

import (
	"strings"

	"github.com/helixworks/bioagent-client/internal/domain"
	"github.com/helixworks/bioagent-client/internal/protein"
	"github.com/helixworks/bioagent-client/internal/stream"
)

// Reducer applies classified frames to a conversation. Merges are keyed by
// message id and content-replacing, so re-applying the same messages frame
// (for example after a reconnect replays history) converges to the same
// conversation. Delta frames are the exception: accumulation is
// append-based, so replay protection for deltas must happen at the
// transport level via the step cursor, not here.
type Reducer struct {
	terminalNode  string
	enrichNode    string
	placeholderID string

	answer strings.Builder
}

// NewReducer creates a reducer for one run. placeholderID is the id of the
// empty ai message appended at submit time; terminal deltas accumulate into
// it. enrichNode names the structure-lookup stage whose retrieval context
// is mined for entity names.
func NewReducer(terminalNode, enrichNode, placeholderID string) *Reducer {
	return &Reducer{
		terminalNode:  terminalNode,
		enrichNode:    enrichNode,
		placeholderID: placeholderID,
	}
}

// PlaceholderID returns the id of the run's placeholder message.
func (r *Reducer) PlaceholderID() string { return r.placeholderID }

// Answer returns the accumulated terminal-node answer text so far.
func (r *Reducer) Answer() string { return r.answer.String() }

// Apply merges one frame into the conversation and returns the updated
// list. The returned slice may alias the input. Frames with nothing to
// merge (keepalives, opaque payloads, unknown shapes) leave the
// conversation unchanged.
func (r *Reducer) Apply(conv []domain.Message, f *stream.Frame) []domain.Message {
	switch {
	case f == nil || f.Keepalive:
		return conv
	case len(f.Messages) > 0:
		return r.applyMessages(conv, f)
	case f.HasDelta:
		return r.applyDelta(conv, f)
	}
	return conv
}

func (r *Reducer) applyMessages(conv []domain.Message, f *stream.Frame) []domain.Message {
	for i, wm := range f.Messages {
		if wm.Role == domain.RoleHuman {
			continue
		}
		id := wm.ID
		if id == "" {
			id = domain.NodeMessageID(f.Node, i)
		}

		content := wm.Content
		if f.Node == r.enrichNode {
			content = enrichContent(content, f.Enriched)
		}

		if idx := indexByID(conv, id); idx >= 0 {
			conv[idx].Content = content
			conv[idx].MergeMeta(map[string]any{
				"node":     f.Node,
				"progress": !f.Terminal,
			})
			continue
		}

		msg := domain.Message{ID: id, Role: domain.RoleAI, Content: content}
		msg.SetMeta("node", f.Node)
		msg.SetMeta("progress", !f.Terminal)
		conv = append(conv, msg)
	}
	return r.cleanupPlaceholder(conv)
}

// applyDelta appends terminal-node text to the answer buffer and writes the
// buffer into the placeholder. Deltas from any other node never reach the
// visible transcript; they were already surfaced to progress observers via
// the raw frame.
func (r *Reducer) applyDelta(conv []domain.Message, f *stream.Frame) []domain.Message {
	if !f.Terminal {
		return conv
	}
	r.answer.WriteString(f.Delta)

	if idx := indexByID(conv, r.placeholderID); idx >= 0 {
		conv[idx].Content = r.answer.String()
		conv[idx].MergeMeta(map[string]any{
			"node":     f.Node,
			"progress": false,
		})
		return conv
	}

	msg := domain.Message{ID: r.placeholderID, Role: domain.RoleAI, Content: r.answer.String()}
	msg.SetMeta("node", f.Node)
	msg.SetMeta("progress", false)
	return append(conv, msg)
}

// cleanupPlaceholder drops the still-empty placeholder once any other
// message has visible content, so a finished run never shows an orphaned
// empty bubble.
func (r *Reducer) cleanupPlaceholder(conv []domain.Message) []domain.Message {
	idx := indexByID(conv, r.placeholderID)
	if idx < 0 || conv[idx].Content != "" {
		return conv
	}
	for i := range conv {
		if i != idx && conv[i].Role != domain.RoleHuman && conv[i].Content != "" {
			return append(conv[:idx], conv[idx+1:]...)
		}
	}
	return conv
}

// enrichContent appends the entity names found in the retrieval context to
// the message content as a colon-suffixed, comma-joined list.
func enrichContent(content string, enriched map[string]any) string {
	if enriched == nil {
		return content
	}
	ctx, ok := enriched["context"].(string)
	if !ok || ctx == "" {
		return content
	}
	names := protein.ExtractNames(ctx)
	if len(names) == 0 {
		return content
	}
	base := strings.TrimSuffix(strings.TrimRight(content, " "), ".")
	return base + ": " + strings.Join(names, ", ")
}

func indexByID(conv []domain.Message, id string) int {
	for i := range conv {
		if conv[i].ID == id {
			return i
		}
	}
	return -1
}
