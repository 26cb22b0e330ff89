package stream

import (
	"reflect"
	"testing"

	"github.com/helixworks/bioagent-client/internal/domain"
)

func TestClassifier_SkipsBlankAndEventLines(t *testing.T) {
	c := NewClassifier("finalize_answer")

	if f := c.Classify(""); f != nil {
		t.Errorf("Classify(\"\") = %+v, want nil", f)
	}
	if f := c.Classify("   "); f != nil {
		t.Errorf("Classify(blank) = %+v, want nil", f)
	}
	if f := c.Classify("event: reflection"); f != nil {
		t.Errorf("Classify(event line) = %+v, want nil", f)
	}
}

func TestClassifier_EventLookahead(t *testing.T) {
	c := NewClassifier("finalize_answer")

	if f := c.Classify("event: web_research"); f != nil {
		t.Fatalf("event line produced frame %+v", f)
	}
	f := c.Classify(`data: {"content":"searching"}`)
	if f == nil {
		t.Fatal("data line produced no frame")
	}
	if f.Node != "web_research" {
		t.Errorf("Node = %q, want web_research (from event lookahead)", f.Node)
	}
	if !f.HasDelta || f.Delta != "searching" {
		t.Errorf("Delta = %q (has=%v), want searching", f.Delta, f.HasDelta)
	}
}

func TestClassifier_EventConsumedByOneLine(t *testing.T) {
	c := NewClassifier("finalize_answer")

	if f := c.Classify("event: finalize_answer"); f != nil {
		t.Fatalf("event line produced frame %+v", f)
	}
	f := c.Classify(`data: {"content":"answer"}`)
	if f == nil || f.Node != "finalize_answer" || !f.Terminal {
		t.Fatalf("attributed frame = %+v, want terminal finalize_answer", f)
	}

	// The lookahead covers exactly one payload line; a later node-less
	// frame falls back to the default instead of staying terminal.
	f = c.Classify(`{"content":"unrelated"}`)
	if f == nil {
		t.Fatal("Classify() = nil")
	}
	if f.Node != DefaultNode {
		t.Errorf("Node = %q, want %q", f.Node, DefaultNode)
	}
	if f.Terminal {
		t.Error("frame after consumed event must not be terminal")
	}
}

func TestClassifier_NodePrecedence(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"explicit node", `{"node":"reflection","event":"other","content":"x"}`, "reflection"},
		{"event field", `{"event":"generate_query","content":"x"}`, "generate_query"},
		{"metadata node", `{"metadata":{"node":"web_research"},"content":"x"}`, "web_research"},
		{"default", `{"content":"x"}`, DefaultNode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier("finalize_answer")
			f := c.Classify(tt.line)
			if f == nil {
				t.Fatal("Classify() = nil")
			}
			if f.Node != tt.want {
				t.Errorf("Node = %q, want %q", f.Node, tt.want)
			}
		})
	}
}

func TestClassifier_TerminalFlag(t *testing.T) {
	c := NewClassifier("finalize_answer")

	f := c.Classify(`{"node":"finalize_answer","content":"X"}`)
	if f == nil || !f.Terminal {
		t.Errorf("terminal node frame not flagged terminal: %+v", f)
	}

	f = c.Classify(`{"node":"reflection","content":"X"}`)
	if f == nil || f.Terminal {
		t.Errorf("non-terminal node frame flagged terminal: %+v", f)
	}
}

func TestClassifier_MessagesArray(t *testing.T) {
	c := NewClassifier("finalize_answer")

	f := c.Classify(`data: {"node":"finalize_answer","messages":[{"id":"m1","type":"ai","content":"Hello"},{"type":"human","content":"hi"}]}`)
	if f == nil {
		t.Fatal("Classify() = nil")
	}
	want := []WireMessage{
		{ID: "m1", Role: domain.RoleAI, Content: "Hello"},
		{Role: domain.RoleHuman, Content: "hi"},
	}
	if !reflect.DeepEqual(f.Messages, want) {
		t.Errorf("Messages = %+v, want %+v", f.Messages, want)
	}
}

func TestClassifier_WrappedNodePayload(t *testing.T) {
	c := NewClassifier("finalize_answer")

	f := c.Classify(`{"reflection": {"messages":[{"type":"ai","content":"thinking"}], "usage": {"total": 12}}}`)
	if f == nil {
		t.Fatal("Classify() = nil")
	}
	if f.Node != "reflection" {
		t.Errorf("Node = %q, want reflection", f.Node)
	}
	if len(f.Messages) != 1 || f.Messages[0].Content != "thinking" {
		t.Errorf("Messages = %+v", f.Messages)
	}
	if f.Enriched == nil {
		t.Fatal("Enriched = nil, want wrapped node data")
	}
	if _, ok := f.Enriched["usage"]; !ok {
		t.Error("Enriched missing side-channel usage field")
	}
}

func TestClassifier_MalformedLineIsOpaque(t *testing.T) {
	c := NewClassifier("finalize_answer")

	f := c.Classify("not json at all")
	if f == nil {
		t.Fatal("malformed line was dropped, want opaque frame")
	}
	if f.Raw != "not json at all" {
		t.Errorf("Raw = %q", f.Raw)
	}
	if len(f.Messages) != 0 || f.HasDelta {
		t.Errorf("opaque frame carries payload: %+v", f)
	}

	// Processing continues unaffected afterwards.
	next := c.Classify(`data: {"node":"finalize_answer","content":"ok"}`)
	if next == nil || next.Delta != "ok" {
		t.Errorf("frame after malformed line = %+v", next)
	}
}

func TestClassifier_MalformedDataPayload(t *testing.T) {
	c := NewClassifier("finalize_answer")

	f := c.Classify("data: {broken json")
	if f == nil {
		t.Fatal("malformed data payload was dropped, want opaque frame")
	}
	if f.HasDelta || len(f.Messages) != 0 {
		t.Errorf("opaque frame carries payload: %+v", f)
	}
}

func TestClassifier_Keepalive(t *testing.T) {
	c := NewClassifier("finalize_answer")

	if f := c.Classify("event: ping"); f != nil {
		t.Errorf("ping event = %+v, want nil", f)
	}
	f := c.Classify(`{"keepalive": true}`)
	if f == nil || !f.Keepalive {
		t.Errorf("keepalive frame = %+v", f)
	}
}

func TestClassifier_StepNumber(t *testing.T) {
	c := NewClassifier("finalize_answer")

	f := c.Classify(`{"step": 7, "node":"finalize_answer", "content":"x"}`)
	if f == nil || !f.HasStep || f.Step != 7 {
		t.Errorf("frame = %+v, want step 7", f)
	}

	f = c.Classify(`{"node":"finalize_answer","content":"x"}`)
	if f == nil || f.HasStep {
		t.Errorf("frame without step reports HasStep: %+v", f)
	}
}
