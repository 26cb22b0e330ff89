package domain

import "testing"

func TestWireRole(t *testing.T) {
	cases := []struct {
		role Role
		want string
	}{
		{RoleHuman, "user"},
		{RoleAI, "assistant"},
		{RoleSystem, "system"},
	}
	for _, tc := range cases {
		if got := tc.role.WireRole(); got != tc.want {
			t.Errorf("WireRole(%s) = %q, want %q", tc.role, got, tc.want)
		}
	}
}

func TestMessage_InProgress(t *testing.T) {
	var m Message
	if !m.InProgress() {
		t.Error("empty message should be in progress")
	}

	m.Content = "done"
	if m.InProgress() {
		t.Error("message with content and no flag should not be in progress")
	}

	m.SetMeta("progress", true)
	if !m.InProgress() {
		t.Error("explicit progress flag must win over content")
	}

	m.SetMeta("progress", false)
	if m.InProgress() {
		t.Error("cleared progress flag should settle the message")
	}
}

func TestRunState_ObserveStep(t *testing.T) {
	var s RunState

	// Steps are 1-based; 0 collides with the zero-value cursor.
	if s.ObserveStep(0) {
		t.Error("step 0 must be rejected against a fresh cursor")
	}
	if !s.ObserveStep(1) {
		t.Error("first step should advance the cursor")
	}
	if !s.ObserveStep(3) {
		t.Error("gap forward should advance the cursor")
	}
	if s.ObserveStep(3) {
		t.Error("repeated step must be rejected")
	}
	if s.ObserveStep(2) {
		t.Error("earlier step must be rejected")
	}
	if s.LastStep != 3 {
		t.Errorf("LastStep = %d, want 3", s.LastStep)
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	for _, st := range []RunStatus{RunCompleted, RunFailed, RunCancelled} {
		if !st.Terminal() {
			t.Errorf("%s should be terminal", st)
		}
	}
	for _, st := range []RunStatus{RunPending, RunRunning} {
		if st.Terminal() {
			t.Errorf("%s should not be terminal", st)
		}
	}
}

func TestCopyMessages(t *testing.T) {
	orig := []Message{
		{ID: "a", Role: RoleAI, Content: "x", Metadata: map[string]any{"node": "reflection"}},
		{ID: "b", Role: RoleHuman, Content: "y"},
	}

	dup := CopyMessages(orig)
	dup[0].Metadata["node"] = "changed"
	dup[0].Content = "z"

	if orig[0].Metadata["node"] != "reflection" {
		t.Errorf("copy shares metadata map: %v", orig[0].Metadata)
	}
	if orig[0].Content != "x" {
		t.Errorf("copy shares message content: %q", orig[0].Content)
	}
	if dup[1].Metadata != nil {
		t.Errorf("nil metadata should stay nil, got %v", dup[1].Metadata)
	}
}

func TestNodeMessageID(t *testing.T) {
	if got := NodeMessageID("web_research", 0); got != "web_research-0" {
		t.Errorf("NodeMessageID = %q", got)
	}
	// Same node and index must always yield the same id.
	if NodeMessageID("a", 1) != NodeMessageID("a", 1) {
		t.Error("ids must be stable")
	}
}
