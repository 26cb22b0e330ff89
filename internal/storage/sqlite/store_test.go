package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/helixworks/bioagent-client/internal/domain"
	"github.com/helixworks/bioagent-client/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	thread := &domain.Thread{
		ID:       "thread_1",
		Title:    "BRCA1 structure",
		Metadata: map[string]string{"model": "gemini-2.5-flash"},
		Messages: []domain.Message{
			{ID: "m1", Role: domain.RoleHuman, Content: "Show me BRCA1"},
			{
				ID: "m2", Role: domain.RoleAI, Content: "Here it is.",
				Metadata: map[string]any{"node": "finalize_answer"},
			},
		},
	}

	if err := store.UpsertThread(ctx, thread); err != nil {
		t.Fatalf("UpsertThread() error = %v", err)
	}

	got, err := store.GetThread(ctx, "thread_1")
	if err != nil {
		t.Fatalf("GetThread() error = %v", err)
	}
	if got.Title != "BRCA1 structure" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.Metadata["model"] != "gemini-2.5-flash" {
		t.Errorf("Metadata = %+v", got.Metadata)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("Messages = %+v", got.Messages)
	}
	if got.Messages[0].Role != domain.RoleHuman || got.Messages[1].Content != "Here it is." {
		t.Errorf("Messages = %+v", got.Messages)
	}
	if node, _ := got.Messages[1].Metadata["node"].(string); node != "finalize_answer" {
		t.Errorf("message metadata = %+v", got.Messages[1].Metadata)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetThread(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetThread() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_UpsertReplacesMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertThread(ctx, &domain.Thread{
		ID:       "t1",
		Messages: []domain.Message{{ID: "m1", Role: domain.RoleHuman, Content: "v1"}},
	}); err != nil {
		t.Fatalf("UpsertThread() error = %v", err)
	}
	if err := store.UpsertThread(ctx, &domain.Thread{
		ID:    "t1",
		Title: "renamed",
		Messages: []domain.Message{
			{ID: "m1", Role: domain.RoleHuman, Content: "v2"},
			{ID: "m2", Role: domain.RoleAI, Content: "answer"},
		},
	}); err != nil {
		t.Fatalf("second UpsertThread() error = %v", err)
	}

	got, err := store.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread() error = %v", err)
	}
	if got.Title != "renamed" {
		t.Errorf("Title = %q", got.Title)
	}
	if len(got.Messages) != 2 || got.Messages[0].Content != "v2" {
		t.Errorf("Messages = %+v, want replaced list", got.Messages)
	}
}

func TestSQLiteStore_ListAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := store.UpsertThread(ctx, &domain.Thread{ID: id}); err != nil {
			t.Fatalf("UpsertThread(%s) error = %v", id, err)
		}
	}

	threads, err := store.ListThreads(ctx)
	if err != nil {
		t.Fatalf("ListThreads() error = %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("ListThreads() returned %d", len(threads))
	}

	if err := store.DeleteThread(ctx, "a"); err != nil {
		t.Fatalf("DeleteThread() error = %v", err)
	}
	if _, err := store.GetThread(ctx, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetThread(deleted) error = %v, want ErrNotFound", err)
	}

	// Cascade removed the messages too; re-inserting works cleanly.
	if err := store.UpsertThread(ctx, &domain.Thread{
		ID:       "a",
		Messages: []domain.Message{{ID: "m1", Role: domain.RoleAI, Content: "x"}},
	}); err != nil {
		t.Errorf("re-insert after delete error = %v", err)
	}
}
