// Package memory provides an in-memory ThreadStore for tests and
// ephemeral sessions.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/helixworks/bioagent-client/internal/domain"
	"github.com/helixworks/bioagent-client/internal/storage"
)

// Store is an in-memory implementation of storage.ThreadStore.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*domain.Thread
}

var _ storage.ThreadStore = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{threads: make(map[string]*domain.Thread)}
}

func (s *Store) GetThread(_ context.Context, id string) (*domain.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyThread(t), nil
}

func (s *Store) UpsertThread(_ context.Context, thread *domain.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyThread(thread)
	now := time.Now()
	if existing, ok := s.threads[thread.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.threads[thread.ID] = stored
	return nil
}

func (s *Store) ListThreads(_ context.Context) ([]*domain.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, copyThread(t))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) DeleteThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.threads, id)
	return nil
}

// copyThread deep-copies a thread so callers cannot mutate stored state.
func copyThread(t *domain.Thread) *domain.Thread {
	out := *t
	out.Messages = domain.CopyMessages(t.Messages)
	if t.Metadata != nil {
		out.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
