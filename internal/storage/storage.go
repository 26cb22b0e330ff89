// Package storage defines the thread store contract: persistence for
// finished conversations so a thread can be reopened and resubmitted later.
package storage

import (
	"context"
	"errors"

	"github.com/helixworks/bioagent-client/internal/domain"
)

// ErrNotFound is returned when a thread id has no stored thread.
var ErrNotFound = errors.New("thread not found")

// ThreadStore persists conversation threads. Implementations must be safe
// for concurrent use.
type ThreadStore interface {
	// GetThread returns the stored thread, or ErrNotFound.
	GetThread(ctx context.Context, id string) (*domain.Thread, error)

	// UpsertThread creates or replaces a thread. The stored message list is
	// replaced wholesale; merging is the reducer's job, not the store's.
	UpsertThread(ctx context.Context, thread *domain.Thread) error

	// ListThreads returns all threads ordered by most recent update.
	ListThreads(ctx context.Context) ([]*domain.Thread, error)

	// DeleteThread removes a thread. Deleting a missing thread is not an
	// error.
	DeleteThread(ctx context.Context, id string) error
}
