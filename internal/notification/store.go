package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Repository persists the callback subscription across restarts.
type Repository interface {
	// Load returns the stored subscription, or ErrNotFound.
	Load(ctx context.Context) (Subscription, error)

	// Save replaces the stored subscription.
	Save(ctx context.Context, sub Subscription) error

	// Delete removes the stored subscription. Deleting nothing is not an error.
	Delete(ctx context.Context) error
}

// CallbackStore holds the gateway's single callback subscription.
//
// Set replaces the whole slot at once: readers see either the previous
// subscription or the new one, never a mix. A nil repository keeps the
// subscription in memory only.
//
// All public methods are thread-safe.
type CallbackStore struct {
	mu   sync.RWMutex
	sub  *Subscription
	repo Repository
}

// NewCallbackStore creates an empty store backed by repo (may be nil).
func NewCallbackStore(repo Repository) *CallbackStore {
	return &CallbackStore{repo: repo}
}

// Load restores the persisted subscription. A missing row leaves the store empty.
func (s *CallbackStore) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	sub, err := s.repo.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading callback: %w", err)
	}

	s.mu.Lock()
	s.sub = &sub
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the current subscription.
// ok is false when no subscription is set; that is not an error.
func (s *CallbackStore) Get() (sub Subscription, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.sub == nil {
		return Subscription{}, false
	}
	return s.sub.clone(), true
}

// Set replaces the subscription. Callers validate with ParseSubscription
// first. The in-memory slot changes only after the repository accepted it.
func (s *CallbackStore) Set(ctx context.Context, sub Subscription) error {
	stored := sub.clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Save(ctx, stored); err != nil {
			return fmt.Errorf("saving callback: %w", err)
		}
	}
	s.sub = &stored
	return nil
}

// Delete clears the subscription. Returns ErrNotFound when none is set.
func (s *CallbackStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub == nil {
		return ErrNotFound
	}
	if s.repo != nil {
		if err := s.repo.Delete(ctx); err != nil {
			return fmt.Errorf("deleting callback: %w", err)
		}
	}
	s.sub = nil
	return nil
}
