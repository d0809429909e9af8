package payment

import (
	"context"
	"sync"
	"time"
)

// ReplayStore records consumed authorization nonces. Consume must be an
// atomic insert-if-absent: under concurrent presentations of the same
// (payer, nonce) pair exactly one caller wins.
type ReplayStore interface {
	// Consume marks the nonce used. Returns false when it was already
	// consumed. The entry may be dropped once ttl has elapsed — by then the
	// authorization's validity window has passed and the signature check
	// rejects it anyway.
	Consume(ctx context.Context, payer, nonce string, ttl time.Duration) (bool, error)

	// Release re-opens a consumed nonce after a failed settlement so the
	// same authorization can be retried.
	Release(ctx context.Context, payer, nonce string) error

	Close() error
}

// MemoryReplayStore is the default in-process ReplayStore. Suitable for a
// single-instance deployment; multi-instance deployments should use the
// Redis or Postgres store so all instances share one nonce space.
type MemoryReplayStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
	done    chan struct{}
	once    sync.Once
}

// NewMemoryReplayStore creates the store and starts its expiry janitor.
func NewMemoryReplayStore() *MemoryReplayStore {
	s := &MemoryReplayStore{
		entries: make(map[string]time.Time),
		done:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryReplayStore) Consume(_ context.Context, payer, nonce string, ttl time.Duration) (bool, error) {
	key := payer + ":" + nonce
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.entries[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.entries[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryReplayStore) Release(_ context.Context, payer, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, payer+":"+nonce)
	return nil
}

func (s *MemoryReplayStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryReplayStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, expiry := range s.entries {
				if now.After(expiry) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}
