package history

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
)

// Fetcher reads a snapshot from the durable store.
type Fetcher interface {
	Fetch(ctx context.Context, threadID string) (Snapshot, error)
}

// Service serves snapshots from a chain of caches, fastest first, and falls
// back to the fetcher. A stale snapshot is dropped, not refetched; the next
// Load pays for the fetch.
type Service struct {
	fetcher Fetcher
	caches  []Cache
}

func NewService(fetcher Fetcher, caches ...Cache) *Service {
	return &Service{fetcher: fetcher, caches: caches}
}

func (s *Service) Load(ctx context.Context, threadID string) (Snapshot, error) {
	if threadID == "" {
		return Snapshot{}, errors.New("history: thread id required")
	}
	for i, c := range s.caches {
		if snap, ok := c.Get(ctx, threadID); ok {
			// backfill the faster tiers
			for _, faster := range s.caches[:i] {
				faster.Put(ctx, snap)
			}
			return snap, nil
		}
	}

	snap, err := s.fetcher.Fetch(ctx, threadID)
	if errors.Is(err, ErrNotFound) {
		// a thread the backend has not seen yet starts empty
		return Snapshot{ThreadID: threadID}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	for _, c := range s.caches {
		c.Put(ctx, snap)
	}
	return snap, nil
}

// MarkStale drops threadID from every cache tier.
func (s *Service) MarkStale(threadID string) {
	ctx := context.Background()
	for _, c := range s.caches {
		c.Invalidate(ctx, threadID)
	}
	log.WithField("thread_id", threadID).Debug("history marked stale")
}
