package session

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"palchat/internal/history"
)

// Loader serves persisted history and accepts staleness notices.
type Loader interface {
	Load(ctx context.Context, threadID string) (history.Snapshot, error)
	MarkStale(threadID string)
}

// Manager keeps a single active conversation. Entering another thread leaves
// the current one first, so events of the old thread never reach the new one.
type Manager struct {
	streamer Streamer
	loader   Loader
	opts     Options

	mu     sync.Mutex
	active *Controller
}

func NewManager(streamer Streamer, loader Loader, opts Options) *Manager {
	if opts.Staler == nil && loader != nil {
		opts.Staler = loader
	}
	return &Manager{streamer: streamer, loader: loader, opts: opts}
}

// Enter opens threadID, or a fresh thread when it is empty, seeded from its
// persisted history.
func (m *Manager) Enter(ctx context.Context, threadID string, l Listener) (*Controller, error) {
	m.Leave()

	var snap history.Snapshot
	if threadID != "" && m.loader != nil {
		var err error
		snap, err = m.loader.Load(ctx, threadID)
		if err != nil {
			return nil, err
		}
	}

	c := NewController(threadID, m.streamer, l, m.opts)
	c.Seed(snap)

	m.mu.Lock()
	prev := m.active
	m.active = c
	m.mu.Unlock()
	// a concurrent Enter may have slipped in
	if prev != nil {
		prev.Leave()
	}

	log.WithFields(log.Fields{
		"thread_id": c.ThreadID(),
		"messages":  len(snap.Messages),
		"pending":   snap.PendingInterrupt != nil,
	}).Debug("entered conversation")
	return c, nil
}

func (m *Manager) Active() *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Leave aborts the active conversation's exchange and forgets it.
func (m *Manager) Leave() {
	m.mu.Lock()
	c := m.active
	m.active = nil
	m.mu.Unlock()
	if c != nil {
		c.Leave()
	}
}
