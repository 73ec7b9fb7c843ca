package citation

import (
	"reflect"
	"sync"

	"palchat/internal/models"
)

// Snapshot is what subscribers observe after every change.
type Snapshot struct {
	Active      []models.Citation
	Highlighted string
	Expanded    bool
}

// Store is the citation state shared by the message list and the sources
// panel of one conversation.
type Store struct {
	mu          sync.Mutex
	active      []models.Citation
	highlighted string
	expanded    bool
	subs        map[int]func(Snapshot)
	nextSub     int
}

func NewStore() *Store {
	return &Store{subs: make(map[int]func(Snapshot))}
}

func (s *Store) Active() []models.Citation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Citation(nil), s.active...)
}

func (s *Store) Highlighted() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highlighted
}

func (s *Store) Expanded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expanded
}

// SetCitations replaces the active set. A different set drops the highlight
// and expands the panel; an identical one is a no-op.
func (s *Store) SetCitations(citations []models.Citation) {
	s.mu.Lock()
	if reflect.DeepEqual(s.active, citations) || (len(s.active) == 0 && len(citations) == 0) {
		s.mu.Unlock()
		return
	}
	s.active = append([]models.Citation(nil), citations...)
	s.highlighted = ""
	s.expanded = len(citations) > 0
	s.notifyLocked()
}

// SelectGroup replaces the active set with the group's citations and
// highlights it.
func (s *Store) SelectGroup(groupID string, citations []models.Citation) {
	s.mu.Lock()
	s.active = append([]models.Citation(nil), citations...)
	s.highlighted = groupID
	s.expanded = true
	s.notifyLocked()
}

// ClearHighlight keeps the active set and drops the highlight ("view all").
func (s *Store) ClearHighlight() {
	s.mu.Lock()
	if s.highlighted == "" {
		s.mu.Unlock()
		return
	}
	s.highlighted = ""
	s.notifyLocked()
}

func (s *Store) Collapse() {
	s.mu.Lock()
	if !s.expanded {
		s.mu.Unlock()
		return
	}
	s.expanded = false
	s.notifyLocked()
}

// Subscribe registers fn for every later change and returns its cancel func.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// notifyLocked releases the lock before calling subscribers.
func (s *Store) notifyLocked() {
	snap := Snapshot{
		Active:      append([]models.Citation(nil), s.active...),
		Highlighted: s.highlighted,
		Expanded:    s.expanded,
	}
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}
