// Package timeline holds the ordered, deduplicated message sequence for one
// order conversation.
//
// The store is the single point where live channel events, paginated history
// pages, and send acknowledgements converge. Deduplication by message id is
// what keeps the merged result deterministic regardless of how those three
// sources interleave.
package timeline

import (
	"sync"

	"github.com/nlanhduy/online-auction-chat/internal/wire"
)

// Store is the authoritative in-memory timeline for a single order.
//
// Ordering is maintained by insertion position, not by re-sorting: history
// pages arrive ordered relative to the existing timeline and live events are
// appended at the tail. A live event whose createdAt is behind the current
// tail (clock skew) is still appended at the tail; arrival order wins for
// live events.
type Store struct {
	mu    sync.RWMutex
	msgs  []wire.Message
	index map[string]int // id -> position in msgs
}

// NewStore returns an empty timeline.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Seed replaces the entire timeline with the given page. Used once, when the
// first history page arrives after the initial join.
func (s *Store) Seed(page []wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = s.msgs[:0]
	s.index = make(map[string]int, len(page))
	for _, m := range page {
		if _, dup := s.index[m.ID]; dup {
			continue
		}
		s.index[m.ID] = len(s.msgs)
		s.msgs = append(s.msgs, m)
	}
}

// PrependOlder inserts a page of strictly older messages at the head,
// preserving ascending order. Messages whose id is already present are
// skipped.
func (s *Store) PrependOlder(page []wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]wire.Message, 0, len(page))
	for _, m := range page {
		if _, dup := s.index[m.ID]; dup {
			continue
		}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return
	}

	s.msgs = append(fresh, s.msgs...)
	s.reindex()
}

// AppendLive inserts a live message at the tail. It reports whether the
// message was actually added; a duplicate id is suppressed, which is how a
// message we just sent ourselves does not show up twice when it echoes back
// through the live stream.
func (s *Store) AppendLive(m wire.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.index[m.ID]; dup {
		return false
	}
	s.index[m.ID] = len(s.msgs)
	s.msgs = append(s.msgs, m)
	return true
}

// MergeRecent applies a re-fetched page 1 after a rejoin. Unlike Seed it
// never drops messages already present; only unknown ids are appended, in
// page order.
func (s *Store) MergeRecent(page []wire.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, m := range page {
		if _, dup := s.index[m.ID]; dup {
			continue
		}
		s.index[m.ID] = len(s.msgs)
		s.msgs = append(s.msgs, m)
		added++
	}
	return added
}

// MarkSenderRead flips IsRead on every message from the given sender. The
// flag never reverses; entries already read are left untouched. Returns the
// number of messages updated.
func (s *Store) MarkSenderRead(senderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for i := range s.msgs {
		if s.msgs[i].SenderID == senderID && !s.msgs[i].IsRead {
			s.msgs[i].IsRead = true
			updated++
		}
	}
	return updated
}

// Messages returns a defensive copy of the timeline in order.
func (s *Store) Messages() []wire.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]wire.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of messages in the timeline.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Contains reports whether a message id is present.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// reindex rebuilds the id index after a head insertion. Callers must hold mu.
func (s *Store) reindex() {
	for i, m := range s.msgs {
		s.index[m.ID] = i
	}
}
