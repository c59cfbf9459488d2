// Package slot holds the single thumbnail currently on display. Writers
// overwrite it unconditionally, so whichever upload finishes last wins.
package slot

import (
	"sync"
	"time"

	"github.com/phillip-england/badgephoto/internal/matte"
)

type Entry struct {
	Generation uint64       `json:"generation"`
	UpdatedAt  time.Time    `json:"updatedAt"`
	Result     matte.Result `json:"result"`
}

type Slot struct {
	mu     sync.Mutex
	entry  Entry
	filled bool
	subs   map[int]chan Entry
	nextID int
	now    func() time.Time
}

func New() *Slot {
	return &Slot{
		subs: make(map[int]chan Entry),
		now:  time.Now,
	}
}

// Set replaces the displayed result and notifies subscribers. It never blocks
// on a slow subscriber: each subscriber only ever holds the newest entry.
func (s *Slot) Set(result matte.Result) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry = Entry{
		Generation: s.entry.Generation + 1,
		UpdatedAt:  s.now().UTC(),
		Result:     result,
	}
	s.filled = true

	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s.entry
	}
	return s.entry
}

func (s *Slot) Get() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry, s.filled
}

// Subscribe returns a channel of future entries and a cancel func that closes
// it. Cancel is safe to call more than once.
func (s *Slot) Subscribe() (<-chan Entry, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Entry, 1)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Slot) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
