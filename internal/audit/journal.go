// Package audit keeps a bounded journal of recent mailbox diagnostics so a
// running process can report what its endpoints did without scraping logs.
package audit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
)

// DefaultSize is the journal capacity used when none is given.
const DefaultSize = 256

// Event is one journal entry.
type Event struct {
	Time   time.Time `json:"time"`
	Source string    `json:"source"`
	Kind   string    `json:"kind"`
	Bytes  int       `json:"bytes,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Journal is a fixed-size ring of Events. When full, the oldest entry is
// dropped to make room. A nil *Journal discards everything.
type Journal struct {
	// mu orders compound ring operations so a snapshot puts events back
	// before newer ones arrive.
	mu      sync.Mutex
	rb      *queue.RingBuffer
	dropped atomic.Uint64
	now     func() time.Time
}

// NewJournal returns a journal holding about size events. The ring rounds
// size up to a power of two.
func NewJournal(size uint64) *Journal {
	if size == 0 {
		size = DefaultSize
	}
	return &Journal{
		rb:  queue.NewRingBuffer(size),
		now: time.Now,
	}
}

// Record appends an event without blocking.
func (j *Journal) Record(source, kind string, n int, detail string) {
	if j == nil {
		return
	}
	e := Event{Time: j.now(), Source: source, Kind: kind, Bytes: n, Detail: detail}
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := 0; i < 2; i++ {
		ok, err := j.rb.Offer(e)
		if err != nil || ok {
			return
		}
		// full: evict the oldest and try once more
		if _, err := j.rb.Poll(time.Millisecond); err == nil {
			j.dropped.Add(1)
		}
	}
}

// Drain removes and returns every buffered event, oldest first.
func (j *Journal) Drain() []Event {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.drain()
}

// Snapshot returns every buffered event, oldest first, and keeps them.
func (j *Journal) Snapshot() []Event {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	events := j.drain()
	for _, e := range events {
		if _, err := j.rb.Offer(e); err != nil {
			break
		}
	}
	return events
}

func (j *Journal) drain() []Event {
	n := j.rb.Len()
	events := make([]Event, 0, n)
	for i := uint64(0); i < n; i++ {
		item, err := j.rb.Poll(time.Millisecond)
		if err != nil {
			break
		}
		if e, ok := item.(Event); ok {
			events = append(events, e)
		}
	}
	return events
}

// Len returns the number of buffered events.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return int(j.rb.Len())
}

// Dropped returns how many events were evicted because the ring was full.
func (j *Journal) Dropped() uint64 {
	if j == nil {
		return 0
	}
	return j.dropped.Load()
}

// Close releases the ring. Later Records are ignored.
func (j *Journal) Close() {
	if j == nil {
		return
	}
	j.rb.Dispose()
}
