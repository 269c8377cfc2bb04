// Package events carries the engine's lifecycle announcements: signals
// accepted or vetoed, work items dropped at admission, executions reaching a
// terminal state, credentials entering quarantine.
package events

import "sync"

// Bus fans announcements out to subscribers by topic. Publishing never
// blocks: a subscriber that falls behind loses messages rather than stalling
// the execution path.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[Event]map[uint64]chan any
}

func NewBus() *Bus {
	return &Bus{topics: make(map[Event]map[uint64]chan any)}
}

// Subscribe opens a buffered channel on one topic. The returned cancel
// function detaches and closes the channel; calling it twice is safe.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	ch := make(chan any, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.topics[e] == nil {
		b.topics[e] = make(map[uint64]chan any)
	}
	b.topics[e][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.topics[e], id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the payload to every current subscriber of the topic,
// skipping any whose buffer is full.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.topics[e] {
		select {
		case ch <- payload:
		default:
		}
	}
}
