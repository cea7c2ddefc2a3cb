// Package changes fans committed row mutations out to the realtime and gRPC
// feeds.
package changes

import (
	"sync"

	"github.com/dmitrijs2005/bugtracker/internal/server/models"
)

const defaultBuffer = 16

// Broker delivers every published Change to all current subscribers.
// A subscriber whose buffer is full misses the event; listeners treat any
// event as "something changed" so a dropped one is covered by the next.
type Broker struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]chan models.Change
	closed  bool
	dropped uint64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]chan models.Change)}
}

// Subscribe returns a channel of changes and a func that unsubscribes and
// closes it. The channel is also closed by Close.
func (b *Broker) Subscribe() (<-chan models.Change, func()) {
	ch := make(chan models.Change, defaultBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *Broker) Publish(c models.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
			b.dropped++
		}
	}
}

// Subscribers reports how many listeners are attached.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were skipped on full buffers.
func (b *Broker) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close detaches and closes every subscriber channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
