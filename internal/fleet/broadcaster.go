package fleet

import (
	"sync"

	"github.com/narvanalabs/gpufleet/internal/models"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 64

// Broadcaster fans applied records out to live subscribers.
// Publish never blocks: a subscriber whose queue is full misses the update.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]chan models.WorkerStatus
	nextID uint64
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		subs:   make(map[uint64]chan models.WorkerStatus),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned cancel func closes the
// channel and must be called once the subscriber is done.
func (b *Broadcaster) Subscribe() (<-chan models.WorkerStatus, func()) {
	ch := make(chan models.WorkerStatus, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers rec to every subscriber with room in its queue.
func (b *Broadcaster) Publish(rec models.WorkerStatus) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
