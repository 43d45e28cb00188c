package bus

import (
	"sync"
	"sync/atomic"
)

const DefaultSubscriberQueueSize = 256

// Bus fans market events out to subscribers, each draining its own bounded
// queue. Publishing never blocks; a subscriber that falls behind loses
// events, counted in Drops.
type Bus struct {
	mu          sync.Mutex
	subscribers map[uint64]*Subscriber
	nextID      uint64
	drops       uint64
}

// Subscriber is one consumer attached to the bus.
type Subscriber struct {
	id    uint64
	queue *Queue
	bus   *Bus
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[uint64]*Subscriber)}
}

// Subscribe attaches a new subscriber with the given queue capacity.
// capacity <= 0 falls back to DefaultSubscriberQueueSize.
func (b *Bus) Subscribe(capacity int) *Subscriber {
	if capacity <= 0 {
		capacity = DefaultSubscriberQueueSize
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscriber{
		id:    b.nextID,
		queue: NewQueue(capacity),
		bus:   b,
	}
	b.subscribers[sub.id] = sub
	return sub
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.queue.TryPublish(e); err != nil {
			atomic.AddUint64(&b.drops, 1)
		}
	}
}

// Drops reports how many deliveries were lost to full subscriber queues.
func (b *Bus) Drops() uint64 {
	return atomic.LoadUint64(&b.drops)
}

// Queue exposes the subscriber's queue for Run/TryPublish style consumption.
func (s *Subscriber) Queue() *Queue {
	return s.queue
}

// Close detaches the subscriber and closes its queue.
func (s *Subscriber) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subscribers, s.id)
	s.bus.mu.Unlock()
	s.queue.Close()
}
