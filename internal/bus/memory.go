package bus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// MemoryBus implements Bus with in-process channels.
type MemoryBus struct {
	mu      sync.Mutex
	subs    map[string]map[string]*memorySub
	latched map[string][]byte
	closed  bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

type memorySub struct {
	id    string
	topic string
	ch    chan Message
	bus   *MemoryBus
	once  sync.Once
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:    make(map[string]map[string]*memorySub),
		latched: make(map[string][]byte),
	}
}

// Publish delivers data to every current subscriber of topic.
func (b *MemoryBus) Publish(topic string, data []byte, latched bool) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	msg := Message{Topic: topic, Data: data, Latched: latched}
	if latched {
		b.latched[topic] = data
	}
	for _, sub := range b.subs[topic] {
		b.deliver(sub, msg)
	}
	b.published.Add(1)
	return nil
}

// deliver enqueues msg on sub. Called with b.mu held so the channel cannot
// be closed underneath.
func (b *MemoryBus) deliver(sub *memorySub, msg Message) {
	b.dropped.Add(uint64(pushDropOldest(sub.ch, msg)))
}

// pushDropOldest enqueues msg, evicting queued messages while the channel
// is full. It returns the number evicted.
func pushDropOldest(ch chan Message, msg Message) int {
	dropped := 0
	for {
		select {
		case ch <- msg:
			return dropped
		default:
		}
		select {
		case <-ch:
			dropped++
		default:
		}
	}
}

// Subscribe creates a subscription. If topic has a latched payload it is
// queued immediately.
func (b *MemoryBus) Subscribe(topic string, queueSize int) (Subscription, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{
		id:    uuid.NewString(),
		topic: topic,
		ch:    make(chan Message, queueSize),
		bus:   b,
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*memorySub)
	}
	b.subs[topic][sub.id] = sub

	if data, ok := b.latched[topic]; ok {
		b.deliver(sub, Message{Topic: topic, Data: data, Latched: true})
	}
	return sub, nil
}

// Latched returns the retained payload of topic, if any.
func (b *MemoryBus) Latched(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.latched[topic]
	return data, ok
}

// Close ends all subscriptions.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
		delete(b.subs, topic)
	}
	return nil
}

// MemoryStats reports bus counters.
type MemoryStats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Stats returns a snapshot of the bus counters.
func (b *MemoryBus) Stats() MemoryStats {
	b.mu.Lock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	b.mu.Unlock()
	return MemoryStats{
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}

func (s *memorySub) ID() string               { return s.id }
func (s *memorySub) Topic() string            { return s.topic }
func (s *memorySub) Messages() <-chan Message { return s.ch }

// Unsubscribe removes the subscription and closes its channel.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs, ok := s.bus.subs[s.topic]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.bus.subs, s.topic)
		}
	}
	s.close()
	return nil
}

func (s *memorySub) close() {
	s.once.Do(func() { close(s.ch) })
}
