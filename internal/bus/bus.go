// Package bus is the node's publish/subscribe transport.
//
// A Bus moves opaque payloads between topics. Payloads are msgpack-encoded
// messages from internal/msgs. MemoryBus serves a single process; the gRPC
// bridge (BridgeServer, RemoteBus) lets other processes join the same bus.
package bus

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Common errors.
var (
	ErrClosed       = errors.New("bus closed")
	ErrInvalidTopic = errors.New("invalid topic")
)

// DefaultQueueSize is used when Subscribe is called with a queue size < 1.
const DefaultQueueSize = 16

// Message is one payload received on a topic.
type Message struct {
	Topic   string
	Data    []byte
	Latched bool
}

// Bus publishes payloads to topics and hands out subscriptions.
type Bus interface {
	// Publish delivers data to every subscriber of topic. A latched payload
	// is retained and handed to subscribers that join later.
	Publish(topic string, data []byte, latched bool) error

	// Subscribe returns a subscription holding at most queueSize undelivered
	// messages. When the queue is full the oldest message is dropped.
	Subscribe(topic string, queueSize int) (Subscription, error)

	// Close ends every subscription. Further calls return ErrClosed.
	Close() error
}

// Subscription is an active subscription to one topic.
type Subscription interface {
	ID() string
	Topic() string
	// Messages is closed when the subscription ends.
	Messages() <-chan Message
	Unsubscribe() error
}

// ValidateTopic checks that a topic name is usable.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	return nil
}

// Encode serialises a message for the wire.
func Encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

// Decode deserialises msg into v.
func Decode(msg Message, v any) error {
	if err := msgpack.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("decode %T from %s: %w", v, msg.Topic, err)
	}
	return nil
}

// Publisher encodes typed messages onto a Bus.
type Publisher struct {
	bus Bus
}

// NewPublisher returns a Publisher writing to b.
func NewPublisher(b Bus) *Publisher {
	return &Publisher{bus: b}
}

// Publish encodes v and publishes it on topic.
func (p *Publisher) Publish(topic string, v any, latched bool) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	if err := p.bus.Publish(topic, data, latched); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
