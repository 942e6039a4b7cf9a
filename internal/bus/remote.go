package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultPublishTimeout bounds a single remote Publish call.
const DefaultPublishTimeout = 5 * time.Second

// RemoteBus is a Bus backed by a BridgeServer in another process.
type RemoteBus struct {
	conn    *grpc.ClientConn
	ownConn bool
	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool

	PublishTimeout time.Duration

	mu   sync.Mutex
	subs map[string]*remoteSub
}

// Dial connects to a bridge at target (host:port) without transport
// security. Extra options are appended to the defaults.
func Dial(target string, opts ...grpc.DialOption) (*RemoteBus, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial bus bridge %s: %w", target, err)
	}
	b := NewRemoteBus(conn)
	b.ownConn = true
	return b, nil
}

// NewRemoteBus wraps an existing client connection. The caller keeps
// ownership of conn. Bus calls select the msgpack codec per call, so the
// connection can be shared with protobuf clients such as health checks.
func NewRemoteBus(conn *grpc.ClientConn) *RemoteBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteBus{
		conn:           conn,
		ctx:            ctx,
		cancel:         cancel,
		PublishTimeout: DefaultPublishTimeout,
		subs:           make(map[string]*remoteSub),
	}
}

// Publish forwards data to the bridge.
func (b *RemoteBus) Publish(topic string, data []byte, latched bool) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.PublishTimeout)
	defer cancel()

	req := &PublishRequest{Topic: topic, Data: data, Latched: latched}
	if err := b.conn.Invoke(ctx, publishMethod, req, new(PublishResponse), grpc.CallContentSubtype(CodecName)); err != nil {
		return fromStatus(err)
	}
	return nil
}

// Subscribe opens a Subscribe stream on the bridge. Messages arrive once
// the bridge has registered the stream.
func (b *RemoteBus) Subscribe(topic string, queueSize int) (Subscription, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(b.ctx)
	stream, err := b.conn.NewStream(ctx, &busServiceDesc.Streams[0], subscribeMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		cancel()
		return nil, fromStatus(err)
	}
	if err := stream.SendMsg(&SubscribeRequest{Topic: topic, QueueSize: queueSize}); err != nil {
		cancel()
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fromStatus(err)
	}

	sub := &remoteSub{
		id:     uuid.NewString(),
		topic:  topic,
		ch:     make(chan Message, queueSize),
		cancel: cancel,
		bus:    b,
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go sub.recvLoop(stream)
	return sub, nil
}

// Close cancels every subscription and, for connections opened by Dial,
// closes the connection.
func (b *RemoteBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	b.cancel()
	b.mu.Lock()
	b.subs = make(map[string]*remoteSub)
	b.mu.Unlock()
	if b.ownConn {
		return b.conn.Close()
	}
	return nil
}

type remoteSub struct {
	id     string
	topic  string
	ch     chan Message
	cancel context.CancelFunc
	bus    *RemoteBus
}

func (s *remoteSub) ID() string               { return s.id }
func (s *remoteSub) Topic() string            { return s.topic }
func (s *remoteSub) Messages() <-chan Message { return s.ch }

// Unsubscribe cancels the stream; the message channel closes once the
// receive loop exits.
func (s *remoteSub) Unsubscribe() error {
	s.cancel()
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return nil
}

// recvLoop is the only sender on s.ch.
func (s *remoteSub) recvLoop(stream grpc.ClientStream) {
	defer close(s.ch)
	defer s.cancel()
	for {
		env := new(Envelope)
		if err := stream.RecvMsg(env); err != nil {
			return
		}
		pushDropOldest(s.ch, Message{Topic: env.Topic, Data: env.Data, Latched: env.Latched})
	}
}
