package bus

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/trajectory.follower/internal/monitoring"
)

// ServiceName is the fully qualified gRPC service name of the bridge.
const ServiceName = "trajectoryfollower.bus.v1.Bus"

const (
	publishMethod   = "/" + ServiceName + "/Publish"
	subscribeMethod = "/" + ServiceName + "/Subscribe"
)

// PublishRequest is the bridge Publish call.
type PublishRequest struct {
	Topic   string `msgpack:"topic"`
	Data    []byte `msgpack:"data"`
	Latched bool   `msgpack:"latched"`
}

// PublishResponse is empty; errors travel as gRPC status.
type PublishResponse struct{}

// SubscribeRequest opens a server stream of Envelopes for one topic.
type SubscribeRequest struct {
	Topic     string `msgpack:"topic"`
	QueueSize int    `msgpack:"queue_size"`
}

// Envelope carries one message on a Subscribe stream.
type Envelope struct {
	Topic   string `msgpack:"topic"`
	Data    []byte `msgpack:"data"`
	Latched bool   `msgpack:"latched"`
}

// BusService is the server-side interface of the bridge.
type BusService interface {
	Publish(context.Context, *PublishRequest) (*PublishResponse, error)
	Subscribe(*SubscribeRequest, grpc.ServerStream) error
}

var busServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BusService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "internal/bus/bridge.go",
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PublishRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BusService).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BusService).Publish(ctx, req.(*PublishRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BusService).Subscribe(in, stream)
}

// Ensure BridgeServer implements the service interface.
var _ BusService = (*BridgeServer)(nil)

// BridgeServer exposes a Bus over gRPC together with the standard health
// service.
type BridgeServer struct {
	bus    Bus
	server *grpc.Server
	health *health.Server

	streams atomic.Int64
}

// NewBridgeServer registers the bus and health services on a new gRPC
// server.
func NewBridgeServer(b Bus, opts ...grpc.ServerOption) *BridgeServer {
	s := &BridgeServer{
		bus:    b,
		server: grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	s.server.RegisterService(&busServiceDesc, s)
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *BridgeServer) Serve(lis net.Listener) error {
	monitoring.Logf("[Bridge] gRPC bus bridge listening on %s", lis.Addr())
	return s.server.Serve(lis)
}

// SetServing flips the reported health status.
func (s *BridgeServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !serving {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Stop marks the server not serving and closes all connections. Open
// Subscribe streams are cancelled.
func (s *BridgeServer) Stop() {
	s.health.Shutdown()
	s.server.Stop()
	monitoring.Logf("[Bridge] gRPC bus bridge stopped")
}

// ActiveStreams returns the number of open Subscribe streams.
func (s *BridgeServer) ActiveStreams() int64 {
	return s.streams.Load()
}

// Publish implements BusService.
func (s *BridgeServer) Publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error) {
	if err := s.bus.Publish(req.Topic, req.Data, req.Latched); err != nil {
		return nil, toStatus(err)
	}
	return &PublishResponse{}, nil
}

// Subscribe implements BusService. The stream ends when the client goes
// away or the underlying subscription closes.
func (s *BridgeServer) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	sub, err := s.bus.Subscribe(req.Topic, req.QueueSize)
	if err != nil {
		return toStatus(err)
	}
	defer sub.Unsubscribe()

	s.streams.Add(1)
	defer s.streams.Add(-1)
	monitoring.Logf("[Bridge] subscriber %s joined %s", sub.ID(), req.Topic)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			env := &Envelope{Topic: msg.Topic, Data: msg.Data, Latched: msg.Latched}
			if err := stream.SendMsg(env); err != nil {
				return fmt.Errorf("send to subscriber %s: %w", sub.ID(), err)
			}
		}
	}
}

func toStatus(err error) error {
	switch err {
	case ErrClosed:
		return status.Error(codes.Unavailable, err.Error())
	case ErrInvalidTopic:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func fromStatus(err error) error {
	switch status.Code(err) {
	case codes.Unavailable:
		return fmt.Errorf("%w: %v", ErrClosed, err)
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	default:
		return err
	}
}
