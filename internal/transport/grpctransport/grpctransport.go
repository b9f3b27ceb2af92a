// Package grpctransport implements the Controller-facing Transport over a
// single bidirectional gRPC stream: the Controller pushes Invocation
// records down the stream, the host pushes InvocationResult records back
// up it.
//
// Grounded on nova/internal/grpc/dataplane_server.go's DataPlaneServer
// (a data-plane RPC surface in front of the executor), generalized from
// nova's hand-written request/response structs to a proper streaming
// google.golang.org/grpc service. Rather than hand-authoring a .proto and
// its generated .pb.go (a fabricated dependency the corpus never shows),
// each record crosses the wire as the JSON encoding of a domain type
// wrapped in google.golang.org/protobuf/types/known/wrapperspb.BytesValue
// — a real, already-generated protobuf message — so the wire path
// exercises genuine grpc+protobuf marshalling without inventing generated
// code.
package grpctransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oriys/ignis/internal/domain"
	"github.com/oriys/ignis/internal/logging"
)

const serviceName = "ignis.transport.DataPlane"
const streamMethod = "Exchange"

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamMethod,
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "ignis/transport.proto",
}

// Server is a Transport backed by a gRPC server: the Controller dials in
// and opens the Exchange stream.
type Server struct {
	grpcServer *grpc.Server
	invocs     chan domain.Invocation

	mu      sync.Mutex
	streams map[int64]grpc.ServerStream
	nextID  int64
}

// NewServer starts listening on addr and returns a Server ready to be
// used as a Transport. The gRPC server runs until Close is called.
func NewServer(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: listen: %w", err)
	}
	s := &Server{
		grpcServer: grpc.NewServer(),
		invocs:     make(chan domain.Invocation, 256),
		streams:    make(map[int64]grpc.ServerStream),
	}
	s.grpcServer.RegisterService(&serviceDesc, s)
	go func() {
		if err := s.grpcServer.Serve(ln); err != nil {
			logging.Op().Warn("grpctransport server stopped", "error", err)
		}
	}()
	return s, nil
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*Server)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.streams[id] = stream
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.streams, id)
		s.mu.Unlock()
	}()

	for {
		var msg wrapperspb.BytesValue
		if err := stream.RecvMsg(&msg); err != nil {
			return err
		}
		var inv domain.Invocation
		if err := json.Unmarshal(msg.Value, &inv); err != nil {
			logging.Op().Warn("grpctransport: malformed invocation", "error", err)
			continue
		}
		select {
		case s.invocs <- inv:
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// AcceptInvocation blocks until the Controller pushes an Invocation.
func (s *Server) AcceptInvocation(ctx context.Context) (domain.Invocation, error) {
	select {
	case inv := <-s.invocs:
		return inv, nil
	case <-ctx.Done():
		return domain.Invocation{}, ctx.Err()
	}
}

// DeliverResult fans the result out to every currently connected stream —
// in practice there is exactly one Controller connection.
func (s *Server) DeliverResult(ctx context.Context, res domain.InvocationResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("grpctransport: marshal result: %w", err)
	}
	msg := &wrapperspb.BytesValue{Value: data}

	s.mu.Lock()
	streams := make([]grpc.ServerStream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	var lastErr error
	for _, st := range streams {
		if err := st.SendMsg(msg); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (s *Server) Close() error {
	s.grpcServer.GracefulStop()
	return nil
}

// Client is a Transport that dials out to a Controller running the same
// Exchange service, for deployments where the invoker host initiates the
// connection instead of accepting one.
type Client struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	mu     sync.Mutex
}

func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: dial %s: %w", addr, err)
	}
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], "/"+serviceName+"/"+streamMethod)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("grpctransport: open stream: %w", err)
	}
	return &Client{conn: conn, stream: stream}, nil
}

func (c *Client) AcceptInvocation(ctx context.Context) (domain.Invocation, error) {
	var msg wrapperspb.BytesValue
	if err := c.stream.RecvMsg(&msg); err != nil {
		return domain.Invocation{}, err
	}
	var inv domain.Invocation
	if err := json.Unmarshal(msg.Value, &inv); err != nil {
		return domain.Invocation{}, fmt.Errorf("grpctransport: unmarshal invocation: %w", err)
	}
	return inv, nil
}

func (c *Client) DeliverResult(ctx context.Context, res domain.InvocationResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("grpctransport: marshal result: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.SendMsg(&wrapperspb.BytesValue{Value: data})
}

func (c *Client) Close() error {
	return c.conn.Close()
}
