package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/openfroyo/fedbroker/pkg/engine"
	"github.com/openfroyo/fedbroker/pkg/federation/protocol"
)

// DefaultCallTimeout bounds every federation call.
const DefaultCallTimeout = 10 * time.Second

// ClientConfig configures a Client.
type ClientConfig struct {
	// LocalMember is sent as the sender in insecure mode.
	LocalMember string

	// Peers maps member ids to addresses.
	Peers map[string]string

	// Timeout bounds each call. Zero means DefaultCallTimeout.
	Timeout time.Duration

	// TLS is the client's mutual-TLS configuration. Ignored when Insecure.
	TLS *tls.Config

	// Insecure dials plaintext.
	Insecure bool

	// Recorder is optional.
	Recorder RPCRecorder

	// DialOptions are appended to every dial.
	DialOptions []grpc.DialOption
}

// Client calls other members. Connections are created on first use.
type Client struct {
	cfg    ClientConfig
	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewClient creates a client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) (*Client, error) {
	if !cfg.Insecure && cfg.TLS == nil {
		return nil, fmt.Errorf("TLS configuration is required unless insecure")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	return &Client{
		cfg:    cfg,
		conns:  make(map[string]*grpc.ClientConn),
		tracer: otel.Tracer(tracerName),
		logger: logger.With().Str("component", "federation-client").Logger(),
	}, nil
}

func (c *Client) conn(member string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cc, ok := c.conns[member]; ok {
		return cc, nil
	}
	addr, ok := c.cfg.Peers[member]
	if !ok {
		return nil, engine.NewUnexpectedError(fmt.Sprintf("no address for member %s", member), nil)
	}

	creds := insecure.NewCredentials()
	if !c.cfg.Insecure {
		creds = credentials.NewTLS(c.cfg.TLS)
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}, c.cfg.DialOptions...)

	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, engine.NewUnavailableProviderError(fmt.Sprintf("cannot reach member %s", member), err)
	}
	c.conns[member] = cc
	return cc, nil
}

// Call sends req to member and waits at most the configured timeout. A fault
// in the response is returned as the error it encodes.
func (c *Client) Call(ctx context.Context, member string, req *protocol.Request) (*protocol.Response, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "federation.call/"+string(req.Operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("fed.operation", string(req.Operation)),
			attribute.String("fed.member", member),
		))
	defer span.End()

	resp, err := c.invoke(ctx, member, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	if c.cfg.Recorder != nil {
		c.cfg.Recorder.ObserveRPC("client", string(req.Operation), outcome(resp, err), time.Since(start))
	}
	return resp, err
}

func (c *Client) invoke(ctx context.Context, member string, req *protocol.Request) (*protocol.Response, error) {
	cc, err := c.conn(member)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if c.cfg.Insecure {
		ctx = metadata.AppendToOutgoingContext(ctx, memberHeader, c.cfg.LocalMember)
	}

	resp := new(protocol.Response)
	if err := cc.Invoke(ctx, callMethod, req, resp); err != nil {
		return nil, rpcError(member, err)
	}
	if resp.Fault != nil {
		return nil, protocol.DecodeFault(resp.Fault)
	}
	if resp.RequestID != req.ID {
		return nil, engine.NewUnexpectedError(
			fmt.Sprintf("response for request %s, want %s", resp.RequestID, req.ID), nil)
	}
	return resp, nil
}

// rpcError classifies transport failures. Timeouts and unreachable members
// are UnavailableProvider; nothing is retried here.
func rpcError(member string, err error) error {
	switch status.Code(err) {
	case codes.DeadlineExceeded, codes.Unavailable, codes.Canceled:
		return engine.NewUnavailableProviderError(fmt.Sprintf("member %s unavailable", member), err)
	case codes.Unauthenticated:
		return engine.NewUnauthenticatedError(fmt.Sprintf("member %s rejected our credentials", member), err)
	default:
		return engine.NewUnexpectedError(fmt.Sprintf("call to member %s failed", member), err)
	}
}

// Close closes every connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for member, cc := range c.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, member)
	}
	return firstErr
}
