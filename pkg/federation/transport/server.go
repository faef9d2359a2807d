package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"github.com/openfroyo/fedbroker/pkg/federation/protocol"
)

const tracerName = "github.com/openfroyo/fedbroker/pkg/federation/transport"

// RPCRecorder observes federation calls. Outcome is "ok" or the fault condition.
type RPCRecorder interface {
	ObserveRPC(side, op, outcome string, d time.Duration)
}

// outcome names the result of a call for metrics.
func outcome(resp *protocol.Response, err error) string {
	switch {
	case err != nil:
		return string(protocol.EncodeError(err).Condition)
	case resp != nil && resp.Fault != nil:
		return string(resp.Fault.Condition)
	default:
		return "ok"
	}
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// TLS is the server's mutual-TLS configuration. Ignored when Insecure.
	TLS *tls.Config

	// Insecure serves plaintext and takes the sender from the x-fed-member
	// header. Development only.
	Insecure bool

	// Recorder is optional.
	Recorder RPCRecorder
}

// Server accepts federation calls and hands them to a Handler.
type Server struct {
	grpc     *grpc.Server
	handler  Handler
	insecure bool
	recorder RPCRecorder
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// NewServer creates a server. Without Insecure a TLS configuration is required.
func NewServer(handler Handler, cfg ServerConfig, logger zerolog.Logger, opts ...grpc.ServerOption) (*Server, error) {
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	if !cfg.Insecure {
		if cfg.TLS == nil {
			return nil, fmt.Errorf("TLS configuration is required unless insecure")
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(cfg.TLS)))
	}

	s := &Server{
		grpc:     grpc.NewServer(opts...),
		handler:  handler,
		insecure: cfg.Insecure,
		recorder: cfg.Recorder,
		tracer:   otel.Tracer(tracerName),
		logger:   logger.With().Str("component", "federation-server").Logger(),
	}
	s.grpc.RegisterService(&serviceDesc, s)
	return s, nil
}

// Serve accepts connections on lis until Stop or GracefulStop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("address", lis.Addr().String()).Bool("insecure", s.insecure).Msg("Federation server listening")
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("federation server failed: %w", err)
	}
	return nil
}

// GracefulStop waits for in-flight calls and stops.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
}

// Stop closes every connection immediately.
func (s *Server) Stop() {
	s.grpc.Stop()
}

func (s *Server) call(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	start := time.Now()
	req.Sender = s.senderFrom(ctx)

	ctx, span := s.tracer.Start(ctx, "federation.serve/"+string(req.Operation),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("fed.operation", string(req.Operation)),
			attribute.String("fed.sender", req.Sender),
		))
	defer span.End()

	resp := s.handler.Handle(ctx, req)
	if resp == nil {
		resp = protocol.Failure(req.ID, &protocol.Fault{Condition: protocol.ConditionUndefined, Message: "no response"})
	}
	if resp.Fault != nil {
		span.SetAttributes(attribute.String("fed.fault", string(resp.Fault.Condition)))
	}
	if s.recorder != nil {
		s.recorder.ObserveRPC("server", string(req.Operation), outcome(resp, nil), time.Since(start))
	}
	return resp, nil
}

// senderFrom returns the authenticated member behind the call: the common
// name of the verified client certificate, or in insecure mode the
// x-fed-member header. It returns "" when neither is available.
func (s *Server) senderFrom(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok {
		if info, ok := p.AuthInfo.(credentials.TLSInfo); ok {
			if chains := info.State.VerifiedChains; len(chains) > 0 && len(chains[0]) > 0 {
				return chains[0][0].Subject.CommonName
			}
			return ""
		}
	}
	if !s.insecure {
		return ""
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(memberHeader); len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
