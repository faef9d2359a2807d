package transport

import (
	"context"

	"google.golang.org/grpc"

	"github.com/openfroyo/fedbroker/pkg/federation/protocol"
)

const (
	serviceName = "fedbroker.federation.v1.Federation"
	callMethod  = "/" + serviceName + "/Call"

	// memberHeader names the sender in insecure mode.
	memberHeader = "x-fed-member"
)

// Handler serves federation requests. Sender is already set on req.
type Handler interface {
	Handle(ctx context.Context, req *protocol.Request) *protocol.Response
}

// federationServer is the type the service descriptor is registered with.
type federationServer interface {
	call(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(protocol.Request)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(federationServer).call(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: callMethod}
	handler := func(ctx context.Context, r any) (any, error) {
		return srv.(federationServer).call(ctx, r.(*protocol.Request))
	}
	return interceptor(ctx, req, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*federationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fedbroker/federation.proto",
}
