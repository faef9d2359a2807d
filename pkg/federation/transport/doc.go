// Package transport carries federation requests between members over gRPC.
//
// There is a single unary method, /fedbroker.federation.v1.Federation/Call,
// whose messages are protocol.Request and protocol.Response encoded as JSON.
// The receiving side derives the sender from the verified client certificate
// (or, in insecure development mode, from the x-fed-member header); the
// payload is never trusted for identity. Client calls are bounded by a
// timeout, and timeouts or unreachable members surface as
// UnavailableProvider.
package transport
