// Package facade is the federation entry point of a member.
//
// Facade implements the operations other members call: activating orders
// this member provides, reading and deleting them, quota and image queries,
// and the instance events a providing member pushes back to the requester.
// Dispatcher adapts federation requests to those operations; the sender of
// a request is always the identity the transport authenticated.
package facade
