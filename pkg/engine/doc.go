// Package engine provides the order-lifecycle core of the federated broker.
//
// # Overview
//
// A member accepts an order on behalf of a user (the requesting member) and the
// order is fulfilled by the cloud of a providing member, which may be the same
// member or a remote one. The engine tracks every order from acceptance to
// garbage collection:
//
//  1. Activate - the order enters the registry OPEN and is persisted
//  2. Dispatch - the OPEN processor asks the provider to create the resource
//  3. Spawn    - locally provided orders are polled until the instance is ready
//  4. Notify   - a provider pushes FULFILLED or FAILED events to remote requesters
//  5. Close    - deletion moves the order to CLOSED; the CLOSED processor releases
//     the instance and deactivates the order
//
// # Core Types
//
//   - Order: identity, members, user, state and a resource-type payload
//   - Payload: tagged union (ComputePayload, NetworkPayload, VolumePayload,
//     AttachmentPayload, PublicIPPayload) selected by ResourceType
//   - OrderSnapshot: value copy exchanged with connectors and remote members
//   - Instance, Quota, Image: what a CloudConnector reports
//
// # State Partitioning
//
// The Registry keeps one ConcurrentOrderList per OrderState and an id index.
// At any quiescent instant an active order is in exactly one list: the one
// matching its state. The Transitioner is the only code that moves orders
// between lists, and does so under the order's own lock:
//
//	order.Lock()
//	defer order.Unlock()
//	if order.State == OrderStatePending {
//	    err := transitioner.TransitionLocked(ctx, order, OrderStateFulfilled)
//	}
//
// TransitionFrom packages this verify-then-move guard for callers that race
// with processors or remote events.
//
// # Durability
//
// A transition is persisted before the order's lock is released. If the
// OrderStore rejects it, the in-memory move is undone and an Unexpected error
// is returned. After a restart Registry.Recover reloads every order that was
// not deactivated.
//
// # Error Classification
//
// Every failure crossing a component boundary is a *FedError of one ErrorKind.
// Processors retry transient kinds on the next scan pass and fail the order on
// the others:
//
//	if IsTransient(err) {
//	    // leave the order where it is
//	}
//
// # Thread Safety
//
// Lists, the registry and orders are safe for concurrent use. No list lock is
// held during provider I/O.
package engine
