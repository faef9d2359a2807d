package engine

import (
	"fmt"
)

// OrderState represents the lifecycle state of an order.
type OrderState string

const (
	// OrderStateOpen indicates the order was accepted and awaits a provider request.
	OrderStateOpen OrderState = "OPEN"

	// OrderStatePending indicates a remote provider accepted the order and the
	// requester awaits its notification.
	OrderStatePending OrderState = "PENDING"

	// OrderStateSpawning indicates the local cloud is creating the instance.
	OrderStateSpawning OrderState = "SPAWNING"

	// OrderStateFulfilled indicates the instance is ready.
	OrderStateFulfilled OrderState = "FULFILLED"

	// OrderStateFailedOnRequest indicates the provider refused the request.
	OrderStateFailedOnRequest OrderState = "FAILED_ON_REQUEST"

	// OrderStateFailedAfterSuccessfulRequest indicates the instance failed after the
	// provider accepted the request.
	OrderStateFailedAfterSuccessfulRequest OrderState = "FAILED_AFTER_SUCCESSFUL_REQUEST"

	// OrderStateClosed is the terminal state reached on user deletion.
	OrderStateClosed OrderState = "CLOSED"
)

// AllOrderStates lists every state in lifecycle order.
var AllOrderStates = []OrderState{
	OrderStateOpen,
	OrderStatePending,
	OrderStateSpawning,
	OrderStateFulfilled,
	OrderStateFailedOnRequest,
	OrderStateFailedAfterSuccessfulRequest,
	OrderStateClosed,
}

// IsTerminal returns true if no transition may leave the state.
func (s OrderState) IsTerminal() bool {
	return s == OrderStateClosed
}

// IsFailed returns true for both failure variants.
func (s OrderState) IsFailed() bool {
	return s == OrderStateFailedOnRequest || s == OrderStateFailedAfterSuccessfulRequest
}

// Validate checks if the order state is valid.
func (s OrderState) Validate() error {
	switch s {
	case OrderStateOpen, OrderStatePending, OrderStateSpawning, OrderStateFulfilled,
		OrderStateFailedOnRequest, OrderStateFailedAfterSuccessfulRequest, OrderStateClosed:
		return nil
	default:
		return fmt.Errorf("invalid order state: %s", s)
	}
}

// TransitionGraph lists the legal destinations of every state.
type TransitionGraph map[OrderState][]OrderState

// DefaultTransitionGraph returns the lifecycle graph used unless a member configures its own.
func DefaultTransitionGraph() TransitionGraph {
	return TransitionGraph{
		OrderStateOpen: {
			OrderStatePending, OrderStateSpawning, OrderStateFailedOnRequest, OrderStateClosed,
		},
		OrderStatePending: {
			OrderStateFulfilled, OrderStateFailedAfterSuccessfulRequest, OrderStateClosed,
		},
		OrderStateSpawning: {
			OrderStateFulfilled, OrderStateFailedAfterSuccessfulRequest, OrderStateClosed,
		},
		OrderStateFulfilled: {
			OrderStateFailedAfterSuccessfulRequest, OrderStateClosed,
		},
		OrderStateFailedOnRequest:              {OrderStateClosed},
		OrderStateFailedAfterSuccessfulRequest: {OrderStateClosed},
		OrderStateClosed:                       {},
	}
}

// Allows reports whether from → to is a legal edge. A nil graph allows everything.
func (g TransitionGraph) Allows(from, to OrderState) bool {
	if g == nil {
		return true
	}
	for _, dest := range g[from] {
		if dest == to {
			return true
		}
	}
	return false
}

// InstanceState is the normalized status of a cloud instance.
type InstanceState string

const (
	// InstanceStateDispatched indicates the request was handed to a provider but has no instance yet.
	InstanceStateDispatched InstanceState = "DISPATCHED"

	// InstanceStateCreating indicates the cloud is still building the instance.
	InstanceStateCreating InstanceState = "CREATING"

	// InstanceStateReady indicates the instance is usable.
	InstanceStateReady InstanceState = "READY"

	// InstanceStateFailed indicates the instance is broken.
	InstanceStateFailed InstanceState = "FAILED"

	// InstanceStateUnknown indicates the cloud reported a status that could not be mapped.
	InstanceStateUnknown InstanceState = "UNKNOWN"
)

// RemoteEvent is an asynchronous notification from a providing member.
type RemoteEvent string

const (
	// RemoteEventInstanceFulfilled reports the remote instance became ready.
	RemoteEventInstanceFulfilled RemoteEvent = "INSTANCE_FULFILLED"

	// RemoteEventInstanceFailed reports the remote instance failed.
	RemoteEventInstanceFailed RemoteEvent = "INSTANCE_FAILED"
)

// Validate checks if the event is valid.
func (e RemoteEvent) Validate() error {
	switch e {
	case RemoteEventInstanceFulfilled, RemoteEventInstanceFailed:
		return nil
	default:
		return fmt.Errorf("invalid remote event: %s", e)
	}
}

// EventForState returns the event a provider sends when its copy of an order reaches state.
func EventForState(s OrderState) (RemoteEvent, bool) {
	switch s {
	case OrderStateFulfilled:
		return RemoteEventInstanceFulfilled, true
	case OrderStateFailedOnRequest, OrderStateFailedAfterSuccessfulRequest:
		return RemoteEventInstanceFailed, true
	default:
		return "", false
	}
}

// Operation is an action subject to authorization.
type Operation string

const (
	OperationCreate       Operation = "create"
	OperationGet          Operation = "get"
	OperationDelete       Operation = "delete"
	OperationGetUserQuota Operation = "getUserQuota"
	OperationGetImage     Operation = "getImage"
	OperationGetAllImages Operation = "getAllImages"
)
