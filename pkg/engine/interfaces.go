package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CloudConnector acts on physical resources at one member. The local member's
// connector wraps a cloud plugin; every other member's connector forwards the
// call over the federation. Implementations return classified errors.
type CloudConnector interface {
	// RequestInstance asks the cloud to create the resource described by the order
	// and returns the new instance id.
	RequestInstance(ctx context.Context, order OrderSnapshot) (string, error)

	// GetInstance returns the current view of the order's instance.
	GetInstance(ctx context.Context, order OrderSnapshot) (*Instance, error)

	// DeleteInstance releases the order's instance.
	DeleteInstance(ctx context.Context, order OrderSnapshot) error

	// GetUserQuota returns the user's quota for a resource type.
	GetUserQuota(ctx context.Context, user SystemUser, userToken string, resourceType ResourceType) (*Quota, error)

	// GetImage returns one image.
	GetImage(ctx context.Context, user SystemUser, userToken string, imageID string) (*Image, error)

	// GetAllImages lists the images available to the user.
	GetAllImages(ctx context.Context, user SystemUser, userToken string) ([]ImageSummary, error)
}

// ConnectorResolver returns the connector that reaches a member.
type ConnectorResolver interface {
	// ConnectorFor returns the connector for memberID or an Unexpected error
	// if the member is unknown.
	ConnectorFor(memberID string) (CloudConnector, error)
}

// OrderStore is the durable order repository.
type OrderStore interface {
	// Persist inserts or updates the order.
	Persist(ctx context.Context, order OrderSnapshot) error

	// Exists reports whether an order with the id was ever persisted.
	Exists(ctx context.Context, id string) (bool, error)

	// FindByState returns every non-deactivated order in the state.
	FindByState(ctx context.Context, state OrderState) ([]OrderSnapshot, error)

	// AppendStateChange records a transition in the audit trail.
	AppendStateChange(ctx context.Context, change StateChange) error

	// MarkDeactivated flags a closed order as garbage collected so it is not recovered.
	MarkDeactivated(ctx context.Context, id string) error
}

// StateChange is one audit record.
type StateChange struct {
	// OrderID is the order that moved.
	OrderID string `json:"order_id"`

	// From is the origin state.
	From OrderState `json:"from"`

	// To is the destination state.
	To OrderState `json:"to"`

	// At is when the transition happened.
	At time.Time `json:"at"`
}

// AaaController authenticates users and authorizes federation operations.
type AaaController interface {
	// AuthenticateAndAuthorize returns the authenticated user, or an
	// Unauthenticated/Unauthorized error.
	AuthenticateAndAuthorize(ctx context.Context, requestingMember, userToken string,
		op Operation, resourceType ResourceType, target string) (*SystemUser, error)
}

// EventNotifier delivers an asynchronous event about an order to the member that requested it.
type EventNotifier interface {
	// Notify must not block the caller on network I/O. Delivery outlives ctx;
	// the notifier decides when to give up.
	Notify(ctx context.Context, targetMember string, event RemoteEvent, order OrderSnapshot)
}

// OrderTracer opens a span around work on one order.
type OrderTracer interface {
	StartOrderSpan(ctx context.Context, operation string, order OrderSnapshot) (context.Context, trace.Span)
}

// startOrderSpan returns ctx unchanged and a no-op end when tracer is nil.
func startOrderSpan(ctx context.Context, tracer OrderTracer, operation string, order OrderSnapshot) (context.Context, func(error)) {
	if tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := tracer.StartOrderSpan(ctx, operation, order)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
