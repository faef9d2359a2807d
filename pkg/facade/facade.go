package facade

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// Config wires a Facade.
type Config struct {
	LocalMember  string
	Registry     *engine.Registry
	Transitioner *engine.Transitioner
	Connectors   engine.ConnectorResolver
	Aaa          engine.AaaController
}

// Facade serves the operations other members invoke on this member. Every
// operation authenticates and authorizes the user before touching state.
type Facade struct {
	local        string
	registry     *engine.Registry
	transitioner *engine.Transitioner
	connectors   engine.ConnectorResolver
	aaa          engine.AaaController
	logger       zerolog.Logger
}

// New creates a facade.
func New(cfg Config, logger zerolog.Logger) *Facade {
	return &Facade{
		local:        cfg.LocalMember,
		registry:     cfg.Registry,
		transitioner: cfg.Transitioner,
		connectors:   cfg.Connectors,
		aaa:          cfg.Aaa,
		logger:       logger.With().Str("component", "facade").Logger(),
	}
}

// ActivateOrder accepts an order from requestingMember for provisioning here.
// The order enters OPEN. Repeating the create for an order the same member
// already activated succeeds without side effects.
func (f *Facade) ActivateOrder(ctx context.Context, requestingMember string, snap engine.OrderSnapshot) error {
	if snap.RequestingMember != requestingMember {
		return engine.NewUnauthorizedError(
			fmt.Sprintf("member %s cannot submit orders for %s", requestingMember, snap.RequestingMember), nil).WithOrder(snap.ID)
	}
	if snap.ProvidingMember != f.local {
		return engine.NewInvalidParameterError(
			fmt.Sprintf("order is provided by %s, not %s", snap.ProvidingMember, f.local), nil).WithOrder(snap.ID)
	}

	user, err := f.aaa.AuthenticateAndAuthorize(ctx, requestingMember, snap.UserToken,
		engine.OperationCreate, snap.ResourceType, f.local)
	if err != nil {
		return err
	}

	order := snap.ToOrder()
	order.User = *user
	order.InstanceID = ""
	order.CachedInstanceState = ""
	if err := order.Validate(); err != nil {
		return err
	}

	if err := f.registry.Activate(ctx, order); err != nil {
		if engine.IsKind(err, engine.KindInvalidParameter) && f.sameActiveOrder(requestingMember, snap) {
			f.logger.Debug().Str("order_id", snap.ID).Str("requesting_member", requestingMember).
				Msg("Order already active, create-order repeated")
			return nil
		}
		return err
	}

	f.logger.Info().
		Str("order_id", order.ID).
		Str("requesting_member", requestingMember).
		Str("resource_type", string(order.ResourceType)).
		Msg("Remote order activated")
	return nil
}

// sameActiveOrder reports whether snap is a repeat of an order requestingMember
// already activated here, as sent again after a timed out create-order.
func (f *Facade) sameActiveOrder(requestingMember string, snap engine.OrderSnapshot) bool {
	existing, err := f.registry.Lookup(snap.ID)
	if err != nil {
		return false
	}
	cur := existing.Snapshot()
	return cur.RequestingMember == requestingMember &&
		cur.ProvidingMember == f.local &&
		cur.ResourceType == snap.ResourceType &&
		cur.State != engine.OrderStateClosed
}

// lookupOwned returns the order if requestingMember requested it.
func (f *Facade) lookupOwned(requestingMember, orderID string, rt engine.ResourceType) (*engine.Order, error) {
	order, err := f.registry.Lookup(orderID)
	if err != nil {
		return nil, err
	}
	if order.RequestingMember != requestingMember {
		return nil, engine.NewUnauthorizedError(
			fmt.Sprintf("order was not requested by %s", requestingMember), nil).WithOrder(orderID)
	}
	if rt != "" && order.ResourceType != rt {
		return nil, engine.NewInvalidParameterError(
			fmt.Sprintf("order is %s, not %s", order.ResourceType, rt), nil).WithOrder(orderID)
	}
	return order, nil
}

// GetResourceInstance returns the current view of the order's instance.
func (f *Facade) GetResourceInstance(ctx context.Context, requestingMember, orderID, userToken string, rt engine.ResourceType) (*engine.Instance, error) {
	if _, err := f.aaa.AuthenticateAndAuthorize(ctx, requestingMember, userToken,
		engine.OperationGet, rt, f.local); err != nil {
		return nil, err
	}

	order, err := f.lookupOwned(requestingMember, orderID, rt)
	if err != nil {
		return nil, err
	}

	snap := order.Snapshot()
	if snap.State == engine.OrderStateClosed {
		return nil, engine.NewInstanceNotFoundError("order is closed", nil).WithOrder(orderID)
	}
	if snap.InstanceID == "" || snap.ProvidingMember != f.local {
		return instanceFromOrder(snap), nil
	}

	connector, err := f.connectors.ConnectorFor(f.local)
	if err != nil {
		return nil, err
	}
	inst, err := connector.GetInstance(ctx, snap)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// instanceFromOrder describes an order whose instance cannot be asked for.
func instanceFromOrder(snap engine.OrderSnapshot) *engine.Instance {
	inst := &engine.Instance{
		ID:           snap.InstanceID,
		ResourceType: snap.ResourceType,
		CloudState:   snap.CachedInstanceState,
		Details:      snap.Payload,
	}
	switch {
	case snap.State.IsFailed():
		inst.State = engine.InstanceStateFailed
	case snap.State == engine.OrderStateFulfilled:
		inst.State = engine.InstanceStateReady
	case snap.State == engine.OrderStateSpawning:
		inst.State = engine.InstanceStateCreating
	case snap.State == engine.OrderStateOpen || snap.State == engine.OrderStatePending:
		inst.State = engine.InstanceStateDispatched
	default:
		inst.State = engine.InstanceStateUnknown
	}
	if inst.ID == "" {
		inst.ID = snap.ID
	}
	return inst
}

// DeleteOrder closes the order. The closed processor releases the instance.
func (f *Facade) DeleteOrder(ctx context.Context, requestingMember, orderID, userToken string, rt engine.ResourceType) error {
	if _, err := f.aaa.AuthenticateAndAuthorize(ctx, requestingMember, userToken,
		engine.OperationDelete, rt, f.local); err != nil {
		return err
	}

	order, err := f.lookupOwned(requestingMember, orderID, rt)
	if err != nil {
		return err
	}
	if err := f.transitioner.Transition(ctx, order, engine.OrderStateClosed); err != nil {
		return err
	}

	f.logger.Info().Str("order_id", orderID).Str("requesting_member", requestingMember).Msg("Order closed by requester")
	return nil
}

// GetUserQuota returns the user's quota at memberID.
func (f *Facade) GetUserQuota(ctx context.Context, requestingMember, memberID, userToken string, rt engine.ResourceType) (*engine.Quota, error) {
	user, err := f.aaa.AuthenticateAndAuthorize(ctx, requestingMember, userToken,
		engine.OperationGetUserQuota, rt, memberID)
	if err != nil {
		return nil, err
	}
	connector, err := f.connectors.ConnectorFor(memberID)
	if err != nil {
		return nil, err
	}
	return connector.GetUserQuota(ctx, *user, userToken, rt)
}

// GetImage returns one image at memberID.
func (f *Facade) GetImage(ctx context.Context, requestingMember, memberID, imageID, userToken string) (*engine.Image, error) {
	user, err := f.aaa.AuthenticateAndAuthorize(ctx, requestingMember, userToken,
		engine.OperationGetImage, engine.ResourceTypeCompute, memberID)
	if err != nil {
		return nil, err
	}
	connector, err := f.connectors.ConnectorFor(memberID)
	if err != nil {
		return nil, err
	}
	return connector.GetImage(ctx, *user, userToken, imageID)
}

// GetAllImages lists the images at memberID.
func (f *Facade) GetAllImages(ctx context.Context, requestingMember, memberID, userToken string) ([]engine.ImageSummary, error) {
	user, err := f.aaa.AuthenticateAndAuthorize(ctx, requestingMember, userToken,
		engine.OperationGetAllImages, engine.ResourceTypeCompute, memberID)
	if err != nil {
		return nil, err
	}
	connector, err := f.connectors.ConnectorFor(memberID)
	if err != nil {
		return nil, err
	}
	return connector.GetAllImages(ctx, *user, userToken)
}

// HandleRemoteEvent applies an instance event pushed by the member providing
// the order. Only the providing member may signal, and only a PENDING order
// reacts; anything else is a silent no-op so duplicate or stale events are
// harmless. The returned error is for the caller's logs and never crosses
// the wire.
func (f *Facade) HandleRemoteEvent(ctx context.Context, signallingMember string, event engine.RemoteEvent, remote engine.OrderSnapshot) error {
	var dest engine.OrderState
	switch event {
	case engine.RemoteEventInstanceFulfilled:
		dest = engine.OrderStateFulfilled
	case engine.RemoteEventInstanceFailed:
		dest = engine.OrderStateFailedAfterSuccessfulRequest
	default:
		return engine.NewInvalidParameterError(fmt.Sprintf("unknown event %s", event), nil).WithOrder(remote.ID)
	}

	order, err := f.registry.Lookup(remote.ID)
	if err != nil {
		f.logger.Debug().Str("order_id", remote.ID).Str("event", string(event)).Msg("Event for unknown order ignored")
		return nil
	}

	if signallingMember != order.ProvidingMember {
		f.logger.Warn().
			Str("order_id", order.ID).
			Str("signalling_member", signallingMember).
			Str("providing_member", order.ProvidingMember).
			Msg("Event from a member not providing the order")
		return engine.NewUnexpectedError(
			fmt.Sprintf("member %s does not provide order", signallingMember), nil).WithOrder(order.ID)
	}

	order.Lock()
	defer order.Unlock()

	if order.State != engine.OrderStatePending {
		f.logger.Debug().
			Str("order_id", order.ID).
			Str("state", string(order.State)).
			Str("event", string(event)).
			Msg("Order no longer pending, event ignored")
		return nil
	}

	prev := order.SnapshotLocked()
	order.ApplyRemoteLocked(remote)
	if err := f.transitioner.TransitionLocked(ctx, order, dest); err != nil {
		order.CachedInstanceState = prev.CachedInstanceState
		order.Payload = prev.Payload
		order.UpdatedAt = prev.UpdatedAt
		f.logger.Error().Err(err).Str("order_id", order.ID).Msg("Failed to apply remote event")
		return err
	}

	f.logger.Info().
		Str("order_id", order.ID).
		Str("event", string(event)).
		Str("state", string(dest)).
		Msg("Remote event applied")
	return nil
}
