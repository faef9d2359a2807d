package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TransitionObserver is called after every durable transition.
type TransitionObserver func(order OrderSnapshot, from, to OrderState)

// TransitionerConfig configures a Transitioner.
type TransitionerConfig struct {
	// LocalMember is this member's id. Orders provided locally for a remote
	// requester trigger an event when they reach FULFILLED or a failed state.
	LocalMember string

	// Graph restricts legal transitions. Nil allows every edge.
	Graph TransitionGraph

	// Notifier delivers events to remote requesters. Nil disables notification.
	Notifier EventNotifier

	// Observer is optional.
	Observer TransitionObserver

	// Tracer wraps each transition in an order span. Optional.
	Tracer OrderTracer
}

// Transitioner is the only component that moves orders between lists.
//
// A transition runs entirely under the order's lock: remove from the origin
// list, set the state, add to the destination list, persist. If persistence
// fails the move is undone before the lock is released, so the stored state
// is always the last state any caller observed.
type Transitioner struct {
	registry *Registry
	cfg      TransitionerConfig
	logger   zerolog.Logger
}

// NewTransitioner creates a transitioner over the registry.
func NewTransitioner(registry *Registry, cfg TransitionerConfig, logger zerolog.Logger) *Transitioner {
	return &Transitioner{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With().Str("component", "transitioner").Logger(),
	}
}

// Transition moves the order to dest.
func (t *Transitioner) Transition(ctx context.Context, order *Order, dest OrderState) error {
	order.Lock()
	defer order.Unlock()
	return t.TransitionLocked(ctx, order, dest)
}

// TransitionFrom moves the order to dest only if it is still in expected. It
// returns false without error when another goroutine already moved it.
func (t *Transitioner) TransitionFrom(ctx context.Context, order *Order, expected, dest OrderState) (bool, error) {
	order.Lock()
	defer order.Unlock()

	if order.State != expected {
		t.logger.Debug().
			Str("order_id", order.ID).
			Str("expected", string(expected)).
			Str("actual", string(order.State)).
			Msg("Order moved concurrently, skipping transition")
		return false, nil
	}
	if err := t.TransitionLocked(ctx, order, dest); err != nil {
		return false, err
	}
	return true, nil
}

// TransitionLocked is Transition for callers already holding the order's lock.
func (t *Transitioner) TransitionLocked(ctx context.Context, order *Order, dest OrderState) (err error) {
	ctx, end := startOrderSpan(ctx, t.cfg.Tracer, "transition."+string(dest), order.SnapshotLocked())
	defer func() { end(err) }()

	from := order.State

	originList, ok := t.registry.ListFor(from)
	if !ok {
		return NewUnexpectedError(fmt.Sprintf("no list registered for origin state %s", from), nil).WithOrder(order.ID)
	}
	destList, ok := t.registry.ListFor(dest)
	if !ok {
		return NewUnexpectedError(fmt.Sprintf("no list registered for destination state %s", dest), nil).WithOrder(order.ID)
	}
	if from == dest {
		return nil
	}
	if !t.cfg.Graph.Allows(from, dest) {
		return NewUnexpectedError(fmt.Sprintf("illegal transition %s -> %s", from, dest), nil).WithOrder(order.ID)
	}

	prevUpdated := order.UpdatedAt
	if !originList.RemoveItem(order.ID) {
		t.logger.Warn().
			Str("order_id", order.ID).
			Str("state", string(from)).
			Msg("Order not found in origin list")
	}
	order.State = dest
	order.UpdatedAt = time.Now().UTC()
	destList.AddItem(order)

	snap := order.SnapshotLocked()
	if store := t.registry.store; store != nil {
		if err := store.Persist(ctx, snap); err != nil {
			destList.RemoveItem(order.ID)
			order.State = from
			order.UpdatedAt = prevUpdated
			originList.AddItem(order)
			return NewUnexpectedError("failed to persist transition", err).WithOrder(order.ID)
		}
		change := StateChange{OrderID: order.ID, From: from, To: dest, At: order.UpdatedAt}
		if err := store.AppendStateChange(ctx, change); err != nil {
			t.logger.Warn().Err(err).Str("order_id", order.ID).Msg("Failed to record state change")
		}
	}

	t.logger.Debug().
		Str("order_id", order.ID).
		Str("from", string(from)).
		Str("to", string(dest)).
		Msg("Order transitioned")

	if t.cfg.Observer != nil {
		t.cfg.Observer(snap, from, dest)
	}
	t.notify(ctx, snap)
	return nil
}

func (t *Transitioner) notify(ctx context.Context, snap OrderSnapshot) {
	if t.cfg.Notifier == nil || t.cfg.LocalMember == "" {
		return
	}
	if snap.RequestingMember == t.cfg.LocalMember || snap.ProvidingMember != t.cfg.LocalMember {
		return
	}
	event, ok := EventForState(snap.State)
	if !ok {
		return
	}
	t.cfg.Notifier.Notify(ctx, snap.RequestingMember, event, snap)
}
