package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry holds every active order: one ConcurrentOrderList per registered
// state plus an id index. It is constructed once per process and injected into
// the transitioner, the processors and the facade.
type Registry struct {
	mu     sync.RWMutex
	orders map[string]*Order

	// activateMu serializes Activate so an id is checked and claimed at once.
	activateMu sync.Mutex

	// lists is immutable after construction.
	lists  map[OrderState]*ConcurrentOrderList
	states []OrderState

	store  OrderStore
	logger zerolog.Logger
}

// NewRegistry creates a registry with a list for each of states, or for every
// state when none are given. A nil store disables durability.
func NewRegistry(store OrderStore, logger zerolog.Logger, states ...OrderState) *Registry {
	if len(states) == 0 {
		states = AllOrderStates
	}
	r := &Registry{
		orders: make(map[string]*Order),
		lists:  make(map[OrderState]*ConcurrentOrderList, len(states)),
		store:  store,
		logger: logger.With().Str("component", "registry").Logger(),
	}
	for _, s := range states {
		if _, ok := r.lists[s]; ok {
			continue
		}
		r.lists[s] = NewConcurrentOrderList()
		r.states = append(r.states, s)
	}
	return r
}

// States returns the states that have a list, in registration order.
func (r *Registry) States() []OrderState {
	out := make([]OrderState, len(r.states))
	copy(out, r.states)
	return out
}

// ListFor returns the list for the state. The same instance is returned on
// every call.
func (r *Registry) ListFor(state OrderState) (*ConcurrentOrderList, bool) {
	l, ok := r.lists[state]
	return l, ok
}

// Insert adds the order to the id index and to the list of its current state.
func (r *Registry) Insert(order *Order) error {
	order.Lock()
	state := order.State
	order.Unlock()

	list, ok := r.lists[state]
	if !ok {
		return NewUnexpectedError(fmt.Sprintf("no list registered for state %s", state), nil).WithOrder(order.ID)
	}

	r.mu.Lock()
	if _, exists := r.orders[order.ID]; exists {
		r.mu.Unlock()
		return NewInvalidParameterError("order already exists", nil).WithOrder(order.ID)
	}
	r.orders[order.ID] = order
	r.mu.Unlock()

	list.AddItem(order)
	return nil
}

// Activate sets the order OPEN, persists it and inserts it. An id that is
// active, or that the store has ever seen, is rejected.
func (r *Registry) Activate(ctx context.Context, order *Order) error {
	if _, ok := r.lists[OrderStateOpen]; !ok {
		return NewUnexpectedError("no list registered for state OPEN", nil).WithOrder(order.ID)
	}

	r.activateMu.Lock()
	defer r.activateMu.Unlock()

	if _, err := r.Lookup(order.ID); err == nil {
		return NewInvalidParameterError("order already exists", nil).WithOrder(order.ID)
	}
	if r.store != nil {
		exists, err := r.store.Exists(ctx, order.ID)
		if err != nil {
			return NewUnexpectedError("failed to check order id", err).WithOrder(order.ID)
		}
		if exists {
			return NewInvalidParameterError("order id already used", nil).WithOrder(order.ID)
		}
	}

	order.Lock()
	order.State = OrderStateOpen
	order.UpdatedAt = time.Now().UTC()
	snap := order.SnapshotLocked()
	order.Unlock()

	if r.store != nil {
		if err := r.store.Persist(ctx, snap); err != nil {
			return NewUnexpectedError("failed to persist order", err).WithOrder(order.ID)
		}
		change := StateChange{OrderID: order.ID, To: OrderStateOpen, At: snap.UpdatedAt}
		if err := r.store.AppendStateChange(ctx, change); err != nil {
			r.logger.Warn().Err(err).Str("order_id", order.ID).Msg("Failed to record activation")
		}
	}

	if err := r.Insert(order); err != nil {
		return err
	}

	r.logger.Debug().
		Str("order_id", order.ID).
		Str("resource_type", string(order.ResourceType)).
		Str("requesting_member", order.RequestingMember).
		Str("providing_member", order.ProvidingMember).
		Msg("Order activated")
	return nil
}

// Lookup returns the active order with the id.
func (r *Registry) Lookup(id string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, NewInstanceNotFoundError("order not found", nil).WithOrder(id)
	}
	return order, nil
}

// Deactivate drops a CLOSED order from its list and the index and marks it in
// the store so it is never recovered.
func (r *Registry) Deactivate(ctx context.Context, order *Order) error {
	if state := order.CurrentState(); state != OrderStateClosed {
		return NewUnexpectedError(fmt.Sprintf("cannot deactivate order in state %s", state), nil).WithOrder(order.ID)
	}

	if r.store != nil {
		if err := r.store.MarkDeactivated(ctx, order.ID); err != nil {
			return NewUnexpectedError("failed to deactivate order", err).WithOrder(order.ID)
		}
	}

	if list, ok := r.lists[OrderStateClosed]; ok {
		list.RemoveItem(order.ID)
	}

	r.mu.Lock()
	delete(r.orders, order.ID)
	r.mu.Unlock()

	r.logger.Debug().Str("order_id", order.ID).Msg("Order deactivated")
	return nil
}

// Recover loads every non-deactivated order in a registered state from the
// store. It returns the number of orders recovered.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}

	recovered := 0
	for _, state := range r.states {
		snaps, err := r.store.FindByState(ctx, state)
		if err != nil {
			return recovered, NewUnexpectedError(fmt.Sprintf("failed to load %s orders", state), err)
		}
		for _, snap := range snaps {
			order := snap.ToOrder()
			order.State = state
			if err := r.Insert(order); err != nil {
				r.logger.Warn().Err(err).Str("order_id", snap.ID).Msg("Skipping recovered order")
				continue
			}
			recovered++
		}
	}

	r.logger.Info().Int("orders", recovered).Msg("Registry recovered")
	return recovered, nil
}

// Counts returns the size of every list.
func (r *Registry) Counts() map[OrderState]int {
	counts := make(map[OrderState]int, len(r.lists))
	for s, l := range r.lists {
		counts[s] = l.Size()
	}
	return counts
}

// Len returns the number of active orders.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

// Orders returns every active order.
func (r *Registry) Orders() []*Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out
}
