package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultProcessorInterval is the sleep between scan passes.
const DefaultProcessorInterval = time.Second

// ProcessorDeps are the collaborators shared by every processor.
type ProcessorDeps struct {
	LocalMember  string
	Registry     *Registry
	Transitioner *Transitioner
	Connectors   ConnectorResolver
	Logger       zerolog.Logger

	// OnError is called for every order a pass failed to advance. Optional.
	OnError func(state OrderState, orderID string, err error)

	// Tracer wraps the handling of each order in a span. Optional.
	Tracer OrderTracer
}

type handleFunc func(ctx context.Context, order *Order) error

// Processor repeatedly scans the list of one state and advances its orders.
// Provider calls are made with no list lock held, so a slow provider delays
// only the order being handled.
type Processor struct {
	state    OrderState
	list     *ConcurrentOrderList
	interval time.Duration
	handle   handleFunc
	deps     ProcessorDeps
	logger   zerolog.Logger
}

func newProcessor(deps ProcessorDeps, state OrderState, interval time.Duration, h handleFunc) (*Processor, error) {
	list, ok := deps.Registry.ListFor(state)
	if !ok {
		return nil, NewUnexpectedError(fmt.Sprintf("no list registered for state %s", state), nil)
	}
	if interval <= 0 {
		interval = DefaultProcessorInterval
	}
	return &Processor{
		state:    state,
		list:     list,
		interval: interval,
		handle:   h,
		deps:     deps,
		logger:   deps.Logger.With().Str("component", "processor").Str("state", string(state)).Logger(),
	}, nil
}

// State returns the state the processor scans.
func (p *Processor) State() OrderState {
	return p.state
}

// Run scans until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	scanner := p.list.NewScanner()
	defer scanner.Close()

	p.logger.Info().Dur("interval", p.interval).Msg("Processor started")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Processor stopped")
			return nil
		case <-timer.C:
		}
		p.pass(ctx, scanner)
		timer.Reset(p.interval)
	}
}

// RunPass performs a single scan pass and returns how many orders it visited.
func (p *Processor) RunPass(ctx context.Context) int {
	scanner := p.list.NewScanner()
	defer scanner.Close()
	return p.pass(ctx, scanner)
}

func (p *Processor) pass(ctx context.Context, scanner *Scanner) int {
	scanner.Reset()
	visited := 0
	for {
		if ctx.Err() != nil {
			return visited
		}
		order := scanner.Next()
		if order == nil {
			return visited
		}
		visited++
		hctx, end := startOrderSpan(ctx, p.deps.Tracer, "process."+strings.ToLower(string(p.state)), order.Snapshot())
		err := p.handle(hctx, order)
		end(err)
		if err != nil {
			p.logger.Warn().Err(err).Str("order_id", order.ID).Msg("Failed to process order")
			if p.deps.OnError != nil {
				p.deps.OnError(p.state, order.ID, err)
			}
		}
	}
}

// NewOpenProcessor dispatches OPEN orders to their providing member. Locally
// provided orders go to SPAWNING, remotely provided ones to PENDING. A
// non-transient failure moves the order to FAILED_ON_REQUEST; a transient one
// leaves it OPEN for the next pass.
//
// The order lock is held across the request. A close or an instance event
// arriving meanwhile waits until the instance id and the new state are
// recorded, so the close releases the instance and the event finds the order
// PENDING.
func NewOpenProcessor(deps ProcessorDeps, interval time.Duration) (*Processor, error) {
	return newProcessor(deps, OrderStateOpen, interval, func(ctx context.Context, order *Order) error {
		order.Lock()
		defer order.Unlock()
		if order.State != OrderStateOpen {
			return nil
		}

		// An instance id without a state change means the last transition
		// failed to persist; only the transition is retried.
		if order.InstanceID == "" {
			snap := order.SnapshotLocked()
			connector, err := deps.Connectors.ConnectorFor(snap.ProvidingMember)
			if err != nil {
				return err
			}
			instanceID, reqErr := connector.RequestInstance(ctx, snap)
			if reqErr != nil {
				if IsTransient(reqErr) {
					return reqErr
				}
				if err := deps.Transitioner.TransitionLocked(ctx, order, OrderStateFailedOnRequest); err != nil {
					return errors.Join(reqErr, err)
				}
				return reqErr
			}
			order.InstanceID = instanceID
		}

		dest := OrderStateSpawning
		if order.ProvidingMember != deps.LocalMember {
			dest = OrderStatePending
			order.CachedInstanceState = string(InstanceStateDispatched)
		}
		return deps.Transitioner.TransitionLocked(ctx, order, dest)
	})
}

// NewSpawningProcessor polls the cloud for SPAWNING orders until the instance
// is READY or FAILED.
func NewSpawningProcessor(deps ProcessorDeps, interval time.Duration) (*Processor, error) {
	return newProcessor(deps, OrderStateSpawning, interval, func(ctx context.Context, order *Order) error {
		snap := order.Snapshot()
		if snap.State != OrderStateSpawning || snap.ProvidingMember != deps.LocalMember {
			return nil
		}
		return pollInstance(ctx, deps, order, snap, OrderStateSpawning)
	})
}

// NewPendingProcessor polls the providing member for PENDING orders. The
// provider's event normally moves them first; polling covers events that were
// lost.
func NewPendingProcessor(deps ProcessorDeps, interval time.Duration) (*Processor, error) {
	return newProcessor(deps, OrderStatePending, interval, func(ctx context.Context, order *Order) error {
		snap := order.Snapshot()
		if snap.State != OrderStatePending || snap.ProvidingMember == deps.LocalMember {
			return nil
		}
		return pollInstance(ctx, deps, order, snap, OrderStatePending)
	})
}

// NewFulfilledProcessor watches locally provided FULFILLED orders for instance failure.
func NewFulfilledProcessor(deps ProcessorDeps, interval time.Duration) (*Processor, error) {
	return newProcessor(deps, OrderStateFulfilled, interval, func(ctx context.Context, order *Order) error {
		snap := order.Snapshot()
		if snap.State != OrderStateFulfilled || snap.ProvidingMember != deps.LocalMember {
			return nil
		}
		return pollInstance(ctx, deps, order, snap, OrderStateFulfilled)
	})
}

func pollInstance(ctx context.Context, deps ProcessorDeps, order *Order, snap OrderSnapshot, origin OrderState) error {
	connector, err := deps.Connectors.ConnectorFor(snap.ProvidingMember)
	if err != nil {
		return err
	}
	inst, getErr := connector.GetInstance(ctx, snap)
	if getErr != nil && !IsNotFound(getErr) {
		return getErr
	}

	order.Lock()
	defer order.Unlock()
	if order.State != origin {
		return nil
	}

	switch {
	case getErr != nil:
		order.CachedInstanceState = string(InstanceStateFailed)
		return deps.Transitioner.TransitionLocked(ctx, order, OrderStateFailedAfterSuccessfulRequest)
	case inst.State == InstanceStateFailed:
		order.ApplyInstanceLocked(inst)
		return deps.Transitioner.TransitionLocked(ctx, order, OrderStateFailedAfterSuccessfulRequest)
	case inst.State == InstanceStateReady && origin != OrderStateFulfilled:
		order.ApplyInstanceLocked(inst)
		return deps.Transitioner.TransitionLocked(ctx, order, OrderStateFulfilled)
	default:
		order.ApplyInstanceLocked(inst)
		return nil
	}
}

// NewClosedProcessor releases the instance of every CLOSED order and then
// deactivates it. Remotely provided orders are always deleted at the provider,
// which may hold the order even if no instance id came back. A missing
// instance counts as released; other failures are retried on the next pass.
func NewClosedProcessor(deps ProcessorDeps, interval time.Duration) (*Processor, error) {
	return newProcessor(deps, OrderStateClosed, interval, func(ctx context.Context, order *Order) error {
		snap := order.Snapshot()
		if snap.State != OrderStateClosed {
			return nil
		}

		if snap.InstanceID != "" || snap.ProvidingMember != deps.LocalMember {
			connector, err := deps.Connectors.ConnectorFor(snap.ProvidingMember)
			if err != nil {
				return err
			}
			if err := connector.DeleteInstance(ctx, snap); err != nil && !IsNotFound(err) {
				return err
			}
		}
		return deps.Registry.Deactivate(ctx, order)
	})
}

// ProcessorIntervals overrides the pass interval per state.
type ProcessorIntervals map[OrderState]time.Duration

// NewProcessors builds the processor of every state registered in deps.Registry
// that has one.
func NewProcessors(deps ProcessorDeps, intervals ProcessorIntervals) ([]*Processor, error) {
	builders := map[OrderState]func(ProcessorDeps, time.Duration) (*Processor, error){
		OrderStateOpen:      NewOpenProcessor,
		OrderStatePending:   NewPendingProcessor,
		OrderStateSpawning:  NewSpawningProcessor,
		OrderStateFulfilled: NewFulfilledProcessor,
		OrderStateClosed:    NewClosedProcessor,
	}

	var out []*Processor
	for _, state := range deps.Registry.States() {
		build, ok := builders[state]
		if !ok {
			continue
		}
		p, err := build(deps, intervals[state])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Manager runs a set of processors until its context is cancelled.
type Manager struct {
	processors []*Processor
	logger     zerolog.Logger
}

// NewManager creates a manager.
func NewManager(logger zerolog.Logger, processors ...*Processor) *Manager {
	return &Manager{
		processors: processors,
		logger:     logger.With().Str("component", "processor-manager").Logger(),
	}
}

// Run starts every processor and blocks until all of them return.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range m.processors {
		g.Go(func() error {
			return p.Run(gctx)
		})
	}
	m.logger.Info().Int("processors", len(m.processors)).Msg("Processors running")
	return g.Wait()
}
