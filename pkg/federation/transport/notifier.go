package transport

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/fedbroker/pkg/engine"
	"github.com/openfroyo/fedbroker/pkg/federation/protocol"
)

// Caller sends one federation request.
type Caller interface {
	Call(ctx context.Context, member string, req *protocol.Request) (*protocol.Response, error)
}

// NotifierConfig configures a Notifier.
type NotifierConfig struct {
	// Attempts is how often delivery is tried while the target is
	// unavailable. Zero means 3.
	Attempts int

	// Backoff is the wait before the second attempt; it doubles after each
	// failure. Zero means one second.
	Backoff time.Duration
}

// Notifier delivers notify-event calls in the background. It implements
// engine.EventNotifier. Deliveries outlive the context of the transition that
// queued them and stop when the notifier is closed.
type Notifier struct {
	caller   Caller
	attempts int
	backoff  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

var _ engine.EventNotifier = (*Notifier)(nil)

// NewNotifier creates a notifier sending through caller.
func NewNotifier(caller Caller, cfg NotifierConfig, logger zerolog.Logger) *Notifier {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		caller:   caller,
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With().Str("component", "notifier").Logger(),
	}
}

// Notify queues the event and returns immediately.
func (n *Notifier) Notify(ctx context.Context, target string, event engine.RemoteEvent, order engine.OrderSnapshot) {
	req, err := protocol.NotifyEventRequest(event, order)
	if err != nil {
		n.logger.Error().Err(err).Str("order_id", order.ID).Msg("Failed to build event notification")
		return
	}

	if n.ctx.Err() != nil {
		n.logger.Warn().Str("order_id", order.ID).Str("target", target).Msg("Notifier closed, event dropped")
		return
	}

	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(n.ctx, cancel)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer cancel()
		defer stop()
		n.deliver(dctx, target, req)
	}()
}

func (n *Notifier) deliver(ctx context.Context, target string, req *protocol.Request) {
	wait := n.backoff
	for attempt := 1; ; attempt++ {
		_, err := n.caller.Call(ctx, target, req)
		if err == nil {
			n.logger.Debug().Str("target", target).Str("request_id", req.ID).Msg("Event delivered")
			return
		}
		if !engine.IsKind(err, engine.KindUnavailableProvider) || attempt >= n.attempts {
			n.logger.Warn().Err(err).
				Str("target", target).
				Str("request_id", req.ID).
				Int("attempts", attempt).
				Msg("Event notification dropped")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// Wait blocks until every queued notification finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Close abandons pending retries and waits for in-flight deliveries to
// return. Events notified afterwards are dropped.
func (n *Notifier) Close() {
	n.cancel()
	n.wg.Wait()
}
