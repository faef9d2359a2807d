package telemetry

import (
	"context"
	"errors"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// Telemetry bundles the logger, tracer, metrics and event stream of a member.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration. member
// is recorded as the service instance of every span.
func NewTelemetry(cfg *Config, member string) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger = logger.WithMember(member)

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment, member)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewEventPublisher(cfg.Events),
		Config:  cfg,
	}, nil
}

// ObserveTransition records a durable transition in metrics and on the event
// stream. It matches engine.TransitionObserver.
func (t *Telemetry) ObserveTransition(order engine.OrderSnapshot, from, to engine.OrderState) {
	t.Metrics.ObserveTransition(order, from, to)
	if err := t.Events.PublishTransition(order, from, to); err != nil {
		t.Logger.zlog.Warn().Err(err).Str("order_id", order.ID).Msg("Order event dropped")
	}
}

// ObserveProcessorError matches engine.ProcessorDeps.OnError.
func (t *Telemetry) ObserveProcessorError(state engine.OrderState, orderID string, err error) {
	t.Metrics.ObserveProcessorError(state, orderID, err)
	if pubErr := t.Events.PublishProcessorError(state, orderID, err); pubErr != nil {
		t.Logger.zlog.Warn().Err(pubErr).Str("order_id", orderID).Msg("Order event dropped")
	}
}

// LogEvents subscribes logger to the event stream: transitions at debug,
// failures at warn, processor errors at error.
func (t *Telemetry) LogEvents(logger *Logger) {
	zlog := logger.NewComponentLogger("events").zlog
	t.Events.Subscribe(func(e Event) {
		ev := zlog.Debug()
		switch e.Level {
		case EventLevelWarning:
			ev = zlog.Warn()
		case EventLevelError:
			ev = zlog.Error()
		}
		ev.Str("event", e.Type).Str("order_id", e.OrderID).Fields(e.Data).Msg(e.Message)
	}, nil)
}

// WithContext adds the member logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(ctx)
}

// Shutdown drains the event stream and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	)
}
