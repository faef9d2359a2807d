package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// Metrics provides the prometheus metrics of a broker member. A Metrics built
// from a disabled configuration accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	transitions     *prometheus.CounterVec
	processorErrors *prometheus.CounterVec

	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec

	connectorCalls    *prometheus.CounterVec
	connectorDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_transitions_total",
				Help:      "Total number of durable order state transitions",
			},
			[]string{"resource_type", "from", "to"},
		),
		processorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "processor_errors_total",
				Help:      "Orders a processor pass failed to advance",
			},
			[]string{"state", "kind"},
		),

		rpcCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "federation_calls_total",
				Help:      "Federation calls by side, operation and outcome condition",
			},
			[]string{"side", "operation", "outcome"},
		),
		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "federation_call_duration_seconds",
				Help:      "Duration of federation calls in seconds",
				Buckets:   buckets,
			},
			[]string{"side", "operation"},
		),

		connectorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connector_calls_total",
				Help:      "Cloud connector calls by member, operation and error kind",
			},
			[]string{"member", "operation", "outcome"},
		),
		connectorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connector_call_duration_seconds",
				Help:      "Duration of cloud connector calls in seconds",
				Buckets:   buckets,
			},
			[]string{"member", "operation"},
		),
	}

	collectors := []prometheus.Collector{
		m.transitions,
		m.processorErrors,
		m.rpcCalls,
		m.rpcDuration,
		m.connectorCalls,
		m.connectorDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObserveTransition counts a durable transition. It matches
// engine.TransitionObserver.
func (m *Metrics) ObserveTransition(order engine.OrderSnapshot, from, to engine.OrderState) {
	if m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(string(order.ResourceType), string(from), string(to)).Inc()
}

// ObserveProcessorError counts an order a processor failed to advance. It
// matches engine.ProcessorDeps.OnError.
func (m *Metrics) ObserveProcessorError(state engine.OrderState, _ string, err error) {
	if m.processorErrors == nil {
		return
	}
	m.processorErrors.WithLabelValues(string(state), errorKind(err)).Inc()
}

// ObserveRPC records one federation call. side is client or server and
// outcome is ok or the fault condition.
func (m *Metrics) ObserveRPC(side, operation, outcome string, d time.Duration) {
	if m.rpcCalls == nil {
		return
	}
	m.rpcCalls.WithLabelValues(side, operation, outcome).Inc()
	m.rpcDuration.WithLabelValues(side, operation).Observe(d.Seconds())
}

// ObserveConnectorCall records one cloud connector call.
func (m *Metrics) ObserveConnectorCall(member, operation string, d time.Duration, err error) {
	if m.connectorCalls == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = errorKind(err)
	}
	m.connectorCalls.WithLabelValues(member, operation, outcome).Inc()
	m.connectorDuration.WithLabelValues(member, operation).Observe(d.Seconds())
}

// TrackOrders exports the size of every order list, read from counts at
// scrape time.
func (m *Metrics) TrackOrders(counts func() map[engine.OrderState]int) error {
	if m.registry == nil {
		return nil
	}
	return m.registry.Register(&orderCollector{
		counts: counts,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(m.config.Namespace, "", "orders"),
			"Current number of orders per state",
			[]string{"state"}, nil,
		),
	})
}

type orderCollector struct {
	counts func() map[engine.OrderState]int
	desc   *prometheus.Desc
}

func (c *orderCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *orderCollector) Collect(ch chan<- prometheus.Metric) {
	for state, n := range c.counts() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), string(state))
	}
}

func errorKind(err error) string {
	if kind, ok := engine.KindOf(err); ok {
		return string(kind)
	}
	return "other"
}

// Registry returns the prometheus registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, logger zerolog.Logger) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", m.config.ListenAddress).Msg("Metrics server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
