// Package telemetry provides the observability stack of a broker member.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), prometheus metrics and an in-process order event stream.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	tel, err := telemetry.NewTelemetry(&cfg.Telemetry, cfg.Member.ID)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// The Telemetry value plugs into the engine and the federation layer:
//
//	engine.TransitionerConfig{Observer: tel.ObserveTransition, Tracer: tel.Tracer}
//	engine.ProcessorDeps{OnError: tel.ObserveProcessorError, Tracer: tel.Tracer}
//	transport.ServerConfig{Recorder: tel.Metrics}
//	connectors.Registry.SetRecorder(tel.Metrics)
//
// # Logging
//
// Library packages take a plain zerolog.Logger; obtain it with Zerolog:
//
//	logger := tel.Logger.NewComponentLogger("facade")
//	facade.New(cfg, logger.Zerolog())
//
// Events logged with a context that carries a span get trace_id and span_id
// fields.
//
// # Metrics
//
// Metrics are exposed over HTTP at MetricsConfig.Path:
//
//	fedbroker_orders{state}
//	fedbroker_order_transitions_total{resource_type,from,to}
//	fedbroker_processor_errors_total{state,kind}
//	fedbroker_federation_calls_total{side,operation,outcome}
//	fedbroker_federation_call_duration_seconds{side,operation}
//	fedbroker_connector_calls_total{member,operation,outcome}
//	fedbroker_connector_call_duration_seconds{member,operation}
//
// # Tracing
//
// NewTracer installs its provider globally. Supported exporters are otlp
// (gRPC) and stdout. Every processor pass over an order and every transition
// runs in an order span; RecordError marks a span failed with the error kind.
package telemetry
