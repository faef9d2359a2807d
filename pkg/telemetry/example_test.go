package telemetry_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/fedbroker/pkg/engine"
	"github.com/openfroyo/fedbroker/pkg/telemetry"
)

// Example_orderEvents shows the event stream fed by order transitions.
func Example_orderEvents() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = false

	tel, err := telemetry.NewTelemetry(cfg, "member-a")
	if err != nil {
		panic(err)
	}

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.Message)
	}, telemetry.FilterByType(telemetry.EventTypeOrderFailed))

	order := engine.OrderSnapshot{ID: "o1", ResourceType: engine.ResourceTypeCompute}
	tel.ObserveTransition(order, engine.OrderStateOpen, engine.OrderStateSpawning)
	tel.ObserveTransition(order, engine.OrderStateSpawning, engine.OrderStateFailedAfterSuccessfulRequest)

	_ = tel.Shutdown(context.Background())
	// Output:
	// order.failed Order o1 moved from SPAWNING to FAILED_AFTER_SUCCESSFUL_REQUEST
}
