package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testOrder(t *testing.T, payload engine.Payload) *engine.Order {
	t.Helper()
	o, err := engine.NewOrder("member-a", "member-b",
		engine.SystemUser{ID: "alice", Name: "Alice", IdentityProvider: "member-a"},
		"tok", payload)
	if err != nil {
		t.Fatalf("NewOrder() failed: %v", err)
	}
	return o
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"orders", "order_state_changes"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// running again is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second Migrate() failed: %v", err)
	}
}

func TestPersistAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	o := testOrder(t, &engine.NetworkPayload{CIDR: "10.1.0.0/24", Gateway: "10.1.0.1"})
	if err := store.Persist(ctx, o.Snapshot()); err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}

	rec, err := store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder() failed: %v", err)
	}
	got := rec.Order
	if got.State != engine.OrderStateOpen || got.ResourceType != engine.ResourceTypeNetwork {
		t.Errorf("got %s/%s", got.State, got.ResourceType)
	}
	if got.User.Name != "Alice" || got.UserToken != "tok" {
		t.Errorf("user = %+v token = %q", got.User, got.UserToken)
	}
	net, ok := got.Payload.(*engine.NetworkPayload)
	if !ok || net.CIDR != "10.1.0.0/24" {
		t.Errorf("payload = %#v", got.Payload)
	}
	if !got.CreatedAt.Equal(o.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, o.CreatedAt)
	}

	// update
	o.Lock()
	o.State = engine.OrderStatePending
	o.InstanceID = o.ID
	o.Payload.(*engine.NetworkPayload).ActualGateway = "10.1.0.254"
	snap := o.SnapshotLocked()
	o.Unlock()
	if err := store.Persist(ctx, snap); err != nil {
		t.Fatalf("Persist() update failed: %v", err)
	}

	rec, err = store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder() failed: %v", err)
	}
	if rec.Order.State != engine.OrderStatePending || rec.Order.InstanceID != o.ID {
		t.Errorf("updated order = %s/%s", rec.Order.State, rec.Order.InstanceID)
	}
	if gw := rec.Order.Payload.(*engine.NetworkPayload).ActualGateway; gw != "10.1.0.254" {
		t.Errorf("ActualGateway = %q", gw)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetOrder(context.Background(), "missing")
	if !engine.IsNotFound(err) {
		t.Errorf("GetOrder() error = %v, want not found", err)
	}
}

func TestExists(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	o := testOrder(t, &engine.VolumePayload{SizeGB: 5})

	exists, err := store.Exists(ctx, o.ID)
	if err != nil || exists {
		t.Fatalf("Exists() before persist = %v, %v", exists, err)
	}
	if err := store.Persist(ctx, o.Snapshot()); err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}
	exists, err = store.Exists(ctx, o.ID)
	if err != nil || !exists {
		t.Errorf("Exists() after persist = %v, %v", exists, err)
	}
}

func TestRegistryRejectsDeactivatedID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	registry := engine.NewRegistry(store, zerolog.Nop())
	transitioner := engine.NewTransitioner(registry, engine.TransitionerConfig{
		Graph: engine.DefaultTransitionGraph(),
	}, zerolog.Nop())

	o := testOrder(t, &engine.VolumePayload{SizeGB: 5})
	if err := registry.Activate(ctx, o); err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}
	if err := transitioner.Transition(ctx, o, engine.OrderStateClosed); err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}
	if err := registry.Deactivate(ctx, o); err != nil {
		t.Fatalf("Deactivate() failed: %v", err)
	}

	reused := testOrder(t, &engine.VolumePayload{SizeGB: 5})
	reused.ID = o.ID
	if err := registry.Activate(ctx, reused); !engine.IsKind(err, engine.KindInvalidParameter) {
		t.Fatalf("Activate() of a deactivated id error = %v, want invalid parameter", err)
	}

	open, err := store.FindByState(ctx, engine.OrderStateOpen)
	if err != nil {
		t.Fatalf("FindByState() failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("FindByState(OPEN) = %d orders, want 0", len(open))
	}
}

func TestFindByStateSkipsDeactivated(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var closed []*engine.Order
	for i := 0; i < 3; i++ {
		o := testOrder(t, &engine.VolumePayload{SizeGB: i + 1})
		o.State = engine.OrderStateClosed
		if err := store.Persist(ctx, o.Snapshot()); err != nil {
			t.Fatalf("Persist() failed: %v", err)
		}
		closed = append(closed, o)
	}
	if err := store.MarkDeactivated(ctx, closed[1].ID); err != nil {
		t.Fatalf("MarkDeactivated() failed: %v", err)
	}

	found, err := store.FindByState(ctx, engine.OrderStateClosed)
	if err != nil {
		t.Fatalf("FindByState() failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("FindByState() returned %d orders, want 2", len(found))
	}
	for _, o := range found {
		if o.ID == closed[1].ID {
			t.Error("deactivated order returned")
		}
	}

	all, err := store.ListOrders(ctx, OrderFilter{IncludeDeactivated: true})
	if err != nil {
		t.Fatalf("ListOrders() failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListOrders(IncludeDeactivated) returned %d, want 3", len(all))
	}

	if err := store.MarkDeactivated(ctx, "missing"); !engine.IsNotFound(err) {
		t.Errorf("MarkDeactivated(missing) error = %v, want not found", err)
	}
}

func TestListOrdersFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		o := testOrder(t, &engine.VolumePayload{SizeGB: 1})
		if i%2 == 0 {
			o.State = engine.OrderStatePending
		}
		if err := store.Persist(ctx, o.Snapshot()); err != nil {
			t.Fatalf("Persist() failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter OrderFilter
		want   int
	}{
		{"all", OrderFilter{}, 5},
		{"pending", OrderFilter{State: engine.OrderStatePending}, 3},
		{"by provider", OrderFilter{ProvidingMember: "member-b"}, 5},
		{"other provider", OrderFilter{ProvidingMember: "member-x"}, 0},
		{"paged", OrderFilter{Limit: 2, Offset: 4}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListOrders(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListOrders() failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("ListOrders() returned %d, want %d", len(got), tt.want)
			}
		})
	}

	counts, err := store.CountByState(ctx)
	if err != nil {
		t.Fatalf("CountByState() failed: %v", err)
	}
	if counts[engine.OrderStatePending] != 3 || counts[engine.OrderStateOpen] != 2 {
		t.Errorf("CountByState() = %v", counts)
	}
}

func TestStateChanges(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	o := testOrder(t, &engine.VolumePayload{SizeGB: 1})
	if err := store.Persist(ctx, o.Snapshot()); err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}

	steps := []engine.StateChange{
		{OrderID: o.ID, To: engine.OrderStateOpen},
		{OrderID: o.ID, From: engine.OrderStateOpen, To: engine.OrderStatePending},
		{OrderID: o.ID, From: engine.OrderStatePending, To: engine.OrderStateFulfilled},
	}
	for _, c := range steps {
		c.At = time.Now()
		if err := store.AppendStateChange(ctx, c); err != nil {
			t.Fatalf("AppendStateChange() failed: %v", err)
		}
	}

	got, err := store.StateChanges(ctx, o.ID)
	if err != nil {
		t.Fatalf("StateChanges() failed: %v", err)
	}
	if len(got) != len(steps) {
		t.Fatalf("StateChanges() returned %d, want %d", len(got), len(steps))
	}
	for i, c := range got {
		if c.From != steps[i].From || c.To != steps[i].To {
			t.Errorf("change %d = %s->%s, want %s->%s", i, c.From, c.To, steps[i].From, steps[i].To)
		}
	}
}

func TestAppendStateChange_UnknownOrder(t *testing.T) {
	store := setupTestStore(t)

	err := store.AppendStateChange(context.Background(),
		engine.StateChange{OrderID: "missing", To: engine.OrderStateOpen})
	if err == nil {
		t.Error("expected foreign key violation")
	}
}

// TestRegistryRecoversFromFile runs the registry and transitioner against a
// file-backed store, reopens it and checks nothing was lost.
func TestRegistryRecoversFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "orders.db")
	logger := zerolog.Nop()

	store, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	registry := engine.NewRegistry(store, logger)
	transitioner := engine.NewTransitioner(registry, engine.TransitionerConfig{
		Graph: engine.DefaultTransitionGraph(),
	}, logger)

	spawning := testOrder(t, &engine.ComputePayload{ImageID: "img", VCPU: 1, RAMMB: 512})
	open := testOrder(t, &engine.VolumePayload{SizeGB: 3})
	for _, o := range []*engine.Order{spawning, open} {
		if err := registry.Activate(ctx, o); err != nil {
			t.Fatalf("Activate() failed: %v", err)
		}
	}
	if err := transitioner.Transition(ctx, spawning, engine.OrderStateSpawning); err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer reopened.Close()

	recovered := engine.NewRegistry(reopened, logger)
	n, err := recovered.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Recover() = %d, want 2", n)
	}

	got, err := recovered.Lookup(spawning.ID)
	if err != nil {
		t.Fatalf("Lookup() failed: %v", err)
	}
	if got.CurrentState() != engine.OrderStateSpawning {
		t.Errorf("state = %s, want SPAWNING", got.CurrentState())
	}
	list, _ := recovered.ListFor(engine.OrderStateSpawning)
	if !list.Contains(spawning.ID) {
		t.Error("recovered order missing from SPAWNING list")
	}

	history, err := reopened.StateChanges(ctx, spawning.ID)
	if err != nil {
		t.Fatalf("StateChanges() failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history has %d entries, want 2", len(history))
	}
}
