package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func newTestEngine(t *testing.T, store OrderStore, notifier EventNotifier, states ...OrderState) (*Registry, *Transitioner) {
	t.Helper()
	r := NewRegistry(store, testLogger(), states...)
	tr := NewTransitioner(r, TransitionerConfig{
		LocalMember: memberA,
		Graph:       DefaultTransitionGraph(),
		Notifier:    notifier,
	}, testLogger())
	return r, tr
}

func TestTransition_OpenToSpawning(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	r, tr := newTestEngine(t, store, nil)
	o := newTestOrder(t, memberA, memberA)
	if err := r.Activate(ctx, o); err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}

	if err := tr.Transition(ctx, o, OrderStateSpawning); err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}

	open, _ := r.ListFor(OrderStateOpen)
	spawning, _ := r.ListFor(OrderStateSpawning)
	if open.Contains(o.ID) {
		t.Error("order still in OPEN list")
	}
	if !spawning.Contains(o.ID) {
		t.Error("order missing from SPAWNING list")
	}
	if o.CurrentState() != OrderStateSpawning {
		t.Errorf("state = %s, want SPAWNING", o.CurrentState())
	}

	stored, _ := store.stored(o.ID)
	if stored.State != OrderStateSpawning {
		t.Errorf("stored state = %s, want SPAWNING", stored.State)
	}
	last := store.changes[len(store.changes)-1]
	if last.From != OrderStateOpen || last.To != OrderStateSpawning {
		t.Errorf("audit record = %+v", last)
	}
}

func TestTransition_UnregisteredDestination(t *testing.T) {
	ctx := context.Background()
	r, tr := newTestEngine(t, newMemStore(), nil, OrderStateOpen, OrderStateSpawning)
	o := newTestOrder(t, memberA, memberA)
	if err := r.Activate(ctx, o); err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}

	err := tr.Transition(ctx, o, OrderStateFulfilled)
	if !IsUnexpected(err) {
		t.Fatalf("Transition() error = %v, want unexpected", err)
	}
	if o.CurrentState() != OrderStateOpen {
		t.Errorf("state = %s, want OPEN", o.CurrentState())
	}
	open, _ := r.ListFor(OrderStateOpen)
	if !open.Contains(o.ID) {
		t.Error("order left its OPEN list")
	}
}

func TestTransition_UnregisteredOrigin(t *testing.T) {
	r, tr := newTestEngine(t, nil, nil, OrderStateOpen)
	o := newTestOrder(t, memberA, memberA)
	if err := r.Insert(o); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	o.State = OrderStatePending

	if err := tr.Transition(context.Background(), o, OrderStateOpen); !IsUnexpected(err) {
		t.Errorf("Transition() error = %v, want unexpected", err)
	}
}

func TestTransition_IllegalEdge(t *testing.T) {
	ctx := context.Background()
	r, tr := newTestEngine(t, nil, nil)
	o := newTestOrder(t, memberA, memberA)
	if err := r.Insert(o); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	if err := tr.Transition(ctx, o, OrderStateFulfilled); !IsUnexpected(err) {
		t.Fatalf("Transition(OPEN->FULFILLED) error = %v, want unexpected", err)
	}
	assertInExactlyOneList(t, r, o)

	if err := tr.Transition(ctx, o, OrderStateClosed); err != nil {
		t.Fatalf("Transition(OPEN->CLOSED) failed: %v", err)
	}
	if err := tr.Transition(ctx, o, OrderStateOpen); !IsUnexpected(err) {
		t.Errorf("Transition(CLOSED->OPEN) error = %v, want unexpected", err)
	}
}

func TestTransition_PersistFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	r, tr := newTestEngine(t, store, nil)
	o := newTestOrder(t, memberA, memberA)
	if err := r.Activate(ctx, o); err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}

	store.failPersist = true
	if err := tr.Transition(ctx, o, OrderStateSpawning); !IsUnexpected(err) {
		t.Fatalf("Transition() error = %v, want unexpected", err)
	}

	if o.CurrentState() != OrderStateOpen {
		t.Errorf("state = %s, want OPEN", o.CurrentState())
	}
	assertInExactlyOneList(t, r, o)
	stored, _ := store.stored(o.ID)
	if stored.State != OrderStateOpen {
		t.Errorf("stored state = %s, want OPEN", stored.State)
	}
}

func TestTransitionFrom_Guard(t *testing.T) {
	ctx := context.Background()
	r, tr := newTestEngine(t, nil, nil)
	o := newTestOrder(t, memberA, memberB)
	if err := r.Insert(o); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	moved, err := tr.TransitionFrom(ctx, o, OrderStateSpawning, OrderStateFulfilled)
	if err != nil || moved {
		t.Fatalf("TransitionFrom(wrong origin) = %v, %v; want false, nil", moved, err)
	}

	moved, err = tr.TransitionFrom(ctx, o, OrderStateOpen, OrderStatePending)
	if err != nil || !moved {
		t.Fatalf("TransitionFrom() = %v, %v; want true, nil", moved, err)
	}
	assertInExactlyOneList(t, r, o)
}

func TestTransition_NotifiesRemoteRequester(t *testing.T) {
	tests := []struct {
		name       string
		requesting string
		providing  string
		dest       OrderState
		wantEvent  RemoteEvent
		wantNotify bool
	}{
		{"remote requester fulfilled", memberB, memberA, OrderStateFulfilled, RemoteEventInstanceFulfilled, true},
		{"remote requester failed", memberB, memberA, OrderStateFailedAfterSuccessfulRequest, RemoteEventInstanceFailed, true},
		{"local requester fulfilled", memberA, memberA, OrderStateFulfilled, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			n := &recordingNotifier{}
			r, tr := newTestEngine(t, newMemStore(), n)
			o := newTestOrder(t, tt.requesting, tt.providing)
			if err := r.Activate(ctx, o); err != nil {
				t.Fatalf("Activate() failed: %v", err)
			}
			if err := tr.Transition(ctx, o, OrderStateSpawning); err != nil {
				t.Fatalf("Transition(SPAWNING) failed: %v", err)
			}
			if err := tr.Transition(ctx, o, tt.dest); err != nil {
				t.Fatalf("Transition(%s) failed: %v", tt.dest, err)
			}

			sent := n.all()
			if !tt.wantNotify {
				if len(sent) != 0 {
					t.Errorf("sent %d notifications, want 0", len(sent))
				}
				return
			}
			if len(sent) != 1 {
				t.Fatalf("sent %d notifications, want 1", len(sent))
			}
			if sent[0].target != tt.requesting || sent[0].event != tt.wantEvent {
				t.Errorf("notification = %s/%s, want %s/%s", sent[0].target, sent[0].event, tt.requesting, tt.wantEvent)
			}
			if sent[0].order.State != tt.dest {
				t.Errorf("notified state = %s, want %s", sent[0].order.State, tt.dest)
			}
		})
	}
}

func TestTransition_ConcurrentOnSameOrder(t *testing.T) {
	ctx := context.Background()
	r, tr := newTestEngine(t, newMemStore(), nil)
	o := newTestOrder(t, memberA, memberB)
	if err := r.Activate(ctx, o); err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			moved, err := tr.TransitionFrom(ctx, o, OrderStateOpen, OrderStatePending)
			if err != nil {
				t.Errorf("TransitionFrom() failed: %v", err)
				return
			}
			if moved {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d goroutines moved the order, want 1", wins)
	}
	assertInExactlyOneList(t, r, o)
}

func TestTransition_MembershipUnderLoad(t *testing.T) {
	ctx := context.Background()
	r, tr := newTestEngine(t, nil, nil)

	orders := make([]*Order, 50)
	for i := range orders {
		orders[i] = newTestOrder(t, memberA, memberA)
		if err := r.Insert(orders[i]); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	path := []OrderState{OrderStateSpawning, OrderStateFulfilled, OrderStateClosed}
	var wg sync.WaitGroup
	for _, o := range orders {
		for _, dest := range path {
			wg.Add(1)
			go func(o *Order, dest OrderState) {
				defer wg.Done()
				// only legal edges succeed; the rest fail without side effects
				_ = tr.Transition(ctx, o, dest)
			}(o, dest)
		}
	}
	wg.Wait()

	for _, o := range orders {
		assertInExactlyOneList(t, r, o)
	}
	total := 0
	for _, c := range r.Counts() {
		total += c
	}
	if total != len(orders) {
		t.Errorf("lists hold %d orders, want %d", total, len(orders))
	}
}

func ExampleTransitioner_Transition() {
	ctx := context.Background()
	registry := NewRegistry(nil, testLogger())
	transitioner := NewTransitioner(registry, TransitionerConfig{Graph: DefaultTransitionGraph()}, testLogger())

	order, _ := NewOrder("member-a", "member-a",
		SystemUser{ID: "alice", IdentityProvider: "member-a"}, "token",
		&VolumePayload{SizeGB: 10})
	_ = registry.Activate(ctx, order)

	if err := transitioner.Transition(ctx, order, OrderStateSpawning); err != nil {
		fmt.Println(err)
		return
	}
	spawning, _ := registry.ListFor(OrderStateSpawning)
	fmt.Println(order.CurrentState(), spawning.Size())
	// Output: SPAWNING 1
}
