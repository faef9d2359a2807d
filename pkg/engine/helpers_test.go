package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

const (
	memberA = "member-a"
	memberB = "member-b"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func newTestOrder(t *testing.T, requesting, providing string) *Order {
	t.Helper()
	o, err := NewOrder(requesting, providing,
		SystemUser{ID: "alice", Name: "Alice", IdentityProvider: requesting},
		"token",
		&ComputePayload{ImageID: "img-1", VCPU: 2, RAMMB: 2048, DiskGB: 20})
	if err != nil {
		t.Fatalf("NewOrder() failed: %v", err)
	}
	return o
}

// memStore is an in-memory OrderStore.
type memStore struct {
	mu          sync.Mutex
	orders      map[string]OrderSnapshot
	deactivated map[string]bool
	changes     []StateChange
	failPersist bool
}

func newMemStore() *memStore {
	return &memStore{
		orders:      make(map[string]OrderSnapshot),
		deactivated: make(map[string]bool),
	}
}

func (s *memStore) Persist(_ context.Context, o OrderSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPersist {
		return errors.New("disk full")
	}
	s.orders[o.ID] = o
	return nil
}

func (s *memStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.orders[id]
	return ok, nil
}

func (s *memStore) FindByState(_ context.Context, state OrderState) ([]OrderSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OrderSnapshot
	for id, o := range s.orders {
		if o.State == state && !s.deactivated[id] {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) AppendStateChange(_ context.Context, c StateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
	return nil
}

func (s *memStore) MarkDeactivated(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated[id] = true
	return nil
}

func (s *memStore) stored(id string) (OrderSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

// fakeConnector is a scriptable CloudConnector.
type fakeConnector struct {
	mu           sync.Mutex
	requestErr   error
	instance     *Instance
	getErr       error
	deleteErr    error
	requested    []string
	deleted      []string
	nextInstance string

	// onRequest runs at the start of RequestInstance, outside c.mu.
	onRequest func(OrderSnapshot)
}

func (c *fakeConnector) RequestInstance(_ context.Context, o OrderSnapshot) (string, error) {
	if c.onRequest != nil {
		c.onRequest(o)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requested = append(c.requested, o.ID)
	if c.requestErr != nil {
		return "", c.requestErr
	}
	if c.nextInstance != "" {
		return c.nextInstance, nil
	}
	return "inst-" + o.ID, nil
}

func (c *fakeConnector) GetInstance(_ context.Context, o OrderSnapshot) (*Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.instance, nil
}

func (c *fakeConnector) DeleteInstance(_ context.Context, o OrderSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, o.ID)
	return c.deleteErr
}

func (c *fakeConnector) GetUserQuota(context.Context, SystemUser, string, ResourceType) (*Quota, error) {
	return &Quota{}, nil
}

func (c *fakeConnector) GetImage(context.Context, SystemUser, string, string) (*Image, error) {
	return &Image{}, nil
}

func (c *fakeConnector) GetAllImages(context.Context, SystemUser, string) ([]ImageSummary, error) {
	return nil, nil
}

type fakeResolver map[string]CloudConnector

func (r fakeResolver) ConnectorFor(member string) (CloudConnector, error) {
	c, ok := r[member]
	if !ok {
		return nil, NewUnexpectedError("unknown member "+member, nil)
	}
	return c, nil
}

type notification struct {
	target string
	event  RemoteEvent
	order  OrderSnapshot
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, target string, event RemoteEvent, o OrderSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{target: target, event: event, order: o})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

// assertInExactlyOneList fails unless the order is in exactly the list of its state.
func assertInExactlyOneList(t *testing.T, r *Registry, o *Order) {
	t.Helper()
	state := o.CurrentState()
	found := 0
	for _, s := range r.States() {
		l, _ := r.ListFor(s)
		if l.Contains(o.ID) {
			found++
			if s != state {
				t.Errorf("order %s found in %s list, state is %s", o.ID, s, state)
			}
		}
	}
	if found != 1 {
		t.Errorf("order %s is in %d lists, want 1", o.ID, found)
	}
}
