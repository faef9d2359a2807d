package connectors

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// Recorder observes connector calls.
type Recorder interface {
	ObserveConnectorCall(member, op string, d time.Duration, err error)
}

// Registry maps member ids to connectors. It implements engine.ConnectorResolver.
type Registry struct {
	mu          sync.RWMutex
	localMember string
	connectors  map[string]engine.CloudConnector
	recorder    Recorder
}

var _ engine.ConnectorResolver = (*Registry)(nil)

// NewRegistry creates a registry with the local member's connector.
func NewRegistry(localMember string, local engine.CloudConnector) *Registry {
	r := &Registry{
		localMember: localMember,
		connectors:  make(map[string]engine.CloudConnector),
	}
	if local != nil {
		r.connectors[localMember] = local
	}
	return r
}

// SetRecorder instruments every connector returned from now on.
func (r *Registry) SetRecorder(rec Recorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = rec
}

// Register adds the connector for member.
func (r *Registry) Register(member string, c engine.CloudConnector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[member]; exists {
		return fmt.Errorf("connector for member %s already registered", member)
	}
	r.connectors[member] = c
	return nil
}

// RegisterRemote adds a RemoteConnector for each peer.
func (r *Registry) RegisterRemote(caller Caller, peers ...string) error {
	for _, peer := range peers {
		if peer == r.localMember {
			continue
		}
		if err := r.Register(peer, NewRemoteConnector(peer, caller)); err != nil {
			return err
		}
	}
	return nil
}

// ConnectorFor returns the connector reaching member.
func (r *Registry) ConnectorFor(member string) (engine.CloudConnector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[member]
	if !ok {
		return nil, engine.NewUnexpectedError(fmt.Sprintf("no connector for member %s", member), nil)
	}
	if r.recorder != nil {
		return &instrumented{member: member, next: c, rec: r.recorder}, nil
	}
	return c, nil
}

// Members lists the members with a connector.
func (r *Registry) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]string, 0, len(r.connectors))
	for m := range r.connectors {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}

// instrumented reports the latency and outcome of every call.
type instrumented struct {
	member string
	next   engine.CloudConnector
	rec    Recorder
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	i.rec.ObserveConnectorCall(i.member, op, time.Since(start), err)
}

func (i *instrumented) RequestInstance(ctx context.Context, o engine.OrderSnapshot) (string, error) {
	start := time.Now()
	id, err := i.next.RequestInstance(ctx, o)
	i.observe("request_instance", start, err)
	return id, err
}

func (i *instrumented) GetInstance(ctx context.Context, o engine.OrderSnapshot) (*engine.Instance, error) {
	start := time.Now()
	inst, err := i.next.GetInstance(ctx, o)
	i.observe("get_instance", start, err)
	return inst, err
}

func (i *instrumented) DeleteInstance(ctx context.Context, o engine.OrderSnapshot) error {
	start := time.Now()
	err := i.next.DeleteInstance(ctx, o)
	i.observe("delete_instance", start, err)
	return err
}

func (i *instrumented) GetUserQuota(ctx context.Context, u engine.SystemUser, tok string, rt engine.ResourceType) (*engine.Quota, error) {
	start := time.Now()
	q, err := i.next.GetUserQuota(ctx, u, tok, rt)
	i.observe("get_user_quota", start, err)
	return q, err
}

func (i *instrumented) GetImage(ctx context.Context, u engine.SystemUser, tok, imageID string) (*engine.Image, error) {
	start := time.Now()
	img, err := i.next.GetImage(ctx, u, tok, imageID)
	i.observe("get_image", start, err)
	return img, err
}

func (i *instrumented) GetAllImages(ctx context.Context, u engine.SystemUser, tok string) ([]engine.ImageSummary, error) {
	start := time.Now()
	imgs, err := i.next.GetAllImages(ctx, u, tok)
	i.observe("get_all_images", start, err)
	return imgs, err
}
