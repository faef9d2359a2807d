package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/fedbroker/pkg/engine"
	"github.com/openfroyo/fedbroker/pkg/federation/protocol"
)

var alice = engine.SystemUser{ID: "alice", IdentityProvider: "member-a"}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func newSim(readyAfter int) *SimulatedCloud {
	return NewSimulatedCloud("sim", SimulatedConfig{
		ReadyAfter: readyAfter,
		Capacity:   engine.Allocation{Instances: 2, VCPU: 4, RAMMB: 8192, DiskGB: 100, Volumes: 1, StorageGB: 50, Networks: 1, PublicIPs: 1},
		Images: []engine.Image{
			{ID: "good", Name: "Good", Status: "active"},
			{ID: "broken", Name: "Broken", Status: "killed"},
		},
	}, testLogger())
}

func TestSimulatedCloud_Lifecycle(t *testing.T) {
	ctx := context.Background()
	sim := newSim(2)

	id, err := sim.Create(ctx, alice, &engine.ComputePayload{ImageID: "good", VCPU: 2, RAMMB: 1024, DiskGB: 10})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		inst, err := sim.Get(ctx, engine.ResourceTypeCompute, id)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if inst.State != engine.InstanceStateCreating {
			t.Fatalf("poll %d: state = %s, want CREATING", i+1, inst.State)
		}
	}

	inst, err := sim.Get(ctx, engine.ResourceTypeCompute, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if inst.State != engine.InstanceStateReady {
		t.Fatalf("state = %s, want READY", inst.State)
	}
	if got := inst.Details.(*engine.ComputePayload).ActualVCPU; got != 2 {
		t.Errorf("ActualVCPU = %d, want 2", got)
	}

	q, _ := sim.Quota(ctx, alice, engine.ResourceTypeCompute)
	if q.Used.VCPU != 2 || q.Available().VCPU != 2 {
		t.Errorf("quota = %+v", q)
	}

	if err := sim.Delete(ctx, engine.ResourceTypeCompute, id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	q, _ = sim.Quota(ctx, alice, engine.ResourceTypeCompute)
	if q.Used.VCPU != 0 {
		t.Errorf("quota not released: %+v", q)
	}
	if _, err := sim.Get(ctx, engine.ResourceTypeCompute, id); !engine.IsNotFound(err) {
		t.Errorf("Get() after delete error = %v, want not found", err)
	}
	if err := sim.Delete(ctx, engine.ResourceTypeCompute, id); !engine.IsNotFound(err) {
		t.Errorf("Delete() twice error = %v, want not found", err)
	}
}

func TestSimulatedCloud_CreateErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		payload  engine.Payload
		wantKind engine.ErrorKind
	}{
		{"unknown image", &engine.ComputePayload{ImageID: "missing", VCPU: 1, RAMMB: 1}, engine.KindInvalidParameter},
		{"too many vcpus", &engine.ComputePayload{ImageID: "good", VCPU: 8, RAMMB: 1}, engine.KindQuotaExceeded},
		{"volume too large", &engine.VolumePayload{SizeGB: 500}, engine.KindQuotaExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := newSim(0)
			_, err := sim.Create(ctx, alice, tt.payload)
			if !engine.IsKind(err, tt.wantKind) {
				t.Errorf("Create() error = %v, want %s", err, tt.wantKind)
			}
			if sim.Len() != 0 {
				t.Errorf("failed create left %d instances", sim.Len())
			}
		})
	}
}

func TestSimulatedCloud_QuotaIsPerUser(t *testing.T) {
	ctx := context.Background()
	sim := newSim(0)
	bob := engine.SystemUser{ID: "bob", IdentityProvider: "member-b"}

	if _, err := sim.Create(ctx, alice, &engine.NetworkPayload{CIDR: "10.0.0.0/24"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := sim.Create(ctx, alice, &engine.NetworkPayload{CIDR: "10.0.1.0/24"}); !engine.IsKind(err, engine.KindQuotaExceeded) {
		t.Errorf("second network error = %v, want quota exceeded", err)
	}
	if _, err := sim.Create(ctx, bob, &engine.NetworkPayload{CIDR: "10.0.1.0/24"}); err != nil {
		t.Errorf("other user's network failed: %v", err)
	}
}

func TestSimulatedCloud_Details(t *testing.T) {
	ctx := context.Background()
	sim := newSim(0)

	tests := []struct {
		name    string
		payload engine.Payload
		check   func(engine.Payload) bool
	}{
		{"network gateway", &engine.NetworkPayload{CIDR: "10.1.2.0/24"},
			func(p engine.Payload) bool { return p.(*engine.NetworkPayload).ActualGateway == "10.1.2.1" }},
		{"explicit gateway", &engine.NetworkPayload{CIDR: "10.1.3.0/24", Gateway: "10.1.3.254"},
			func(p engine.Payload) bool { return p.(*engine.NetworkPayload).ActualGateway == "10.1.3.254" }},
		{"attachment device", &engine.AttachmentPayload{ComputeOrderID: "c", VolumeOrderID: "v"},
			func(p engine.Payload) bool { return p.(*engine.AttachmentPayload).ActualDevice == "/dev/vdb" }},
		{"public ip", &engine.PublicIPPayload{ComputeOrderID: "c"},
			func(p engine.Payload) bool { return p.(*engine.PublicIPPayload).ActualIP != "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSim(0)
			id, err := s.Create(ctx, alice, tt.payload)
			if err != nil {
				t.Fatalf("Create() failed: %v", err)
			}
			inst, err := s.Get(ctx, tt.payload.ResourceType(), id)
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if !tt.check(inst.Details) {
				t.Errorf("details = %+v", inst.Details)
			}
		})
	}

	id, _ := sim.Create(ctx, alice, &engine.PublicIPPayload{ComputeOrderID: "c"})
	first, _ := sim.Get(ctx, engine.ResourceTypePublicIP, id)
	second, _ := sim.Get(ctx, engine.ResourceTypePublicIP, id)
	if first.Details.(*engine.PublicIPPayload).ActualIP != second.Details.(*engine.PublicIPPayload).ActualIP {
		t.Error("public IP changed between polls")
	}
}

func TestSimulatedCloud_BrokenImageFails(t *testing.T) {
	ctx := context.Background()
	sim := newSim(0)

	id, err := sim.Create(ctx, alice, &engine.ComputePayload{ImageID: "broken", VCPU: 1, RAMMB: 1})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	inst, err := sim.Get(ctx, engine.ResourceTypeCompute, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if inst.State != engine.InstanceStateFailed {
		t.Errorf("state = %s, want FAILED", inst.State)
	}
}

func TestSimulatedCloud_Images(t *testing.T) {
	ctx := context.Background()
	sim := newSim(0)

	images, err := sim.Images(ctx, alice)
	if err != nil {
		t.Fatalf("Images() failed: %v", err)
	}
	if len(images) != 2 || images[0].ID != "broken" || images[1].ID != "good" {
		t.Errorf("Images() = %+v", images)
	}
	if _, err := sim.Image(ctx, alice, "nope"); !engine.IsNotFound(err) {
		t.Errorf("Image() error = %v, want not found", err)
	}

	defaults := NewSimulatedCloud("d", SimulatedConfig{}, testLogger())
	if imgs, _ := defaults.Images(ctx, alice); len(imgs) != len(DefaultImages) {
		t.Errorf("default images = %d, want %d", len(imgs), len(DefaultImages))
	}
}

func TestLocalConnector(t *testing.T) {
	ctx := context.Background()
	conn := NewLocalConnector(newSim(0), testLogger())

	snap := engine.OrderSnapshot{
		ID:           "o1",
		ResourceType: engine.ResourceTypeVolume,
		User:         alice,
		Payload:      &engine.VolumePayload{SizeGB: 10},
	}

	if _, err := conn.GetInstance(ctx, snap); !engine.IsNotFound(err) {
		t.Errorf("GetInstance() without instance error = %v, want not found", err)
	}

	id, err := conn.RequestInstance(ctx, snap)
	if err != nil {
		t.Fatalf("RequestInstance() failed: %v", err)
	}
	snap.InstanceID = id

	inst, err := conn.GetInstance(ctx, snap)
	if err != nil {
		t.Fatalf("GetInstance() failed: %v", err)
	}
	if inst.State != engine.InstanceStateReady {
		t.Errorf("state = %s", inst.State)
	}
	if err := conn.DeleteInstance(ctx, snap); err != nil {
		t.Fatalf("DeleteInstance() failed: %v", err)
	}

	snap.Payload = &engine.VolumePayload{SizeGB: 1000}
	_, err = conn.RequestInstance(ctx, snap)
	if !engine.IsKind(err, engine.KindQuotaExceeded) {
		t.Errorf("RequestInstance() error = %v, want quota exceeded", err)
	}
}

// fakeCaller answers requests from a handler.
type fakeCaller struct {
	mu      sync.Mutex
	calls   []*protocol.Request
	members []string
	handle  func(*protocol.Request) (*protocol.Response, error)
}

func (f *fakeCaller) Call(_ context.Context, member string, req *protocol.Request) (*protocol.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.members = append(f.members, member)
	f.mu.Unlock()
	return f.handle(req)
}

func TestRemoteConnector(t *testing.T) {
	ctx := context.Background()
	caller := &fakeCaller{handle: func(req *protocol.Request) (*protocol.Response, error) {
		switch req.Operation {
		case protocol.OpCreateOrder, protocol.OpDeleteOrder:
			return protocol.Empty(req.ID), nil
		case protocol.OpGetOrder:
			var ref protocol.OrderRef
			if err := json.Unmarshal(req.Payload, &ref); err != nil {
				return nil, err
			}
			return protocol.Success(req.ID, protocol.InstancePayload(ref.ResourceType), engine.Instance{
				ID: ref.OrderID, ResourceType: ref.ResourceType, State: engine.InstanceStateReady,
				Details: &engine.VolumePayload{ActualSizeGB: 10},
			})
		case protocol.OpGetUserQuota:
			return protocol.Success(req.ID, protocol.QuotaPayload(engine.ResourceTypeVolume),
				engine.Quota{Total: engine.Allocation{Volumes: 3}})
		case protocol.OpGetImage:
			return protocol.Success(req.ID, protocol.PayloadImage, engine.Image{ID: "img", Name: "Img"})
		case protocol.OpGetAllImages:
			return protocol.Success(req.ID, protocol.PayloadImageList,
				protocol.ImageList{Images: []engine.ImageSummary{{ID: "img"}}})
		}
		return nil, errors.New("unexpected operation")
	}}
	conn := NewRemoteConnector("member-b", caller)

	snap := engine.OrderSnapshot{
		ID:               "o1",
		ResourceType:     engine.ResourceTypeVolume,
		RequestingMember: "member-a",
		ProvidingMember:  "member-b",
		User:             alice,
		UserToken:        "tok",
		State:            engine.OrderStateOpen,
		Payload:          &engine.VolumePayload{SizeGB: 10},
	}

	id, err := conn.RequestInstance(ctx, snap)
	if err != nil {
		t.Fatalf("RequestInstance() failed: %v", err)
	}
	if id != "o1" {
		t.Errorf("instance id = %s, want the order id", id)
	}
	if caller.calls[0].PayloadType != protocol.OrderPayload(engine.ResourceTypeVolume) {
		t.Errorf("payload type = %s", caller.calls[0].PayloadType)
	}
	shipped, err := protocol.DecodeOrder(caller.calls[0].PayloadType, caller.calls[0].Payload)
	if err != nil {
		t.Fatalf("DecodeOrder() failed: %v", err)
	}
	if shipped.UserToken != "tok" {
		t.Error("user token not forwarded")
	}

	inst, err := conn.GetInstance(ctx, snap)
	if err != nil {
		t.Fatalf("GetInstance() failed: %v", err)
	}
	if inst.State != engine.InstanceStateReady || inst.Details.(*engine.VolumePayload).ActualSizeGB != 10 {
		t.Errorf("instance = %+v", inst)
	}

	if err := conn.DeleteInstance(ctx, snap); err != nil {
		t.Fatalf("DeleteInstance() failed: %v", err)
	}

	q, err := conn.GetUserQuota(ctx, alice, "tok", engine.ResourceTypeVolume)
	if err != nil || q.Total.Volumes != 3 {
		t.Errorf("GetUserQuota() = %+v, %v", q, err)
	}
	img, err := conn.GetImage(ctx, alice, "tok", "img")
	if err != nil || img.Name != "Img" {
		t.Errorf("GetImage() = %+v, %v", img, err)
	}
	imgs, err := conn.GetAllImages(ctx, alice, "tok")
	if err != nil || len(imgs) != 1 {
		t.Errorf("GetAllImages() = %+v, %v", imgs, err)
	}

	for i, m := range caller.members {
		if m != "member-b" {
			t.Errorf("call %d went to %s", i, m)
		}
	}
}

func TestRemoteConnector_PropagatesErrors(t *testing.T) {
	caller := &fakeCaller{handle: func(*protocol.Request) (*protocol.Response, error) {
		return nil, engine.NewUnavailableProviderError("member-b unreachable", nil)
	}}
	conn := NewRemoteConnector("member-b", caller)

	_, err := conn.RequestInstance(context.Background(), engine.OrderSnapshot{
		ID: "o1", ResourceType: engine.ResourceTypeVolume, Payload: &engine.VolumePayload{SizeGB: 1},
	})
	if !engine.IsKind(err, engine.KindUnavailableProvider) {
		t.Errorf("error = %v, want unavailable provider", err)
	}
}

type callRecord struct {
	member, op string
	failed     bool
}

type recorder struct {
	mu    sync.Mutex
	calls []callRecord
}

func (r *recorder) ObserveConnectorCall(member, op string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, callRecord{member, op, err != nil})
}

func TestRegistry(t *testing.T) {
	local := NewLocalConnector(newSim(0), testLogger())
	reg := NewRegistry("member-a", local)
	if err := reg.RegisterRemote(&fakeCaller{}, "member-a", "member-b", "member-c"); err != nil {
		t.Fatalf("RegisterRemote() failed: %v", err)
	}

	if got := reg.Members(); len(got) != 3 {
		t.Errorf("Members() = %v", got)
	}

	c, err := reg.ConnectorFor("member-a")
	if err != nil || c != engine.CloudConnector(local) {
		t.Errorf("ConnectorFor(local) = %v, %v", c, err)
	}
	c, err = reg.ConnectorFor("member-b")
	if err != nil {
		t.Fatalf("ConnectorFor(member-b) failed: %v", err)
	}
	if rc, ok := c.(*RemoteConnector); !ok || rc.Member() != "member-b" {
		t.Errorf("ConnectorFor(member-b) = %T", c)
	}

	if _, err := reg.ConnectorFor("member-z"); !engine.IsUnexpected(err) {
		t.Errorf("ConnectorFor(unknown) error = %v, want unexpected", err)
	}
	if err := reg.Register("member-b", local); err == nil {
		t.Error("duplicate Register() succeeded")
	}
}

func TestRegistry_Recorder(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry("member-a", NewLocalConnector(newSim(0), testLogger()))
	reg.SetRecorder(rec)

	c, err := reg.ConnectorFor("member-a")
	if err != nil {
		t.Fatalf("ConnectorFor() failed: %v", err)
	}
	_, _ = c.GetInstance(context.Background(), engine.OrderSnapshot{ID: "o1", ResourceType: engine.ResourceTypeCompute})
	_, _ = c.GetAllImages(context.Background(), alice, "")

	if len(rec.calls) != 2 {
		t.Fatalf("recorded %d calls, want 2", len(rec.calls))
	}
	if rec.calls[0] != (callRecord{"member-a", "get_instance", true}) {
		t.Errorf("first call = %+v", rec.calls[0])
	}
	if rec.calls[1] != (callRecord{"member-a", "get_all_images", false}) {
		t.Errorf("second call = %+v", rec.calls[1])
	}
}
