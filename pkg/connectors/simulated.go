package connectors

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

const (
	simStateBuilding = "BUILD"
	simStateActive   = "ACTIVE"
	simStateError    = "ERROR"

	imageStatusActive = "active"
)

// SimulatedConfig configures a SimulatedCloud.
type SimulatedConfig struct {
	// ReadyAfter is how many polls an instance spends CREATING.
	ReadyAfter int

	// Capacity is every user's quota.
	Capacity engine.Allocation

	// Images are the images offered. Compute instances booted from an image
	// whose status is not "active" fail.
	Images []engine.Image
}

// DefaultImages is offered when no images are configured.
var DefaultImages = []engine.Image{
	{ID: "ubuntu-24.04", Name: "Ubuntu 24.04", SizeMB: 2048, MinDisk: 10, MinRAM: 512, Status: imageStatusActive},
	{ID: "debian-12", Name: "Debian 12", SizeMB: 1536, MinDisk: 8, MinRAM: 512, Status: imageStatusActive},
}

type simInstance struct {
	id      string
	owner   string
	payload engine.Payload
	demand  engine.Allocation
	polls   int
	failed  bool
}

// SimulatedCloud is an in-memory cloud plugin. Instances become READY after
// a number of polls and consume the owner's quota until deleted.
type SimulatedCloud struct {
	mu        sync.Mutex
	name      string
	cfg       SimulatedConfig
	images    map[string]engine.Image
	instances map[string]*simInstance
	used      map[string]engine.Allocation
	nextIP    int
	logger    zerolog.Logger
}

var _ Plugin = (*SimulatedCloud)(nil)

// NewSimulatedCloud creates a simulated cloud.
func NewSimulatedCloud(name string, cfg SimulatedConfig, logger zerolog.Logger) *SimulatedCloud {
	images := cfg.Images
	if len(images) == 0 {
		images = DefaultImages
	}
	s := &SimulatedCloud{
		name:      name,
		cfg:       cfg,
		images:    make(map[string]engine.Image, len(images)),
		instances: make(map[string]*simInstance),
		used:      make(map[string]engine.Allocation),
		logger:    logger.With().Str("component", "simulated-cloud").Str("cloud", name).Logger(),
	}
	for _, img := range images {
		s.images[img.ID] = img
	}
	return s
}

func (s *SimulatedCloud) Name() string { return s.name }

func userKey(u engine.SystemUser) string {
	return u.IdentityProvider + "/" + u.ID
}

func (s *SimulatedCloud) Create(_ context.Context, user engine.SystemUser, payload engine.Payload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst := &simInstance{
		id:      "sim-" + uuid.New().String(),
		owner:   userKey(user),
		payload: payload.Clone(),
		demand:  engine.Demand(payload),
	}

	if c, ok := payload.(*engine.ComputePayload); ok {
		img, found := s.images[c.ImageID]
		if !found {
			return "", engine.NewInvalidParameterError(fmt.Sprintf("unknown image %s", c.ImageID), nil)
		}
		inst.failed = img.Status != imageStatusActive
	}

	remaining := s.cfg.Capacity.Sub(s.used[inst.owner]).Sub(inst.demand)
	if !remaining.Fits() {
		return "", engine.NewQuotaExceededError(
			fmt.Sprintf("quota exceeded for %s %s", user.ID, payload.ResourceType()), nil)
	}

	s.used[inst.owner] = s.used[inst.owner].Add(inst.demand)
	s.instances[inst.id] = inst

	s.logger.Debug().Str("instance_id", inst.id).Str("resource_type", string(payload.ResourceType())).Msg("Instance created")
	return inst.id, nil
}

func (s *SimulatedCloud) Get(_ context.Context, rt engine.ResourceType, instanceID string) (*engine.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok || inst.payload.ResourceType() != rt {
		return nil, engine.NewInstanceNotFoundError(fmt.Sprintf("instance %s not found", instanceID), nil)
	}
	inst.polls++

	out := &engine.Instance{ID: inst.id, ResourceType: rt}
	switch {
	case inst.polls <= s.cfg.ReadyAfter:
		out.State = engine.InstanceStateCreating
		out.CloudState = simStateBuilding
	case inst.failed:
		out.State = engine.InstanceStateFailed
		out.CloudState = simStateError
	default:
		out.State = engine.InstanceStateReady
		out.CloudState = simStateActive
		out.Details = s.fulfil(inst)
	}
	return out, nil
}

// fulfil returns the payload with its actual fields filled in. Caller holds s.mu.
func (s *SimulatedCloud) fulfil(inst *simInstance) engine.Payload {
	details := inst.payload.Clone()
	switch p := details.(type) {
	case *engine.ComputePayload:
		p.ActualVCPU, p.ActualRAMMB, p.ActualDiskGB = p.VCPU, p.RAMMB, p.DiskGB
	case *engine.NetworkPayload:
		p.ActualGateway = p.Gateway
		if p.ActualGateway == "" {
			if prefix, err := netip.ParsePrefix(p.CIDR); err == nil {
				p.ActualGateway = prefix.Masked().Addr().Next().String()
			}
		}
	case *engine.VolumePayload:
		p.ActualSizeGB = p.SizeGB
	case *engine.AttachmentPayload:
		p.ActualDevice = p.Device
		if p.ActualDevice == "" {
			p.ActualDevice = "/dev/vdb"
		}
	case *engine.PublicIPPayload:
		if p.ActualIP == "" {
			s.nextIP++
			p.ActualIP = fmt.Sprintf("203.0.113.%d", s.nextIP%254+1)
			inst.payload.(*engine.PublicIPPayload).ActualIP = p.ActualIP
		}
	}
	return details
}

func (s *SimulatedCloud) Delete(_ context.Context, rt engine.ResourceType, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok || inst.payload.ResourceType() != rt {
		return engine.NewInstanceNotFoundError(fmt.Sprintf("instance %s not found", instanceID), nil)
	}
	s.used[inst.owner] = s.used[inst.owner].Sub(inst.demand)
	delete(s.instances, instanceID)

	s.logger.Debug().Str("instance_id", instanceID).Msg("Instance deleted")
	return nil
}

func (s *SimulatedCloud) Quota(_ context.Context, user engine.SystemUser, rt engine.ResourceType) (*engine.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &engine.Quota{
		ResourceType: rt,
		Total:        s.cfg.Capacity,
		Used:         s.used[userKey(user)],
	}, nil
}

func (s *SimulatedCloud) Image(_ context.Context, _ engine.SystemUser, imageID string) (*engine.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, ok := s.images[imageID]
	if !ok {
		return nil, engine.NewInstanceNotFoundError(fmt.Sprintf("image %s not found", imageID), nil)
	}
	return &img, nil
}

func (s *SimulatedCloud) Images(_ context.Context, _ engine.SystemUser) ([]engine.ImageSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]engine.ImageSummary, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, engine.ImageSummary{ID: img.ID, Name: img.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len returns the number of live instances.
func (s *SimulatedCloud) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}
