package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ResourceType identifies the kind of federated resource an order requests.
type ResourceType string

const (
	ResourceTypeCompute    ResourceType = "COMPUTE"
	ResourceTypeNetwork    ResourceType = "NETWORK"
	ResourceTypeVolume     ResourceType = "VOLUME"
	ResourceTypeAttachment ResourceType = "ATTACHMENT"
	ResourceTypePublicIP   ResourceType = "PUBLIC_IP"
)

// AllResourceTypes lists every resource type.
var AllResourceTypes = []ResourceType{
	ResourceTypeCompute,
	ResourceTypeNetwork,
	ResourceTypeVolume,
	ResourceTypeAttachment,
	ResourceTypePublicIP,
}

// Validate checks if the resource type is valid.
func (t ResourceType) Validate() error {
	switch t {
	case ResourceTypeCompute, ResourceTypeNetwork, ResourceTypeVolume,
		ResourceTypeAttachment, ResourceTypePublicIP:
		return nil
	default:
		return fmt.Errorf("invalid resource type: %s", t)
	}
}

var validate = validator.New()

// SystemUser identifies the end user on whose behalf an order exists.
type SystemUser struct {
	// ID is the user identifier within its identity provider.
	ID string `json:"id" validate:"required"`

	// Name is the display name.
	Name string `json:"name,omitempty"`

	// IdentityProvider is the member that authenticated the user.
	IdentityProvider string `json:"identity_provider" validate:"required"`
}

// Order is a durable, trackable request for one federated resource.
//
// Identity fields never change after construction. State, InstanceID,
// CachedInstanceState, Payload and UpdatedAt are mutated only while holding
// the order's lock.
type Order struct {
	mu sync.Mutex

	ID               string       `json:"id"`
	ResourceType     ResourceType `json:"resource_type"`
	RequestingMember string       `json:"requesting_member"`
	ProvidingMember  string       `json:"providing_member"`
	User             SystemUser   `json:"user"`
	UserToken        string       `json:"-"`

	State               OrderState `json:"state"`
	InstanceID          string     `json:"instance_id,omitempty"`
	CachedInstanceState string     `json:"cached_instance_state,omitempty"`
	Payload             Payload    `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOrder creates an OPEN order with a fresh id.
func NewOrder(requesting, providing string, user SystemUser, userToken string, payload Payload) (*Order, error) {
	if payload == nil {
		return nil, NewInvalidParameterError("order payload is required", nil)
	}
	now := time.Now().UTC()
	o := &Order{
		ID:               uuid.New().String(),
		ResourceType:     payload.ResourceType(),
		RequestingMember: requesting,
		ProvidingMember:  providing,
		User:             user,
		UserToken:        userToken,
		State:            OrderStateOpen,
		Payload:          payload,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Lock acquires the order's lock.
func (o *Order) Lock() {
	o.mu.Lock()
}

// Unlock releases the order's lock.
func (o *Order) Unlock() {
	o.mu.Unlock()
}

// Validate checks identity fields and the payload.
func (o *Order) Validate() error {
	if o.ID == "" {
		return NewInvalidParameterError("order id is required", nil)
	}
	if err := o.ResourceType.Validate(); err != nil {
		return NewInvalidParameterError("bad resource type", err).WithOrder(o.ID)
	}
	if o.RequestingMember == "" || o.ProvidingMember == "" {
		return NewInvalidParameterError("requesting and providing members are required", nil).WithOrder(o.ID)
	}
	if err := validate.Struct(o.User); err != nil {
		return NewInvalidParameterError("invalid user", err).WithOrder(o.ID)
	}
	if o.Payload == nil || o.Payload.ResourceType() != o.ResourceType {
		return NewInvalidParameterError(
			fmt.Sprintf("payload does not match resource type %s", o.ResourceType), nil).WithOrder(o.ID)
	}
	if err := validate.Struct(o.Payload); err != nil {
		return NewInvalidParameterError("invalid payload", err).WithOrder(o.ID)
	}
	return nil
}

// IsProviderLocal reports whether local is the member that instantiates the resource.
func (o *Order) IsProviderLocal(local string) bool {
	return o.ProvidingMember == local
}

// IsRequesterRemote reports whether the order was accepted by a member other than local.
func (o *Order) IsRequesterRemote(local string) bool {
	return o.RequestingMember != local
}

// CurrentState returns the state under the order's lock.
func (o *Order) CurrentState() OrderState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.State
}

// Snapshot returns a value copy of the order taken under its lock.
func (o *Order) Snapshot() OrderSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.SnapshotLocked()
}

// SnapshotLocked is Snapshot for callers already holding the lock.
func (o *Order) SnapshotLocked() OrderSnapshot {
	var payload Payload
	if o.Payload != nil {
		payload = o.Payload.Clone()
	}
	return OrderSnapshot{
		ID:                  o.ID,
		ResourceType:        o.ResourceType,
		RequestingMember:    o.RequestingMember,
		ProvidingMember:     o.ProvidingMember,
		User:                o.User,
		UserToken:           o.UserToken,
		State:               o.State,
		InstanceID:          o.InstanceID,
		CachedInstanceState: o.CachedInstanceState,
		Payload:             payload,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

// ApplyRemoteLocked copies the fields a providing member is allowed to change:
// the cached instance state and the actual allocation. Caller holds the lock.
func (o *Order) ApplyRemoteLocked(remote OrderSnapshot) {
	o.CachedInstanceState = remote.CachedInstanceState
	if o.Payload != nil && remote.Payload != nil {
		o.Payload.ApplyRemote(remote.Payload)
	}
	o.UpdatedAt = time.Now().UTC()
}

// ApplyInstanceLocked records what the cloud reported about the order's instance.
// Caller holds the lock.
func (o *Order) ApplyInstanceLocked(inst *Instance) {
	if inst == nil {
		return
	}
	o.CachedInstanceState = inst.CloudState
	if o.Payload != nil && inst.Details != nil {
		o.Payload.ApplyRemote(inst.Details)
	}
	o.UpdatedAt = time.Now().UTC()
}

// OrderSnapshot is a value copy of an order, exchanged across the federation
// and handed to connectors so no I/O ever touches a live Order.
type OrderSnapshot struct {
	ID                  string
	ResourceType        ResourceType
	RequestingMember    string
	ProvidingMember     string
	User                SystemUser
	UserToken           string
	State               OrderState
	InstanceID          string
	CachedInstanceState string
	Payload             Payload
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type orderSnapshotJSON struct {
	ID                  string          `json:"id"`
	ResourceType        ResourceType    `json:"resource_type"`
	RequestingMember    string          `json:"requesting_member"`
	ProvidingMember     string          `json:"providing_member"`
	User                SystemUser      `json:"user"`
	UserToken           string          `json:"user_token,omitempty"`
	State               OrderState      `json:"state"`
	InstanceID          string          `json:"instance_id,omitempty"`
	CachedInstanceState string          `json:"cached_instance_state,omitempty"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// MarshalJSON encodes the payload next to its resource type discriminant.
func (s OrderSnapshot) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if s.Payload != nil {
		b, err := json.Marshal(s.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		raw = b
	}
	return json.Marshal(orderSnapshotJSON{
		ID:                  s.ID,
		ResourceType:        s.ResourceType,
		RequestingMember:    s.RequestingMember,
		ProvidingMember:     s.ProvidingMember,
		User:                s.User,
		UserToken:           s.UserToken,
		State:               s.State,
		InstanceID:          s.InstanceID,
		CachedInstanceState: s.CachedInstanceState,
		Payload:             raw,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	})
}

// UnmarshalJSON resolves the payload variant from the resource type.
func (s *OrderSnapshot) UnmarshalJSON(data []byte) error {
	var aux orderSnapshotJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var payload Payload
	if len(aux.Payload) > 0 {
		p, err := DecodePayload(aux.ResourceType, aux.Payload)
		if err != nil {
			return err
		}
		payload = p
	}
	*s = OrderSnapshot{
		ID:                  aux.ID,
		ResourceType:        aux.ResourceType,
		RequestingMember:    aux.RequestingMember,
		ProvidingMember:     aux.ProvidingMember,
		User:                aux.User,
		UserToken:           aux.UserToken,
		State:               aux.State,
		InstanceID:          aux.InstanceID,
		CachedInstanceState: aux.CachedInstanceState,
		Payload:             payload,
		CreatedAt:           aux.CreatedAt,
		UpdatedAt:           aux.UpdatedAt,
	}
	return nil
}

// ToOrder builds a live order from the snapshot.
func (s OrderSnapshot) ToOrder() *Order {
	var payload Payload
	if s.Payload != nil {
		payload = s.Payload.Clone()
	}
	return &Order{
		ID:                  s.ID,
		ResourceType:        s.ResourceType,
		RequestingMember:    s.RequestingMember,
		ProvidingMember:     s.ProvidingMember,
		User:                s.User,
		UserToken:           s.UserToken,
		State:               s.State,
		InstanceID:          s.InstanceID,
		CachedInstanceState: s.CachedInstanceState,
		Payload:             payload,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

// Instance is the live view of the cloud resource backing an order.
type Instance struct {
	ID           string
	ResourceType ResourceType
	State        InstanceState
	CloudState   string
	Details      Payload
}

type instanceJSON struct {
	ID           string          `json:"id"`
	ResourceType ResourceType    `json:"resource_type"`
	State        InstanceState   `json:"state"`
	CloudState   string          `json:"cloud_state,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
}

// MarshalJSON encodes the details variant next to its resource type.
func (i Instance) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if i.Details != nil {
		b, err := json.Marshal(i.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal instance details: %w", err)
		}
		raw = b
	}
	return json.Marshal(instanceJSON{
		ID:           i.ID,
		ResourceType: i.ResourceType,
		State:        i.State,
		CloudState:   i.CloudState,
		Details:      raw,
	})
}

// UnmarshalJSON resolves the details variant from the resource type.
func (i *Instance) UnmarshalJSON(data []byte) error {
	var aux instanceJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var details Payload
	if len(aux.Details) > 0 {
		d, err := DecodePayload(aux.ResourceType, aux.Details)
		if err != nil {
			return err
		}
		details = d
	}
	*i = Instance{
		ID:           aux.ID,
		ResourceType: aux.ResourceType,
		State:        aux.State,
		CloudState:   aux.CloudState,
		Details:      details,
	}
	return nil
}

// Allocation counts resources of every kind. Unused counters stay zero.
type Allocation struct {
	Instances int `json:"instances,omitempty" yaml:"instances"`
	VCPU      int `json:"vcpu,omitempty" yaml:"vcpu"`
	RAMMB     int `json:"ram_mb,omitempty" yaml:"ram_mb"`
	DiskGB    int `json:"disk_gb,omitempty" yaml:"disk_gb"`
	Volumes   int `json:"volumes,omitempty" yaml:"volumes"`
	StorageGB int `json:"storage_gb,omitempty" yaml:"storage_gb"`
	Networks  int `json:"networks,omitempty" yaml:"networks"`
	PublicIPs int `json:"public_ips,omitempty" yaml:"public_ips"`
}

// Sub returns a - b, field by field.
func (a Allocation) Sub(b Allocation) Allocation {
	return Allocation{
		Instances: a.Instances - b.Instances,
		VCPU:      a.VCPU - b.VCPU,
		RAMMB:     a.RAMMB - b.RAMMB,
		DiskGB:    a.DiskGB - b.DiskGB,
		Volumes:   a.Volumes - b.Volumes,
		StorageGB: a.StorageGB - b.StorageGB,
		Networks:  a.Networks - b.Networks,
		PublicIPs: a.PublicIPs - b.PublicIPs,
	}
}

// Add returns a + b, field by field.
func (a Allocation) Add(b Allocation) Allocation {
	return Allocation{
		Instances: a.Instances + b.Instances,
		VCPU:      a.VCPU + b.VCPU,
		RAMMB:     a.RAMMB + b.RAMMB,
		DiskGB:    a.DiskGB + b.DiskGB,
		Volumes:   a.Volumes + b.Volumes,
		StorageGB: a.StorageGB + b.StorageGB,
		Networks:  a.Networks + b.Networks,
		PublicIPs: a.PublicIPs + b.PublicIPs,
	}
}

// Fits reports whether every counter of a is non-negative.
func (a Allocation) Fits() bool {
	return a.Instances >= 0 && a.VCPU >= 0 && a.RAMMB >= 0 && a.DiskGB >= 0 &&
		a.Volumes >= 0 && a.StorageGB >= 0 && a.Networks >= 0 && a.PublicIPs >= 0
}

// Quota is a user's resource budget at one member for one resource type.
type Quota struct {
	ResourceType ResourceType `json:"resource_type"`
	Total        Allocation   `json:"total"`
	Used         Allocation   `json:"used"`
}

// Available returns the unused part of the quota.
func (q Quota) Available() Allocation {
	return q.Total.Sub(q.Used)
}

// ImageSummary identifies an image.
type ImageSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Image describes a bootable image offered by a member's cloud.
type Image struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	SizeMB  int64  `json:"size_mb"`
	MinDisk int    `json:"min_disk_gb"`
	MinRAM  int    `json:"min_ram_mb"`
	Status  string `json:"status"`
}
