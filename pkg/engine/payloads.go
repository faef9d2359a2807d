package engine

import (
	"encoding/json"
	"fmt"
)

// Payload is the resource-type-specific part of an order or instance.
// Requested fields are set by the requester; actual fields are set by the
// providing member once its cloud reports the allocation.
type Payload interface {
	// ResourceType is the tag that selects the variant.
	ResourceType() ResourceType

	// ApplyRemote copies the actual allocation fields of other into the
	// receiver. Variants of a different type are ignored.
	ApplyRemote(other Payload)

	// Clone returns a deep copy.
	Clone() Payload
}

// NewPayload returns an empty payload variant for t.
func NewPayload(t ResourceType) (Payload, error) {
	switch t {
	case ResourceTypeCompute:
		return &ComputePayload{}, nil
	case ResourceTypeNetwork:
		return &NetworkPayload{}, nil
	case ResourceTypeVolume:
		return &VolumePayload{}, nil
	case ResourceTypeAttachment:
		return &AttachmentPayload{}, nil
	case ResourceTypePublicIP:
		return &PublicIPPayload{}, nil
	default:
		return nil, NewInvalidParameterError(fmt.Sprintf("unknown resource type %q", t), nil)
	}
}

// DecodePayload decodes raw JSON into the variant selected by t.
func DecodePayload(t ResourceType, raw []byte) (Payload, error) {
	p, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, NewInvalidParameterError(fmt.Sprintf("malformed %s payload", t), err)
	}
	return p, nil
}

// ComputePayload describes a virtual machine.
type ComputePayload struct {
	Name    string `json:"name,omitempty"`
	ImageID string `json:"image_id" validate:"required"`
	VCPU    int    `json:"vcpu" validate:"gte=1"`
	RAMMB   int    `json:"ram_mb" validate:"gte=1"`
	DiskGB  int    `json:"disk_gb" validate:"gte=0"`

	ActualVCPU   int `json:"actual_vcpu,omitempty"`
	ActualRAMMB  int `json:"actual_ram_mb,omitempty"`
	ActualDiskGB int `json:"actual_disk_gb,omitempty"`
}

func (p *ComputePayload) ResourceType() ResourceType { return ResourceTypeCompute }

func (p *ComputePayload) ApplyRemote(other Payload) {
	o, ok := other.(*ComputePayload)
	if !ok {
		return
	}
	p.ActualVCPU = o.ActualVCPU
	p.ActualRAMMB = o.ActualRAMMB
	p.ActualDiskGB = o.ActualDiskGB
}

func (p *ComputePayload) Clone() Payload {
	c := *p
	return &c
}

// NetworkPayload describes a private network.
type NetworkPayload struct {
	Name           string `json:"name,omitempty"`
	CIDR           string `json:"cidr" validate:"required,cidrv4"`
	Gateway        string `json:"gateway,omitempty" validate:"omitempty,ipv4"`
	AllocationMode string `json:"allocation_mode,omitempty" validate:"omitempty,oneof=dynamic static"`

	ActualGateway string `json:"actual_gateway,omitempty"`
}

func (p *NetworkPayload) ResourceType() ResourceType { return ResourceTypeNetwork }

func (p *NetworkPayload) ApplyRemote(other Payload) {
	if o, ok := other.(*NetworkPayload); ok {
		p.ActualGateway = o.ActualGateway
	}
}

func (p *NetworkPayload) Clone() Payload {
	c := *p
	return &c
}

// VolumePayload describes a block storage volume.
type VolumePayload struct {
	Name   string `json:"name,omitempty"`
	SizeGB int    `json:"size_gb" validate:"gte=1"`

	ActualSizeGB int `json:"actual_size_gb,omitempty"`
}

func (p *VolumePayload) ResourceType() ResourceType { return ResourceTypeVolume }

func (p *VolumePayload) ApplyRemote(other Payload) {
	if o, ok := other.(*VolumePayload); ok {
		p.ActualSizeGB = o.ActualSizeGB
	}
}

func (p *VolumePayload) Clone() Payload {
	c := *p
	return &c
}

// AttachmentPayload attaches a volume order to a compute order.
type AttachmentPayload struct {
	ComputeOrderID string `json:"compute_order_id" validate:"required"`
	VolumeOrderID  string `json:"volume_order_id" validate:"required"`
	Device         string `json:"device,omitempty"`

	ActualDevice string `json:"actual_device,omitempty"`
}

func (p *AttachmentPayload) ResourceType() ResourceType { return ResourceTypeAttachment }

func (p *AttachmentPayload) ApplyRemote(other Payload) {
	if o, ok := other.(*AttachmentPayload); ok {
		p.ActualDevice = o.ActualDevice
	}
}

func (p *AttachmentPayload) Clone() Payload {
	c := *p
	return &c
}

// PublicIPPayload associates a public address with a compute order.
type PublicIPPayload struct {
	ComputeOrderID string `json:"compute_order_id" validate:"required"`

	ActualIP string `json:"actual_ip,omitempty"`
}

func (p *PublicIPPayload) ResourceType() ResourceType { return ResourceTypePublicIP }

func (p *PublicIPPayload) ApplyRemote(other Payload) {
	if o, ok := other.(*PublicIPPayload); ok {
		p.ActualIP = o.ActualIP
	}
}

func (p *PublicIPPayload) Clone() Payload {
	c := *p
	return &c
}

// Demand returns the quota consumption of a payload.
func Demand(p Payload) Allocation {
	switch v := p.(type) {
	case *ComputePayload:
		return Allocation{Instances: 1, VCPU: v.VCPU, RAMMB: v.RAMMB, DiskGB: v.DiskGB}
	case *VolumePayload:
		return Allocation{Volumes: 1, StorageGB: v.SizeGB}
	case *NetworkPayload:
		return Allocation{Networks: 1}
	case *PublicIPPayload:
		return Allocation{PublicIPs: 1}
	default:
		return Allocation{}
	}
}
