// Package protocol defines the request/response messages exchanged between
// federation members and the mapping between classified errors and wire
// fault conditions.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// Operation is a federation RPC operation name.
type Operation string

const (
	// OpCreateOrder asks the providing member to activate an order.
	OpCreateOrder Operation = "create-order"
	// OpDeleteOrder asks the providing member to close an order.
	OpDeleteOrder Operation = "delete-order"
	// OpGetOrder asks for the instance backing an order.
	OpGetOrder Operation = "get-order"
	// OpGetUserQuota asks for a user's quota.
	OpGetUserQuota Operation = "get-user-quota"
	// OpGetAllImages lists images.
	OpGetAllImages Operation = "get-all-images"
	// OpGetImage fetches one image.
	OpGetImage Operation = "get-image"
	// OpNotifyEvent pushes an instance event to the requesting member.
	OpNotifyEvent Operation = "notify-event"
)

// Operations lists every operation.
var Operations = []Operation{
	OpCreateOrder, OpDeleteOrder, OpGetOrder, OpGetUserQuota,
	OpGetAllImages, OpGetImage, OpNotifyEvent,
}

// Validate checks if the operation is valid.
func (op Operation) Validate() error {
	switch op {
	case OpCreateOrder, OpDeleteOrder, OpGetOrder, OpGetUserQuota,
		OpGetAllImages, OpGetImage, OpNotifyEvent:
		return nil
	default:
		return fmt.Errorf("invalid operation: %s", op)
	}
}

// PayloadType tags the concrete variant of a payload so the receiver can
// decode polymorphic orders, instances and quotas.
type PayloadType string

const (
	PayloadOrderRef      PayloadType = "order-ref"
	PayloadQuotaRequest  PayloadType = "quota-request"
	PayloadImageRequest  PayloadType = "image-request"
	PayloadImagesRequest PayloadType = "images-request"
	PayloadImage         PayloadType = "image"
	PayloadImageList     PayloadType = "image-list"
	PayloadEvent         PayloadType = "event"
	PayloadEmpty         PayloadType = "empty"

	orderPrefix    = "order."
	instancePrefix = "instance."
	quotaPrefix    = "quota."
)

// OrderPayload returns the tag of an order of the resource type.
func OrderPayload(t engine.ResourceType) PayloadType {
	return PayloadType(orderPrefix + string(t))
}

// InstancePayload returns the tag of an instance of the resource type.
func InstancePayload(t engine.ResourceType) PayloadType {
	return PayloadType(instancePrefix + string(t))
}

// QuotaPayload returns the tag of a quota of the resource type.
func QuotaPayload(t engine.ResourceType) PayloadType {
	return PayloadType(quotaPrefix + string(t))
}

// ResourceType returns the resource type of a typed tag such as order.COMPUTE.
func (p PayloadType) ResourceType() (engine.ResourceType, bool) {
	for _, prefix := range []string{orderPrefix, instancePrefix, quotaPrefix} {
		if rest, ok := strings.CutPrefix(string(p), prefix); ok {
			rt := engine.ResourceType(rest)
			return rt, rt.Validate() == nil
		}
	}
	return "", false
}

func (p PayloadType) hasPrefix(prefix string) bool {
	_, ok := p.ResourceType()
	return ok && strings.HasPrefix(string(p), prefix)
}

// IsOrder reports whether p is an order.<TYPE> tag.
func (p PayloadType) IsOrder() bool { return p.hasPrefix(orderPrefix) }

// IsInstance reports whether p is an instance.<TYPE> tag.
func (p PayloadType) IsInstance() bool { return p.hasPrefix(instancePrefix) }

// IsQuota reports whether p is a quota.<TYPE> tag.
func (p PayloadType) IsQuota() bool { return p.hasPrefix(quotaPrefix) }

// acceptsRequest reports whether op accepts a request payload of type p.
func (op Operation) acceptsRequest(p PayloadType) bool {
	switch op {
	case OpCreateOrder:
		return p.IsOrder()
	case OpDeleteOrder, OpGetOrder:
		return p == PayloadOrderRef
	case OpGetUserQuota:
		return p == PayloadQuotaRequest
	case OpGetAllImages:
		return p == PayloadImagesRequest
	case OpGetImage:
		return p == PayloadImageRequest
	case OpNotifyEvent:
		return p == PayloadEvent
	default:
		return false
	}
}

// Request is one federation call. Sender is filled in by the receiving
// transport from the authenticated connection and is never serialized.
type Request struct {
	ID          string          `json:"id"`
	Operation   Operation       `json:"operation"`
	PayloadType PayloadType     `json:"payload_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`

	Sender string `json:"-"`
}

// Validate checks the operation and that the payload type fits it.
func (r *Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request ID is required")
	}
	if err := r.Operation.Validate(); err != nil {
		return err
	}
	if !r.Operation.acceptsRequest(r.PayloadType) {
		return fmt.Errorf("operation %s does not accept payload %s", r.Operation, r.PayloadType)
	}
	return nil
}

// Response carries either a payload or a fault, never both.
type Response struct {
	RequestID   string          `json:"request_id"`
	PayloadType PayloadType     `json:"payload_type,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Fault       *Fault          `json:"fault,omitempty"`
}

// Fault is a structured failure.
type Fault struct {
	Condition Condition `json:"condition"`
	Message   string    `json:"message,omitempty"`
}

// OrderRef identifies an order at the providing member.
type OrderRef struct {
	OrderID      string              `json:"order_id"`
	ResourceType engine.ResourceType `json:"resource_type"`
	UserToken    string              `json:"user_token"`
}

// QuotaRequest asks for a user's quota at a member.
type QuotaRequest struct {
	MemberID     string              `json:"member_id"`
	ResourceType engine.ResourceType `json:"resource_type"`
	UserToken    string              `json:"user_token"`
}

// ImageRequest asks for one image at a member.
type ImageRequest struct {
	MemberID  string `json:"member_id"`
	ImageID   string `json:"image_id"`
	UserToken string `json:"user_token"`
}

// ImagesRequest asks for every image at a member.
type ImagesRequest struct {
	MemberID  string `json:"member_id"`
	UserToken string `json:"user_token"`
}

// ImageList is the get-all-images result.
type ImageList struct {
	Images []engine.ImageSummary `json:"images"`
}

// EventNotification is the notify-event payload.
type EventNotification struct {
	Event engine.RemoteEvent   `json:"event"`
	Order engine.OrderSnapshot `json:"order"`
}
