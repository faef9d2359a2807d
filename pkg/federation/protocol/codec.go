package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// NewRequest builds a request with a fresh id and the body marshalled as its payload.
func NewRequest(op Operation, payloadType PayloadType, body any) (*Request, error) {
	req := &Request{
		ID:          uuid.New().String(),
		Operation:   op,
		PayloadType: payloadType,
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		req.Payload = data
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

// CreateOrderRequest builds a create-order request for the snapshot.
func CreateOrderRequest(order engine.OrderSnapshot) (*Request, error) {
	return NewRequest(OpCreateOrder, OrderPayload(order.ResourceType), order)
}

// NotifyEventRequest builds a notify-event request.
func NotifyEventRequest(event engine.RemoteEvent, order engine.OrderSnapshot) (*Request, error) {
	return NewRequest(OpNotifyEvent, PayloadEvent, EventNotification{Event: event, Order: order})
}

// Success builds a response carrying body.
func Success(requestID string, payloadType PayloadType, body any) (*Response, error) {
	resp := &Response{RequestID: requestID, PayloadType: payloadType}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		resp.Payload = data
	}
	return resp, nil
}

// Empty builds a response without payload.
func Empty(requestID string) *Response {
	return &Response{RequestID: requestID, PayloadType: PayloadEmpty}
}

// Failure builds a response carrying a fault.
func Failure(requestID string, fault *Fault) *Response {
	return &Response{RequestID: requestID, Fault: fault}
}

// ParsePayload decodes a payload into target.
func ParsePayload(payload json.RawMessage, target any) error {
	if len(payload) == 0 {
		return engine.NewInvalidParameterError("payload is required", nil)
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return engine.NewInvalidParameterError("failed to parse payload", err)
	}
	return nil
}

// DecodeOrder decodes an order.<TYPE> payload and checks the tag matches the body.
func DecodeOrder(payloadType PayloadType, payload json.RawMessage) (engine.OrderSnapshot, error) {
	var snap engine.OrderSnapshot
	rt, ok := payloadType.ResourceType()
	if !ok || !payloadType.IsOrder() {
		return snap, engine.NewInvalidParameterError(fmt.Sprintf("not an order payload: %s", payloadType), nil)
	}
	if err := ParsePayload(payload, &snap); err != nil {
		return snap, err
	}
	if snap.ResourceType != rt {
		return snap, engine.NewInvalidParameterError(
			fmt.Sprintf("payload tag %s does not match order type %s", payloadType, snap.ResourceType), nil)
	}
	return snap, nil
}

// DecodeInstance decodes an instance.<TYPE> payload.
func DecodeInstance(payloadType PayloadType, payload json.RawMessage) (*engine.Instance, error) {
	rt, ok := payloadType.ResourceType()
	if !ok || !payloadType.IsInstance() {
		return nil, engine.NewUnexpectedError(fmt.Sprintf("not an instance payload: %s", payloadType), nil)
	}
	var inst engine.Instance
	if err := ParsePayload(payload, &inst); err != nil {
		return nil, err
	}
	if inst.ResourceType == "" {
		inst.ResourceType = rt
	}
	return &inst, nil
}

// DecodeQuota decodes a quota.<TYPE> payload.
func DecodeQuota(payloadType PayloadType, payload json.RawMessage) (*engine.Quota, error) {
	rt, ok := payloadType.ResourceType()
	if !ok || !payloadType.IsQuota() {
		return nil, engine.NewUnexpectedError(fmt.Sprintf("not a quota payload: %s", payloadType), nil)
	}
	var q engine.Quota
	if err := ParsePayload(payload, &q); err != nil {
		return nil, err
	}
	q.ResourceType = rt
	return &q, nil
}

// Expect checks a response payload type.
func Expect(resp *Response, want PayloadType) error {
	if resp.PayloadType != want {
		return engine.NewUnexpectedError(fmt.Sprintf("unexpected response payload %s, want %s", resp.PayloadType, want), nil)
	}
	return nil
}
