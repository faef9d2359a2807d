package protocol

import (
	"encoding/json"
	"testing"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

func TestPayloadType_ResourceType(t *testing.T) {
	tests := []struct {
		tag        PayloadType
		wantType   engine.ResourceType
		wantOK     bool
		isOrder    bool
		isInstance bool
	}{
		{OrderPayload(engine.ResourceTypeCompute), engine.ResourceTypeCompute, true, true, false},
		{InstancePayload(engine.ResourceTypeVolume), engine.ResourceTypeVolume, true, false, true},
		{QuotaPayload(engine.ResourceTypePublicIP), engine.ResourceTypePublicIP, true, false, false},
		{"order.GPU", "GPU", false, false, false},
		{PayloadOrderRef, "", false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.tag), func(t *testing.T) {
			rt, ok := tt.tag.ResourceType()
			if rt != tt.wantType || ok != tt.wantOK {
				t.Errorf("ResourceType() = %s, %v; want %s, %v", rt, ok, tt.wantType, tt.wantOK)
			}
			if tt.tag.IsOrder() != tt.isOrder {
				t.Errorf("IsOrder() = %v, want %v", tt.tag.IsOrder(), tt.isOrder)
			}
			if tt.tag.IsInstance() != tt.isInstance {
				t.Errorf("IsInstance() = %v, want %v", tt.tag.IsInstance(), tt.isInstance)
			}
		})
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"create order", Request{ID: "1", Operation: OpCreateOrder, PayloadType: OrderPayload(engine.ResourceTypeNetwork)}, false},
		{"get order", Request{ID: "1", Operation: OpGetOrder, PayloadType: PayloadOrderRef}, false},
		{"notify", Request{ID: "1", Operation: OpNotifyEvent, PayloadType: PayloadEvent}, false},
		{"missing id", Request{Operation: OpGetOrder, PayloadType: PayloadOrderRef}, true},
		{"unknown operation", Request{ID: "1", Operation: "reboot", PayloadType: PayloadEmpty}, true},
		{"payload mismatch", Request{ID: "1", Operation: OpCreateOrder, PayloadType: PayloadOrderRef}, true},
		{"bad resource type", Request{ID: "1", Operation: OpCreateOrder, PayloadType: "order.GPU"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequest_SenderNotSerialized(t *testing.T) {
	req := Request{ID: "1", Operation: OpGetOrder, PayloadType: PayloadOrderRef, Sender: "member-a"}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	var decoded Request
	spoofed := []byte(`{"id":"1","operation":"get-order","payload_type":"order-ref","Sender":"member-x","sender":"member-x"}`)
	if err := json.Unmarshal(spoofed, &decoded); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if decoded.Sender != "" {
		t.Errorf("Sender decoded from payload: %q", decoded.Sender)
	}
	if !json.Valid(data) {
		t.Errorf("invalid encoding %s", data)
	}
}

func TestDecodeOrder(t *testing.T) {
	snap := engine.OrderSnapshot{
		ID:           "o1",
		ResourceType: engine.ResourceTypeVolume,
		State:        engine.OrderStateOpen,
		Payload:      &engine.VolumePayload{SizeGB: 8},
	}
	req, err := CreateOrderRequest(snap)
	if err != nil {
		t.Fatalf("CreateOrderRequest() failed: %v", err)
	}
	if req.PayloadType != "order.VOLUME" {
		t.Errorf("PayloadType = %s", req.PayloadType)
	}

	got, err := DecodeOrder(req.PayloadType, req.Payload)
	if err != nil {
		t.Fatalf("DecodeOrder() failed: %v", err)
	}
	if got.Payload.(*engine.VolumePayload).SizeGB != 8 {
		t.Errorf("payload = %+v", got.Payload)
	}

	_, err = DecodeOrder(OrderPayload(engine.ResourceTypeCompute), req.Payload)
	if !engine.IsKind(err, engine.KindInvalidParameter) {
		t.Errorf("DecodeOrder(mismatched tag) error = %v, want invalid parameter", err)
	}
}

func TestDecodeInstanceAndQuota(t *testing.T) {
	inst := engine.Instance{
		ID:           "i1",
		ResourceType: engine.ResourceTypeCompute,
		State:        engine.InstanceStateReady,
		Details:      &engine.ComputePayload{ActualVCPU: 4},
	}
	resp, err := Success("r1", InstancePayload(inst.ResourceType), inst)
	if err != nil {
		t.Fatalf("Success() failed: %v", err)
	}
	got, err := DecodeInstance(resp.PayloadType, resp.Payload)
	if err != nil {
		t.Fatalf("DecodeInstance() failed: %v", err)
	}
	if got.Details.(*engine.ComputePayload).ActualVCPU != 4 {
		t.Errorf("details = %+v", got.Details)
	}

	q := engine.Quota{Total: engine.Allocation{Volumes: 5}, Used: engine.Allocation{Volumes: 2}}
	resp, _ = Success("r2", QuotaPayload(engine.ResourceTypeVolume), q)
	gotQ, err := DecodeQuota(resp.PayloadType, resp.Payload)
	if err != nil {
		t.Fatalf("DecodeQuota() failed: %v", err)
	}
	if gotQ.ResourceType != engine.ResourceTypeVolume || gotQ.Available().Volumes != 3 {
		t.Errorf("quota = %+v", gotQ)
	}

	if _, err := DecodeQuota(PayloadImage, resp.Payload); err == nil {
		t.Error("DecodeQuota() accepted an image tag")
	}
}
