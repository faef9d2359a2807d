package transport

import (
	"encoding/json"
	"fmt"
)

// codecName is the gRPC content subtype of federation messages.
const codecName = "json"

// jsonCodec carries protocol messages as JSON so no generated stubs are needed.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }
