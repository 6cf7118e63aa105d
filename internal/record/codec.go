package record

import (
	"encoding/json"
	"fmt"
)

// Codec is the serializer boundary between typed objects and the opaque
// payload bytes carried by a SyncRecord.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONCodec encodes payloads as JSON. It is the default codec; merge
// resolvers rely on it producing generic key→value maps.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// DecodeFields decodes a payload into a generic field map. Field-level and
// three-way merges operate on this representation instead of reflecting over
// concrete types.
func DecodeFields(c Codec, payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return map[string]any{}, nil
	}
	var fields map[string]any
	if err := c.Decode(payload, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}
