package event

import (
	"encoding/json"
	"fmt"
)

// Decoder turns one raw stream line into a Request.
type Decoder interface {
	Decode(line []byte) (*Request, error)
}

// JSONDecoder decodes newline-delimited JSON event lines.
type JSONDecoder struct{}

// Decode deserializes a Request from a raw line and validates required fields.
func (JSONDecoder) Decode(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}

	if req.ID == "" {
		return nil, fmt.Errorf("request missing required field: id")
	}
	if req.Name == "" {
		return nil, fmt.Errorf("request missing required field: name")
	}

	return &req, nil
}
