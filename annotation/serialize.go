package annotation

import (
	"encoding/json"
	"fmt"
)

// Marshal encodes a record after validating it.
func Marshal(a *Annotation) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(a)
}

// Unmarshal decodes and validates a record. Stored paths that no longer
// match the grammar surface as anchor.ErrMalformedPath.
func Unmarshal(data []byte) (*Annotation, error) {
	var a Annotation
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("annotation: decode: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
