package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is a free-form JSON value carried through the pipeline without
// interpretation. The raw bytes are kept verbatim so key order and number
// formatting survive a round trip to storage.
type Document []byte

// NewDocument marshals v into a Document.
func NewDocument(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return Document(data), nil
}

// MustDocument is NewDocument for values known to be marshalable.
// It panics on error and is intended for tests and literals.
func MustDocument(v any) Document {
	d, err := NewDocument(v)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether the document is empty.
func (d Document) IsZero() bool {
	return len(d) == 0
}

// Map decodes the document into a generic map. Returns nil if the document
// is empty or not a JSON object.
func (d Document) Map() map[string]any {
	if len(d) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(d, &m); err != nil {
		return nil
	}
	return m
}

func (d Document) String() string {
	return string(d)
}

// MarshalJSON emits the raw bytes unchanged, or null for an empty document.
func (d Document) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(d) {
		return nil, fmt.Errorf("invalid document: %q", string(d))
	}
	return d, nil
}

// UnmarshalJSON stores the raw bytes unchanged.
func (d *Document) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = nil
		return nil
	}
	*d = append((*d)[:0], data...)
	return nil
}
