package domain

import "encoding/json"

// Payload wraps an arbitrary JSON document recorded verbatim on an audit
// record (source data, initial state). The bytes are cloned on construction
// and on access to keep persisted records immutable. Payloads impose no
// schema; consumers inspect fields defensively via Object.
type Payload struct {
	defined bool
	raw     json.RawMessage
}

// NewPayload builds a payload wrapper from raw JSON. Passing a nil slice
// yields a defined but empty payload; use UndefinedPayload for "not set".
func NewPayload(raw json.RawMessage) Payload {
	payload := Payload{defined: true}
	if raw != nil {
		payload.raw = cloneRawMessage(raw)
	}
	return payload
}

// NewPayloadFromValue marshals a typed value into a Payload.
func NewPayloadFromValue[T any](value T) (Payload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Payload{}, err
	}
	return NewPayload(raw), nil
}

// UndefinedPayload returns an uninitialized payload wrapper.
func UndefinedPayload() Payload {
	return Payload{}
}

// Defined reports whether the payload has been initialized.
func (p Payload) Defined() bool {
	return p.defined
}

// IsEmpty reports whether the payload contains no bytes.
func (p Payload) IsEmpty() bool {
	if !p.defined {
		return true
	}
	return len(p.raw) == 0
}

// Raw returns a cloned copy of the underlying JSON bytes. Nil is returned
// when the payload is undefined or empty.
func (p Payload) Raw() json.RawMessage {
	if !p.defined || len(p.raw) == 0 {
		return nil
	}
	return cloneRawMessage(p.raw)
}

// Clone returns an independent copy of the payload.
func (p Payload) Clone() Payload {
	dup := Payload{defined: p.defined}
	if p.raw != nil {
		dup.raw = cloneRawMessage(p.raw)
	}
	return dup
}

// Object decodes the payload as a JSON object. The second return is false
// when the payload is empty or holds a non-object document.
func (p Payload) Object() (map[string]any, bool) {
	if p.IsEmpty() {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(p.raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// Sequence returns the sequence stored under key when the payload is an
// object and the value is a JSON array. Non-array values report false.
func (p Payload) Sequence(key string) ([]any, bool) {
	obj, ok := p.Object()
	if !ok {
		return nil, false
	}
	seq, ok := obj[key].([]any)
	if !ok {
		return nil, false
	}
	return seq, true
}

// MarshalJSON emits the wrapped document, or JSON null when undefined.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.IsEmpty() {
		return []byte("null"), nil
	}
	return cloneRawMessage(p.raw), nil
}

// UnmarshalJSON captures the raw document. JSON null leaves the payload
// undefined so optional fields round-trip as absent.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Payload{}
		return nil
	}
	*p = NewPayload(data)
	return nil
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	cloned := make(json.RawMessage, len(raw))
	copy(cloned, raw)
	return cloned
}
