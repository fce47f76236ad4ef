// Package action defines the typed payloads carried by queue items.
package action

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies what a queued item does when it reaches the backend.
type Kind string

// Built-in action kinds.
const (
	KindClockIn     Kind = "clock-in"
	KindClockOut    Kind = "clock-out"
	KindEntryUpdate Kind = "entry-update"
	KindEntryDelete Kind = "entry-delete"
)

// Payload is a typed action body. Each payload knows its kind, the
// backend route it targets, and how to validate itself before it is
// accepted into the queue.
type Payload interface {
	Kind() Kind
	Endpoint() string
	Method() string
	Validate() error
}

// registry maps kinds to payload factories. Decode uses it to pick the
// concrete type for a stored payload.
var registry = map[Kind]func() Payload{
	KindClockIn:     func() Payload { return &ClockIn{} },
	KindClockOut:    func() Payload { return &ClockOut{} },
	KindEntryUpdate: func() Payload { return &EntryUpdate{} },
	KindEntryDelete: func() Payload { return &EntryDelete{} },
}

// Register adds a payload factory for a kind. Registering an existing
// kind replaces its factory. Kinds without a factory can still flow
// through the queue as Raw payloads.
func Register(kind Kind, factory func() Payload) {
	registry[kind] = factory
}

// Registered reports whether a kind has a payload factory.
func Registered(kind Kind) bool {
	_, ok := registry[kind]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Decode parses stored payload bytes into the typed form for a kind.
// The decoded payload is validated before it is returned.
func Decode(kind Kind, data []byte) (Payload, error) {
	factory, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown action kind: %s", kind)
	}

	p := factory()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", kind, err)
	}

	return p, nil
}

// Marshal validates a payload and serializes it for storage.
func Marshal(p Payload) (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", p.Kind(), err)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.Kind(), err)
	}

	return data, nil
}
