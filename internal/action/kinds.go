package action

import (
	"encoding/json"
	"fmt"
	"time"
)

// ClockIn records the start of a work period for an employee.
type ClockIn struct {
	EmployeeID string    `json:"employee_id"`
	Timestamp  time.Time `json:"timestamp"`
	Site       string    `json:"site,omitempty"` // Optional location tag
	Note       string    `json:"note,omitempty"`
}

// Kind returns the action kind for clock-in payloads.
func (p *ClockIn) Kind() Kind { return KindClockIn }

// Endpoint returns the backend route this payload targets.
func (p *ClockIn) Endpoint() string { return "/api/v1/clock-in" }

// Method returns the HTTP method for this payload.
func (p *ClockIn) Method() string { return "POST" }

// Validate checks if the payload has valid field values.
func (p *ClockIn) Validate() error {
	if p.EmployeeID == "" {
		return fmt.Errorf("employee_id is required")
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// ClockOut records the end of a work period for an employee.
type ClockOut struct {
	EmployeeID string    `json:"employee_id"`
	Timestamp  time.Time `json:"timestamp"`
	Note       string    `json:"note,omitempty"`
}

// Kind returns the action kind for clock-out payloads.
func (p *ClockOut) Kind() Kind { return KindClockOut }

// Endpoint returns the backend route this payload targets.
func (p *ClockOut) Endpoint() string { return "/api/v1/clock-out" }

// Method returns the HTTP method for this payload.
func (p *ClockOut) Method() string { return "POST" }

// Validate checks if the payload has valid field values.
func (p *ClockOut) Validate() error {
	if p.EmployeeID == "" {
		return fmt.Errorf("employee_id is required")
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// EntryUpdate edits an existing time entry. Only the non-zero fields
// are applied by the backend.
type EntryUpdate struct {
	EntryID int64      `json:"entry_id"`
	Start   *time.Time `json:"start,omitempty"`
	End     *time.Time `json:"end,omitempty"`
	Note    string     `json:"note,omitempty"`
}

// Kind returns the action kind for entry-update payloads.
func (p *EntryUpdate) Kind() Kind { return KindEntryUpdate }

// Endpoint returns the backend route this payload targets.
func (p *EntryUpdate) Endpoint() string {
	return fmt.Sprintf("/api/v1/entries/%d", p.EntryID)
}

// Method returns the HTTP method for this payload.
func (p *EntryUpdate) Method() string { return "PUT" }

// Validate checks if the payload has valid field values.
func (p *EntryUpdate) Validate() error {
	if p.EntryID <= 0 {
		return fmt.Errorf("entry_id is required")
	}
	if p.Start == nil && p.End == nil && p.Note == "" {
		return fmt.Errorf("no fields to update")
	}
	if p.Start != nil && p.End != nil && p.End.Before(*p.Start) {
		return fmt.Errorf("end must not be before start")
	}
	return nil
}

// EntryDelete removes an existing time entry.
type EntryDelete struct {
	EntryID int64 `json:"entry_id"`
}

// Kind returns the action kind for entry-delete payloads.
func (p *EntryDelete) Kind() Kind { return KindEntryDelete }

// Endpoint returns the backend route this payload targets.
func (p *EntryDelete) Endpoint() string {
	return fmt.Sprintf("/api/v1/entries/%d", p.EntryID)
}

// Method returns the HTTP method for this payload.
func (p *EntryDelete) Method() string { return "DELETE" }

// Validate checks if the payload has valid field values.
func (p *EntryDelete) Validate() error {
	if p.EntryID <= 0 {
		return fmt.Errorf("entry_id is required")
	}
	return nil
}

// Raw carries a payload for a kind without a registered type. The
// caller supplies the route explicitly since there is no typed form
// to derive it from.
type Raw struct {
	ActionKind Kind            `json:"-"`
	Data       json.RawMessage `json:"-"`
	Path       string          `json:"-"`
	HTTPMethod string          `json:"-"`
}

// Kind returns the caller-supplied kind.
func (p *Raw) Kind() Kind { return p.ActionKind }

// Endpoint returns the caller-supplied route.
func (p *Raw) Endpoint() string { return p.Path }

// Method returns the caller-supplied HTTP method.
func (p *Raw) Method() string { return p.HTTPMethod }

// Validate checks if the payload has valid field values.
func (p *Raw) Validate() error {
	if p.ActionKind == "" {
		return fmt.Errorf("kind is required")
	}
	if p.Path == "" {
		return fmt.Errorf("endpoint is required")
	}
	if p.HTTPMethod == "" {
		return fmt.Errorf("method is required")
	}
	if len(p.Data) > 0 && !json.Valid(p.Data) {
		return fmt.Errorf("payload must be valid JSON")
	}
	return nil
}

// MarshalJSON emits the wrapped bytes unchanged.
func (p *Raw) MarshalJSON() ([]byte, error) {
	if len(p.Data) == 0 {
		return []byte("{}"), nil
	}
	return p.Data, nil
}

// UnmarshalJSON stores the bytes unchanged.
func (p *Raw) UnmarshalJSON(data []byte) error {
	p.Data = append(p.Data[:0], data...)
	return nil
}
