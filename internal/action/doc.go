// Package action defines the typed payloads carried by queue items.
//
// # Overview
//
// Every queued item stores its payload as opaque JSON alongside an
// action kind. This package gives those payloads a typed form: each
// kind maps to a struct that validates its own fields and knows the
// backend route it targets. The queue and dispatcher never inspect
// payload contents; only enqueue-time validation and display tooling
// decode them.
//
// # Built-in Kinds
//
//   - clock-in - start a work period (POST /api/v1/clock-in)
//   - clock-out - end a work period (POST /api/v1/clock-out)
//   - entry-update - edit a time entry (PUT /api/v1/entries/{id})
//   - entry-delete - remove a time entry (DELETE /api/v1/entries/{id})
//
// # Usage Examples
//
// Building and validating a payload:
//
//	p := &action.ClockIn{
//	    EmployeeID: "emp-42",
//	    Timestamp:  time.Now(),
//	    Site:       "lyon",
//	}
//	data, err := action.Marshal(p)
//
// Decoding a stored payload back into its typed form:
//
//	p, err := action.Decode(action.KindClockIn, item.Payload)
//
// Carrying an unregistered kind with an explicit route:
//
//	p := &action.Raw{
//	    ActionKind: "expense-report",
//	    Data:       json.RawMessage(`{"amount": 12.50}`),
//	    Path:       "/api/v1/expenses",
//	    HTTPMethod: "POST",
//	}
//
// # Extension
//
// Callers can register additional kinds with action.Register. The
// registry only affects decoding; the queue accepts any kind whose
// item carries a route.
package action
