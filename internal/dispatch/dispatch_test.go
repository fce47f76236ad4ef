package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jdelhommeau/pointd/internal/credentials"
	"github.com/jdelhommeau/pointd/internal/queue"
)

// testItem returns a minimal deliverable item
func testItem() *queue.Item {
	return &queue.Item{
		ID:       1,
		Kind:     "clock-in",
		Payload:  json.RawMessage(`{"employee_id":"emp-1"}`),
		Endpoint: "/api/v1/clock-in",
		Method:   "POST",
	}
}

// newTestDispatcher wires a dispatcher against a test server
func newTestDispatcher(t *testing.T, server *httptest.Server) *HTTP {
	t.Helper()
	h, err := NewHTTP(Config{
		BaseURL:     server.URL,
		Credentials: credentials.Static{Value: "tok-test"},
	})
	if err != nil {
		t.Fatalf("NewHTTP() failed: %v", err)
	}
	return h
}

// TestDispatch_Success tests a 2xx delivery
func TestDispatch_Success(t *testing.T) {
	var gotAuth, gotPath, gotMethod, gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	h := newTestDispatcher(t, server)
	if err := h.Dispatch(context.Background(), testItem()); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}

	if gotAuth != "Bearer tok-test" {
		t.Errorf("Authorization = %q, want 'Bearer tok-test'", gotAuth)
	}
	if gotPath != "/api/v1/clock-in" {
		t.Errorf("path = %q, want '/api/v1/clock-in'", gotPath)
	}
	if gotMethod != "POST" {
		t.Errorf("method = %q, want 'POST'", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want 'application/json'", gotContentType)
	}
	if string(gotBody) != `{"employee_id":"emp-1"}` {
		t.Errorf("body = %s, want the item payload", gotBody)
	}
}

// TestDispatch_EmptyPayloadHasNoBody tests that placeholder payloads are
// not sent
func TestDispatch_EmptyPayloadHasNoBody(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	item := testItem()
	item.Payload = json.RawMessage(`{}`)
	item.Method = "DELETE"

	h := newTestDispatcher(t, server)
	if err := h.Dispatch(context.Background(), item); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	if len(gotBody) != 0 {
		t.Errorf("body = %q, want empty", gotBody)
	}
}

// TestDispatch_ServerError tests the 5xx failure path
func TestDispatch_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	h := newTestDispatcher(t, server)
	err := h.Dispatch(context.Background(), testItem())
	if err == nil {
		t.Fatal("Dispatch() succeeded, want error")
	}

	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("error %v is not a DeliveryError", err)
	}
	if derr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want %d", derr.StatusCode, http.StatusBadGateway)
	}
	if !strings.Contains(derr.Error(), "database unavailable") {
		t.Errorf("error %q missing response body snippet", derr.Error())
	}
}

// TestDispatch_ClientError tests that 4xx fails the same way as 5xx
func TestDispatch_ClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown employee", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	h := newTestDispatcher(t, server)
	err := h.Dispatch(context.Background(), testItem())

	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("error %v is not a DeliveryError", err)
	}
	if derr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d, want %d", derr.StatusCode, http.StatusUnprocessableEntity)
	}
}

// TestDispatch_TransportError tests failures with no HTTP response
func TestDispatch_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Refuse all connections

	h, err := NewHTTP(Config{
		BaseURL:     server.URL,
		Credentials: credentials.Static{Value: "tok-test"},
	})
	if err != nil {
		t.Fatalf("NewHTTP() failed: %v", err)
	}

	err = h.Dispatch(context.Background(), testItem())
	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("error %v is not a DeliveryError", err)
	}
	if derr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for transport failure", derr.StatusCode)
	}
}

// TestDispatch_MissingCredentials tests that credential failures look
// like any other delivery failure
func TestDispatch_MissingCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached the server without credentials")
	}))
	defer server.Close()

	h, err := NewHTTP(Config{
		BaseURL:     server.URL,
		Credentials: credentials.Static{},
	})
	if err != nil {
		t.Fatalf("NewHTTP() failed: %v", err)
	}

	err = h.Dispatch(context.Background(), testItem())
	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("error %v is not a DeliveryError", err)
	}
	if !errors.Is(err, credentials.ErrNotConfigured) {
		t.Errorf("error %v does not unwrap to ErrNotConfigured", err)
	}
}

// TestDispatch_AbsoluteEndpoint tests that absolute endpoints bypass the
// base URL
func TestDispatch_AbsoluteEndpoint(t *testing.T) {
	var hit bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h, err := NewHTTP(Config{
		BaseURL:     "https://unreachable.invalid",
		Credentials: credentials.Static{Value: "tok-test"},
	})
	if err != nil {
		t.Fatalf("NewHTTP() failed: %v", err)
	}

	item := testItem()
	item.Endpoint = server.URL + "/api/v1/clock-in"
	if err := h.Dispatch(context.Background(), item); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	if !hit {
		t.Error("absolute endpoint never reached the server")
	}
}

// TestResolveURL tests base URL joining
func TestResolveURL(t *testing.T) {
	h, err := NewHTTP(Config{
		BaseURL:     "https://api.example.com/",
		Credentials: credentials.Static{Value: "tok-test"},
	})
	if err != nil {
		t.Fatalf("NewHTTP() failed: %v", err)
	}

	tests := []struct {
		endpoint string
		want     string
	}{
		{"/api/v1/clock-in", "https://api.example.com/api/v1/clock-in"},
		{"api/v1/clock-in", "https://api.example.com/api/v1/clock-in"},
		{"https://other.example.com/x", "https://other.example.com/x"},
	}

	for _, tt := range tests {
		if got := h.resolveURL(tt.endpoint); got != tt.want {
			t.Errorf("resolveURL(%q) = %q, want %q", tt.endpoint, got, tt.want)
		}
	}
}

// TestNewHTTP_Validation tests required config
func TestNewHTTP_Validation(t *testing.T) {
	if _, err := NewHTTP(Config{Credentials: credentials.Static{Value: "x"}}); err == nil {
		t.Error("NewHTTP() without base URL succeeded, want error")
	}
	if _, err := NewHTTP(Config{BaseURL: "https://api.example.com"}); err == nil {
		t.Error("NewHTTP() without credentials succeeded, want error")
	}
}
