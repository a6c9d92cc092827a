package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHealthzWithoutPlanner(t *testing.T) {
	s := &Server{}

	rr := httptest.NewRecorder()
	s.handleHealthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "degraded" || body["hpp_connected"] != false {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["leader"]; ok {
		t.Fatalf("leader must be omitted without election, got %v", body)
	}
}

func TestCloseRunsClosersInReverse(t *testing.T) {
	s := &Server{}
	var order []int
	for i := 0; i < 3; i++ {
		s.DeferClose(func() error {
			order = append(order, i)
			return nil
		})
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(order) != 3 || order[0] != 2 || order[2] != 0 {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestCloseAggregatesErrors(t *testing.T) {
	s := &Server{}
	s.DeferClose(func() error { return errString("db") })
	s.DeferClose(func() error { return nil })
	s.DeferClose(func() error { return errString("nats") })

	err := s.Close()
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "db") || !strings.Contains(got, "nats") {
		t.Fatalf("expected both errors, got %q", got)
	}
	if s.Close() != nil {
		t.Fatal("second Close must be a no-op")
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/target/state", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options=%q, want nosniff", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options=%q, want DENY", got)
	}
	if got := rr.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("expected no HSTS on non-HTTPS request, got %q", got)
	}

	req.Header.Set("X-Forwarded-Proto", "https")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Fatalf("Strict-Transport-Security=%q", got)
	}
}
