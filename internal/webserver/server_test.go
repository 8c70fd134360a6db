package webserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"midterm/internal/registry"
)

type stubSpawner struct {
	mu  sync.Mutex
	pid int
}

func (s *stubSpawner) Spawn(_ context.Context, _ []string, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pid++
	return s.pid, nil
}

type stubEnumerator struct{}

func (stubEnumerator) List() ([]registry.Endpoint, error) { return nil, nil }
func (stubEnumerator) Remove(string) error                { return nil }

func newTestServer() *Server {
	reg := registry.New(registry.Options{Spawner: &stubSpawner{}, Enumerator: stubEnumerator{}})
	return New(Options{Registry: reg, Gate: OpenGate{}})
}

func TestHandleListSessionsEmpty(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	s.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp sessionListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sessions) != 0 {
		t.Fatalf("expected no sessions, got %v", resp.Sessions)
	}
}

func TestHandleCloseUnknownSessionReturns404(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodDelete, "/api/sessions/nope0000", nil)
	s.ServeHTTP(rec, r)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAuthRequiredOnControlPlane(t *testing.T) {
	reg := registry.New(registry.Options{Spawner: &stubSpawner{}, Enumerator: stubEnumerator{}})
	s := New(Options{Registry: reg, Gate: SharedCredentialGate{Credential: "topsecret"}})

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	s.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credential, got %d", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	r2 := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r2.Header.Set("Authorization", "Bearer topsecret")
	s.ServeHTTP(rec2, r2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 with credential, got %d", rec2.Code)
	}
}
