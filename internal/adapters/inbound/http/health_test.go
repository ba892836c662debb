package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// mockHealthChecker is a test implementation of HealthChecker
type mockHealthChecker struct {
	ready   bool
	healthy bool
}

func (m *mockHealthChecker) IsReady() bool   { return m.ready }
func (m *mockHealthChecker) IsHealthy() bool { return m.healthy }

func serve(t *testing.T, handler http.Handler, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return w.Code, resp
}

func TestServer_Probes(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		ready          bool
		healthy        bool
		shuttingDown   bool
		expectedStatus int
		expectedBody   string
	}{
		{name: "ready", path: "/health/ready", ready: true, expectedStatus: http.StatusOK, expectedBody: "ready"},
		{name: "not ready", path: "/health/ready", expectedStatus: http.StatusServiceUnavailable, expectedBody: "not_ready"},
		{name: "ready while shutting down", path: "/health/ready", ready: true, shuttingDown: true, expectedStatus: http.StatusServiceUnavailable, expectedBody: "shutting_down"},
		{name: "healthy", path: "/health/live", healthy: true, expectedStatus: http.StatusOK, expectedBody: "healthy"},
		{name: "unhealthy", path: "/health/live", expectedStatus: http.StatusServiceUnavailable, expectedBody: "unhealthy"},
		{name: "live while shutting down", path: "/health/live", healthy: true, shuttingDown: true, expectedStatus: http.StatusServiceUnavailable, expectedBody: "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &mockHealthChecker{ready: tt.ready, healthy: tt.healthy}
			var shuttingDown atomic.Bool
			shuttingDown.Store(tt.shuttingDown)

			s := NewServer(ServerConfig{Addr: ":0"}, checker, &shuttingDown)
			status, resp := serve(t, s.Handler(), tt.path)

			if status != tt.expectedStatus {
				t.Errorf("status: got %d, want %d", status, tt.expectedStatus)
			}
			if resp["status"] != tt.expectedBody {
				t.Errorf("body status: got %q, want %q", resp["status"], tt.expectedBody)
			}
		})
	}
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name           string
		ready          bool
		healthy        bool
		shuttingDown   bool
		expectedStatus int
		expectedBody   string
	}{
		{name: "ready and healthy", ready: true, healthy: true, expectedStatus: http.StatusOK, expectedBody: "ok"},
		{name: "not ready", healthy: true, expectedStatus: http.StatusServiceUnavailable, expectedBody: "degraded"},
		{name: "not healthy", ready: true, expectedStatus: http.StatusServiceUnavailable, expectedBody: "degraded"},
		{name: "shutting down", ready: true, healthy: true, shuttingDown: true, expectedStatus: http.StatusServiceUnavailable, expectedBody: "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &mockHealthChecker{ready: tt.ready, healthy: tt.healthy}
			var shuttingDown atomic.Bool
			shuttingDown.Store(tt.shuttingDown)

			s := NewServer(ServerConfig{}, checker, &shuttingDown)
			status, resp := serve(t, s.Handler(), "/health")

			if status != tt.expectedStatus {
				t.Errorf("status: got %d, want %d", status, tt.expectedStatus)
			}
			if resp["status"] != tt.expectedBody {
				t.Errorf("body status: got %q, want %q", resp["status"], tt.expectedBody)
			}
			if !tt.shuttingDown {
				if resp["ready"] != tt.ready {
					t.Errorf("ready: got %v, want %v", resp["ready"], tt.ready)
				}
				if resp["healthy"] != tt.healthy {
					t.Errorf("healthy: got %v, want %v", resp["healthy"], tt.healthy)
				}
			}
		})
	}
}

// mockDependency fails its health check with err, or blocks until the
// check context is done when hang is set.
type mockDependency struct {
	err  error
	hang bool
}

func (m *mockDependency) HealthCheck(ctx context.Context) error {
	if m.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.err
}

func TestServer_HealthChecksDependencies(t *testing.T) {
	tests := []struct {
		name           string
		dependencies   map[string]DependencyChecker
		expectedStatus int
		expectedBody   string
		expectedDeps   map[string]string
	}{
		{
			name:           "no dependencies",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
			expectedDeps:   map[string]string{},
		},
		{
			name: "all dependencies up",
			dependencies: map[string]DependencyChecker{
				"node_ws":  &mockDependency{},
				"node_rpc": &mockDependency{},
			},
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
			expectedDeps:   map[string]string{"node_ws": "ok", "node_rpc": "ok"},
		},
		{
			name: "one dependency down",
			dependencies: map[string]DependencyChecker{
				"node_ws":  &mockDependency{err: errors.New("no headers received for 2m0s")},
				"node_rpc": &mockDependency{},
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "degraded",
			expectedDeps:   map[string]string{"node_ws": "no headers received for 2m0s", "node_rpc": "ok"},
		},
		{
			name: "dependency times out",
			dependencies: map[string]DependencyChecker{
				"sink": &mockDependency{hang: true},
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "degraded",
			expectedDeps:   map[string]string{"sink": context.DeadlineExceeded.Error()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(ServerConfig{
				Dependencies:      tt.dependencies,
				DependencyTimeout: 50 * time.Millisecond,
			}, &mockHealthChecker{ready: true, healthy: true}, nil)
			status, resp := serve(t, s.Handler(), "/health")

			if status != tt.expectedStatus {
				t.Errorf("status: got %d, want %d", status, tt.expectedStatus)
			}
			if resp["status"] != tt.expectedBody {
				t.Errorf("body status: got %q, want %q", resp["status"], tt.expectedBody)
			}

			deps, ok := resp["dependencies"].(map[string]any)
			if !ok {
				t.Fatalf("dependencies: got %T, want an object", resp["dependencies"])
			}
			if len(deps) != len(tt.expectedDeps) {
				t.Errorf("dependencies: got %v, want %v", deps, tt.expectedDeps)
			}
			for name, want := range tt.expectedDeps {
				if deps[name] != want {
					t.Errorf("dependency %s: got %v, want %q", name, deps[name], want)
				}
			}
		})
	}
}

func TestServer_RejectsOtherMethods(t *testing.T) {
	s := NewServer(ServerConfig{}, &mockHealthChecker{ready: true, healthy: true}, nil)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := NewServer(ServerConfig{}, &mockHealthChecker{ready: true, healthy: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
