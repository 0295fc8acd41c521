package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sunwise/sunwise/pkg/sizing"
	"github.com/sunwise/sunwise/pkg/solar"
	"github.com/sunwise/sunwise/pkg/storage/storagemock"
	"github.com/sunwise/sunwise/pkg/types"
)

const testQuoteID = "0b7e1f44-2f6c-4c55-9c55-1d1d0a3f8c11"

var testNow = time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)

type testDeps struct {
	dashboard *mockDashboard
	registry  *mockRegistry
	storage   *storagemock.MockDatabase
	publisher *mockPublisher
}

// newTestServer returns a server acting as the bypass user with every
// collaborator mocked.
func newTestServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()
	deps := &testDeps{
		dashboard: &mockDashboard{},
		registry:  &mockRegistry{},
		storage:   &storagemock.MockDatabase{},
		publisher: &mockPublisher{},
	}
	t.Cleanup(func() {
		deps.dashboard.AssertExpectations(t)
		deps.registry.AssertExpectations(t)
		deps.storage.AssertExpectations(t)
		deps.publisher.AssertExpectations(t)
	})
	return &Server{
		dashboard:    deps.dashboard,
		sizer:        sizing.NewCalculator(solar.DefaultConfig()),
		integrations: deps.registry,
		storage:      deps.storage,
		publisher:    deps.publisher,
		bypassAuth:   true,
		serverName:   "sunwise-test",
		now:          func() time.Time { return testNow },
		newID:        func() string { return testQuoteID },
	}, deps
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	w := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "sunwise-test", w.Header().Get("Server"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, w.Header().Get("Cache-Control"))
}

func TestMetrics(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.dashboard.On("Mix", mock.Anything, bypassUserID).Return(types.EnergyMix{Solar: 5, Grid: 95})
	handler := srv.setupHandler()

	// one api request so the latency histogram has a sample
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/dashboard/mix", nil))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sunwise_http_request_duration_seconds")
}

func TestSecurityHeaders(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.dashboard.On("Mix", mock.Anything, bypassUserID).Return(types.EnergyMix{Solar: 5, Grid: 95})

	w := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, httptest.NewRequest("GET", "/api/dashboard/mix", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "max-age=63072000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Security-Policy"), "default-src 'none'"))
}

func TestUnauthenticatedAPI(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.bypassAuth = false

	w := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, httptest.NewRequest("GET", "/api/dashboard/summary", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDevProxy(t *testing.T) {
	devServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("dev server response"))
	}))
	defer devServer.Close()

	srv, _ := newTestServer(t)
	srv.devProxy = devServer.URL

	w := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dev server response", w.Body.String())
}

func TestNoDevProxy(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
