package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sunwise/sunwise/pkg/energy"
	"github.com/sunwise/sunwise/pkg/integration"
	"github.com/sunwise/sunwise/pkg/log"
	"github.com/sunwise/sunwise/pkg/notify"
	"github.com/sunwise/sunwise/pkg/sizing"
	"github.com/sunwise/sunwise/pkg/storage"
	"github.com/sunwise/sunwise/pkg/types"
)

const (
	authTokenCookie = "auth_token"
	// bypassUserID is the user every request acts as when auth is bypassed
	// in local development. cmd/seed seeds the same id.
	bypassUserID = "demo"
)

type contextKey string

const (
	userContextKey contextKey = "user"
)

// tokenVerifier is a function that validates a Google or Apple ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// dashboard is the part of the aggregation engine the API exposes.
type dashboard interface {
	Summary(ctx context.Context, userID string) types.DashboardMetrics
	History(ctx context.Context, userID string) []types.HistoryPoint
	Mix(ctx context.Context, userID string) types.EnergyMix
	Forecast(ctx context.Context, userID string) types.ForecastResponse
}

// integrationRegistry is the part of the integration registry the API
// exposes.
type integrationRegistry interface {
	List(ctx context.Context, userID string) ([]types.Integration, error)
	Connect(ctx context.Context, userID string, provider types.ProviderTag, credential string, tokens *types.OAuthTokens) (types.Integration, error)
	Disconnect(ctx context.Context, userID string, provider types.ProviderTag) error
}

var (
	_ dashboard           = (*energy.Engine)(nil)
	_ integrationRegistry = (*integration.Registry)(nil)
)

var requestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sunwise",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request latency.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"code", "method"},
)

func init() {
	prometheus.MustRegister(requestDuration)
}

// Server handles the HTTP API. It wires the dashboard engine, the sizing
// calculator, the integration registry and quote persistence together.
type Server struct {
	dashboard    dashboard
	sizer        *sizing.Calculator
	integrations integrationRegistry
	storage      storage.Database
	publisher    notify.Publisher

	listenAddr string
	devProxy   string
	httpServer *http.Server

	oidcAudiences map[string]string
	oidcVerifiers map[string]tokenVerifier
	bypassAuth    bool
	serverName    string

	now   func() time.Time
	newID func() string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(d *energy.Engine, sizer *sizing.Calculator, reg *integration.Registry, s storage.Database, p notify.Publisher) *Server {
	srv := &Server{
		dashboard:    d,
		sizer:        sizer,
		integrations: reg,
		storage:      s,
		publisher:    p,
		serverName:   "sunwise",
		now:          time.Now,
		newID:        uuid.NewString,
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	devProxy := lflag.String("dev-proxy", "", "Address of the dev server (e.g. http://localhost:5173)")
	oidcAudiences := map[string]string{}
	lflag.JSON(&oidcAudiences, "oidc-audiences", oidcAudiences, "JSON map of provider (google/apple) to audience/client ID")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.devProxy = *devProxy
		if len(oidcAudiences) > 0 {
			srv.oidcAudiences = make(map[string]string, len(oidcAudiences))
			srv.oidcVerifiers = make(map[string]tokenVerifier, len(oidcAudiences))
			for n, a := range oidcAudiences {
				var issuer string
				switch n {
				case "google":
					issuer = "https://accounts.google.com"
				case "apple":
					issuer = "https://appleid.apple.com"
				default:
					log.Ctx(context.Background()).Error("unsupported oidc audience client", slog.String("client", n))
					os.Exit(1)
				}
				provider, err := oidc.NewProvider(context.Background(), issuer)
				if err != nil {
					log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("client", n), slog.Any("error", err))
					os.Exit(1)
				}
				srv.oidcVerifiers[n] = provider.Verifier(&oidc.Config{ClientID: a}).Verify
				srv.oidcAudiences[n] = a
			}
		}

		if srv.devProxy != "" && len(srv.oidcAudiences) == 0 {
			srv.bypassAuth = true
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	apiMux.HandleFunc("POST /api/auth/login", s.handleLogin)
	apiMux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	apiMux.HandleFunc("GET /api/dashboard/summary", s.handleDashboardSummary)
	apiMux.HandleFunc("GET /api/dashboard/history", s.handleDashboardHistory)
	apiMux.HandleFunc("GET /api/dashboard/mix", s.handleDashboardMix)
	apiMux.HandleFunc("GET /api/dashboard/forecast", s.handleDashboardForecast)
	apiMux.HandleFunc("GET /api/integrations", s.handleListIntegrations)
	apiMux.HandleFunc("POST /api/integrations", s.handleConnectIntegration)
	apiMux.HandleFunc("POST /api/integrations/disconnect", s.handleDisconnectIntegration)
	apiMux.HandleFunc("POST /api/quote", s.handleCreateQuote)
	apiMux.HandleFunc("GET /api/quote/preview", s.handlePreviewQuote)
	apiMux.HandleFunc("GET /api/quote/{id}", s.handleGetQuote)

	mux := http.NewServeMux()
	mux.Handle("/api/", promhttp.InstrumentHandlerDuration(requestDuration, s.authMiddleware(apiMux)))

	// the frontend is served by its own dev server locally and a CDN otherwise
	if s.devProxy != "" {
		u, err := url.Parse(s.devProxy)
		if err != nil {
			panic(fmt.Errorf("invalid dev-proxy url (%s): %w", s.devProxy, err))
		}
		mux.Handle("/", httputil.NewSingleHostReverseProxy(u))
	}
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// getUser returns the authenticated user. Only call it from handlers behind
// a path that requires login.
func (s *Server) getUser(r *http.Request) authUser {
	if user, ok := r.Context().Value(userContextKey).(authUser); ok {
		return user
	}
	return authUser{}
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
