// ABOUTME: Top-level gateway wiring: stores, middleware chain, routes, lifecycle
// ABOUTME: Run blocks until context cancellation, then shuts down gracefully

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/oauth2"

	"github.com/ravediamond/mcph-gateway/internal/auth"
	"github.com/ravediamond/mcph-gateway/internal/blob"
	"github.com/ravediamond/mcph-gateway/internal/config"
	"github.com/ravediamond/mcph-gateway/internal/health"
	"github.com/ravediamond/mcph-gateway/internal/mcp"
	"github.com/ravediamond/mcph-gateway/internal/metrics"
	"github.com/ravediamond/mcph-gateway/internal/oauth"
	"github.com/ravediamond/mcph-gateway/internal/store"
	"github.com/ravediamond/mcph-gateway/internal/throttle"
	"github.com/ravediamond/mcph-gateway/internal/tools"
)

// Version is the advertised server version, set at build time.
var Version = "dev"

// crateSweepInterval controls how often expired guest crates are collected.
const crateSweepInterval = 10 * time.Minute

// Server owns every gateway component and the HTTP listener.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	store      store.Store
	blobs      *blob.BucketStore
	collector  *metrics.Collector
	guard      *throttle.Guard
	broker     *oauth.Broker
	mcpServer  *mcp.Server
	crateTools *tools.CrateTools

	httpServer *http.Server
}

// New wires all components from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	secret := []byte(cfg.Auth.TokenSecret)
	blobs, err := blob.Open(ctx, cfg.Blob.URL, cfg.Server.BaseURL, secret, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	if cfg.Auth.KeyFile != "" {
		if err := SeedKeys(ctx, db, cfg.Auth.KeyFile, logger); err != nil {
			blobs.Close()
			db.Close()
			return nil, fmt.Errorf("seeding API keys: %w", err)
		}
	}

	verifier := auth.NewJWTVerifier(secret)
	authenticator := auth.NewAuthenticator(db, verifier, cfg.Auth.KeyCacheTTL, logger)

	collector := metrics.NewCollector(cfg.Metrics.MaxSamples, logger)
	guard := throttle.NewGuard(cfg.Throttle.Window, logger)

	broker := oauth.NewBroker(baseURL(cfg), db, newExchanger(cfg), verifier, cfg.OAuth.SessionTTL, logger)

	registry := tools.NewRegistry(db, logger)
	crateTools := tools.NewCrateTools(db, blobs, logger)
	if err := crateTools.RegisterAll(registry); err != nil {
		broker.Close()
		guard.Close()
		blobs.Close()
		db.Close()
		return nil, fmt.Errorf("registering builtin tools: %w", err)
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Registry:          registry,
		Logger:            logger,
		ServerName:        "mcph-gateway",
		ServerVersion:     Version,
		HeartbeatInterval: cfg.Streaming.HeartbeatInterval,
	})
	if err != nil {
		broker.Close()
		guard.Close()
		blobs.Close()
		db.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	checker := health.NewChecker(logger,
		health.Probe{Name: "database", Check: db.Ping},
		health.Probe{Name: "blob", Check: blobs.Ping},
	)

	s := &Server{
		cfg:        cfg,
		logger:     logger.With("component", "server"),
		store:      db,
		blobs:      blobs,
		collector:  collector,
		guard:      guard,
		broker:     broker,
		mcpServer:  mcpServer,
		crateTools: crateTools,
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.router(authenticator, oauth.NewHandler(broker, logger), checker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// router builds the full middleware chain and route table.
func (s *Server) router(authenticator *auth.Authenticator, oauthHandler *oauth.Handler, checker *health.Checker) http.Handler {
	cfg := s.cfg
	logger := s.logger

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	// CORS runs first so preflights short-circuit before anything else.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Mcp-Session-Id", "MCP-Protocol-Version"},
		ExposedHeaders: []string{"Mcp-Session-Id", "MCP-Protocol-Version", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	r.Use(requestLogger(logger))
	r.Use(s.collector.Middleware)
	r.Use(securityHeaders)

	// Health and metrics stay outside throttling and auth so probes and
	// scrapers are never rate-limited or rejected.
	r.Get("/healthz", health.HandleLiveness)
	r.Get("/health/live", health.HandleLiveness)
	r.Get("/health/ready", checker.HandleReadiness)
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", s.collector.Handler())
		r.Get("/metrics/summary", s.collector.HandleSummary)
		r.Get("/metrics/requests", s.collector.HandleRequests)
		r.Get("/metrics/performance", s.collector.HandlePerformance)
	}

	// Blob proxy routes authenticate by signed URL, not bearer credential.
	r.Put("/blob/upload", s.handleBlobUpload)
	r.Get("/blob/download", s.handleBlobDownload)

	r.Group(func(r chi.Router) {
		r.Use(s.guard.Middleware(cfg.Throttle.MaxRequests, cfg.Throttle.Window))
		r.Use(auth.Middleware(authenticator, logger))

		r.Get("/.well-known/oauth-authorization-server", oauthHandler.HandleDiscovery)
		r.Get("/auth/authorize", oauthHandler.HandleAuthorize)
		r.Get("/auth/callback", oauthHandler.HandleCallback)
		r.Post("/auth/token", oauthHandler.HandleToken)
		r.Post("/auth/register", oauthHandler.HandleRegister)

		// The SSE stream is long-lived: only the non-streaming MCP verbs get
		// the timeout enforcer.
		r.With(timeoutEnforcer(cfg.Server.RequestTimeout, logger)).Post("/mcp", s.mcpServer.ServeHTTP)
		r.With(timeoutEnforcer(cfg.Server.RequestTimeout, logger)).Delete("/mcp", s.mcpServer.ServeHTTP)
		r.Get("/mcp", s.mcpServer.ServeHTTP)
	})

	return r
}

// Run starts the HTTP server and background sweeps, blocking until the
// context is cancelled or the server fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	go s.sweepCrates(ctx)

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// sweepCrates periodically removes expired guest crates.
func (s *Server) sweepCrates(ctx context.Context) {
	ticker := time.NewTicker(crateSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.crateTools.SweepExpired(ctx, time.Now()); err != nil {
				s.logger.Warn("crate sweep failed", "error", err)
			}
		}
	}
}

// gracefulShutdown drains the HTTP server with a fresh context, since the
// run context is already cancelled, then releases every component.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the listener and tears down components in dependency order.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	s.mcpServer.Close()
	s.broker.Close()
	s.guard.Close()
	if err := s.blobs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("blob close: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("shutdown complete")
	return nil
}

// baseURL returns the externally visible URL for discovery metadata and
// signed local blob URLs.
func baseURL(cfg *config.Config) string {
	if cfg.Server.BaseURL != "" {
		return cfg.Server.BaseURL
	}
	return "http://" + cfg.Server.HTTPAddr
}

// newExchanger picks the upstream identity integration. A configured
// provider gets a real authorization-code exchange with an OIDC-style
// userinfo lookup; otherwise the local dev exchanger serves.
func newExchanger(cfg *config.Config) oauth.Exchanger {
	oc := cfg.OAuth
	if oc.AuthURL == "" || oc.TokenURL == "" {
		return &oauth.StaticExchanger{
			CallbackURL: baseURL(cfg) + "/auth/callback",
			Identity:    oauth.Identity{Subject: "dev-user", Name: "Development User"},
		}
	}

	oauthCfg := &oauth2.Config{
		ClientID:     oc.ClientID,
		ClientSecret: oc.ClientSecret,
		RedirectURL:  baseURL(cfg) + "/auth/callback",
		Scopes:       oc.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  oc.AuthURL,
			TokenURL: oc.TokenURL,
		},
	}
	return oauth.NewOAuth2Exchanger(oauthCfg, userInfoLookup(oc.UserInfoURL))
}

// userInfoLookup fetches the provider's userinfo document with the
// exchanged token and reads the standard sub/name claims.
func userInfoLookup(userInfoURL string) oauth.UserInfoFunc {
	return func(ctx context.Context, token *oauth2.Token) (*oauth.Identity, error) {
		if userInfoURL == "" {
			return nil, errors.New("oauth.user_info_url is not configured")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
		if err != nil {
			return nil, err
		}
		token.SetAuthHeader(req)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("userinfo request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
		}

		var claims struct {
			Sub  string `json:"sub"`
			Name string `json:"name"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&claims); err != nil {
			return nil, fmt.Errorf("decoding userinfo: %w", err)
		}
		if claims.Sub == "" {
			return nil, errors.New("userinfo has no sub claim")
		}
		return &oauth.Identity{Subject: claims.Sub, Name: claims.Name}, nil
	}
}
