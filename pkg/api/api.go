// Package api hosts the observability HTTP surface: cache/negcache/chaos
// statistics, per-upstream trust and RTT, recent resolution journeys
// pulled from the journal, and a couple of admin actions (cache purge,
// storage reset). It carries no DNS resolution logic of its own.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"vantage/pkg/cache"
	"vantage/pkg/chaos"
	"vantage/pkg/config"
	"vantage/pkg/forwarder"
	"vantage/pkg/journal"
	"vantage/pkg/logging"
	"vantage/pkg/negcache"
	"vantage/pkg/recursive"
	"vantage/pkg/storage"
)

// Server is the observability HTTP API.
type Server struct {
	httpServer *http.Server
	logger     *logging.Logger

	storage   storage.Storage
	cache     *cache.Cache
	negcache  *negcache.Cache
	journal   *journal.Journal
	forwarder *forwarder.Forwarder
	recursive *recursive.Resolver
	gate      *chaos.Gate

	configWatcher  *config.Watcher
	configSnapshot *config.Config

	startTime      time.Time
	version        string
	allowedOrigins []string

	authMu       sync.RWMutex
	authEnabled  bool
	authHeader   string
	apiKey       string
	basicUser    string
	basicPass    string
	passwordHash string
}

// Config holds everything New needs to wire the observability surface.
type Config struct {
	Storage       storage.Storage
	Cache         *cache.Cache
	NegCache      *negcache.Cache
	Journal       *journal.Journal
	Forwarder     *forwarder.Forwarder
	Recursive     *recursive.Resolver
	Gate          *chaos.Gate
	Logger        *logging.Logger
	ConfigWatcher *config.Watcher
	InitialConfig *config.Config
	ListenAddress string
	Version       string
}

// New builds the observability HTTP API and its route table.
func New(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDefault()
	}

	s := &Server{
		logger:         cfg.Logger,
		storage:        cfg.Storage,
		cache:          cfg.Cache,
		negcache:       cfg.NegCache,
		journal:        cfg.Journal,
		forwarder:      cfg.Forwarder,
		recursive:      cfg.Recursive,
		gate:           cfg.Gate,
		configWatcher:  cfg.ConfigWatcher,
		configSnapshot: cfg.InitialConfig,
		version:        cfg.Version,
		startTime:      time.Now(),
	}

	if cfg.InitialConfig != nil {
		s.applyAuthConfig(cfg.InitialConfig.Auth)
		s.allowedOrigins = cfg.InitialConfig.Server.CORSAllowedOrigins
		if len(s.allowedOrigins) == 0 {
			cfg.Logger.Info("CORS disabled (no allowed origins configured)")
		} else if len(s.allowedOrigins) == 1 && s.allowedOrigins[0] == "*" {
			cfg.Logger.Warn("CORS allows all origins (*) - not recommended for production")
		} else {
			cfg.Logger.Info("CORS configured", "allowed_origins", s.allowedOrigins)
		}
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/health", s.handleLiveness)
	mux.HandleFunc("/ready", s.handleReadiness)
	mux.Handle("/metrics", promHandler())

	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/stats/timeseries", s.handleStatsTimeSeries)
	mux.HandleFunc("/api/stats/query-types", s.handleQueryTypes)
	mux.HandleFunc("/api/traces/stats", s.handleTraceStatistics)

	mux.HandleFunc("/api/queries", s.handleQueries)
	mux.HandleFunc("/api/queries/recent", s.handleRecentQueries)
	mux.HandleFunc("/api/top-domains", s.handleTopDomains)

	mux.HandleFunc("/api/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/api/cache/entries", s.handleCacheEntries)
	mux.HandleFunc("POST /api/cache/purge", s.handleCachePurge)

	mux.HandleFunc("/api/upstreams", s.handleUpstreams)
	mux.HandleFunc("/api/chaos", s.handleChaosStats)
	mux.HandleFunc("/api/curiosity", s.handleCuriosity)

	mux.HandleFunc("/api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/storage/reset", s.handleStorageReset)

	mux.HandleFunc("/api/clients", s.handleClientSummaries)
	mux.HandleFunc("/api/clients/profile", s.handleUpdateClientProfile)
	mux.HandleFunc("/api/client-groups", s.handleClientGroups)

	handler := http.Handler(mux)
	handler = s.authMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.corsMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) applyAuthConfig(auth config.AuthConfig) {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	header := strings.TrimSpace(auth.Header)
	if header == "" {
		header = "Authorization"
	}

	apiKey := strings.TrimSpace(auth.APIKey)
	username := strings.TrimSpace(auth.Username)
	password := auth.Password
	passwordHash := strings.TrimSpace(auth.PasswordHash)

	hasBasicAuth := username != "" && (password != "" || passwordHash != "")
	enabled := auth.Enabled && (apiKey != "" || hasBasicAuth)
	s.authEnabled = enabled

	if !enabled {
		s.apiKey = ""
		s.basicUser = ""
		s.basicPass = ""
		s.passwordHash = ""
		s.authHeader = ""
		return
	}

	if password != "" && passwordHash == "" {
		s.logger.Warn("using plaintext auth password (deprecated) - set auth.password_hash instead")
	}

	s.apiKey = apiKey
	s.basicUser = username
	s.basicPass = password
	s.passwordHash = passwordHash
	s.authHeader = strings.ToLower(header)
}

// SetAuthConfig hot-swaps authentication parameters (used by config watcher).
func (s *Server) SetAuthConfig(auth config.AuthConfig) {
	s.applyAuthConfig(auth)
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting observability API", "address", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down observability API")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}

func parseDuration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func (s *Server) getUptime() string {
	uptime := time.Since(s.startTime)
	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

func (s *Server) getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) currentConfig() *config.Config {
	if s.configWatcher != nil {
		return s.configWatcher.Config()
	}
	return s.configSnapshot
}
