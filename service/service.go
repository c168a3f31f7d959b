package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"github.com/InsulaLabs/skiff/config"
	"github.com/InsulaLabs/skiff/eval"
	"github.com/InsulaLabs/skiff/lang"
	"github.com/InsulaLabs/skiff/models"
	"github.com/InsulaLabs/skiff/store"
)

/*
	The parse cache holds fully parsed programs keyed by their exact
	source text. Expressions are immutable once built, so cached nodes
	are shared freely across requests and sessions. We don't bump the
	ttl on hits so hot sources still age out and re-parse on a fixed
	cadence.
*/

type Service struct {
	appCtx context.Context
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store
	mux    *http.ServeMux

	defaultStrategy eval.Strategy

	startedAt time.Time

	rateLimiters map[string]*ttlcache.Cache[string, *rate.Limiter]
	parseCache   *ttlcache.Cache[string, lang.Expr]
	apiKeys      map[string]struct{}

	// WebSocket repl session handling
	wsUpgrader          websocket.Upgrader
	sessions            map[*replSession]bool
	sessionsLock        sync.Mutex
	activeWsConnections int32
}

func (s *Service) AddHandler(path string, handler http.Handler) error {
	if !s.startedAt.IsZero() {
		return fmt.Errorf("service already started, cannot add handler after startup")
	}
	s.mux.Handle(path, handler)
	return nil
}

func New(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	snippets store.Store,
) (*Service, error) {

	// Initialize rate limiters
	rateLimiters := make(map[string]*ttlcache.Cache[string, *rate.Limiter])
	rlLogger := logger.With("component", "rate-limiter")

	makeCategoryRateLimiter := func() *ttlcache.Cache[string, *rate.Limiter] {
		cache := ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](time.Minute*1),
			ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
		)
		go cache.Start()
		return cache
	}

	if rlConfig := cfg.Service.RateLimiters.Parse; rlConfig.Limit > 0 {
		rateLimiters["parse"] = makeCategoryRateLimiter()
		rlLogger.Info("Initialized rate limiter for 'parse'", "limit", rlConfig.Limit, "burst", rlConfig.Burst)
	}
	if rlConfig := cfg.Service.RateLimiters.Eval; rlConfig.Limit > 0 {
		rateLimiters["eval"] = makeCategoryRateLimiter()
		rlLogger.Info("Initialized rate limiter for 'eval'", "limit", rlConfig.Limit, "burst", rlConfig.Burst)
	}
	if rlConfig := cfg.Service.RateLimiters.Snippets; rlConfig.Limit > 0 {
		rateLimiters["snippets"] = makeCategoryRateLimiter()
		rlLogger.Info("Initialized rate limiter for 'snippets'", "limit", rlConfig.Limit, "burst", rlConfig.Burst)
	}
	if rlConfig := cfg.Service.RateLimiters.Sessions; rlConfig.Limit > 0 {
		rateLimiters["sessions"] = makeCategoryRateLimiter()
		rlLogger.Info("Initialized rate limiter for 'sessions'", "limit", rlConfig.Limit, "burst", rlConfig.Burst)
	}
	if rlConfig := cfg.Service.RateLimiters.Default; rlConfig.Limit > 0 {
		rateLimiters["default"] = makeCategoryRateLimiter()
		rlLogger.Info("Initialized rate limiter for 'default'", "limit", rlConfig.Limit, "burst", rlConfig.Burst)
	}

	parseCache := ttlcache.New[string, lang.Expr](
		ttlcache.WithTTL[string, lang.Expr](cfg.Service.ParseCacheTTL),

		// Disable touch on hit so even hot sources re-parse on a
		// fixed cadence instead of pinning stale entries forever
		ttlcache.WithDisableTouchOnHit[string, lang.Expr](),
	)
	go parseCache.Start()

	apiKeys := make(map[string]struct{})
	for _, key := range cfg.Service.ApiKeys {
		apiKeys[key] = struct{}{}
	}

	service := &Service{
		appCtx:          ctx,
		cfg:             cfg,
		logger:          logger,
		store:           snippets,
		mux:             http.NewServeMux(),
		defaultStrategy: eval.Strategy(cfg.DefaultStrategy),
		rateLimiters:    rateLimiters,
		parseCache:      parseCache,
		apiKeys:         apiKeys,
		sessions:        make(map[*replSession]bool),
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Service.Sessions.WebSocketReadBufferSize,
			WriteBufferSize: cfg.Service.Sessions.WebSocketWriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				logger.Debug("WebSocket CheckOrigin called", "origin", r.Header.Get("Origin"), "host", r.Host)
				return true
			},
		},
	}

	return service, nil
}

func (s *Service) getRemoteAddress(r *http.Request) string {
	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		s.logger.Debug("Could not split host and port from remote address", "remote_addr", r.RemoteAddr, "error", err)
		remoteIP = r.RemoteAddr
	}
	return remoteIP
}

// limiterKey buckets authenticated callers by api key so a shared NAT
// doesn't starve them; anonymous callers share a per-address bucket.
func (s *Service) limiterKey(r *http.Request) string {
	if key := r.Header.Get("Authorization"); key != "" {
		return key
	}
	return s.getRemoteAddress(r)
}

func (s *Service) getRateLimiter(category string, r *http.Request) *rate.Limiter {
	limiterCategory, ok := s.rateLimiters[category]
	if !ok {
		// Fallback to default if category not found, though this shouldn't happen with proper setup
		limiterCategory = s.rateLimiters["default"]
	}
	key := s.limiterKey(r)
	limiterItem := limiterCategory.Get(key)
	if limiterItem == nil {
		var rlConfig config.RateLimiterConfig
		switch category {
		case "parse":
			rlConfig = s.cfg.Service.RateLimiters.Parse
		case "eval":
			rlConfig = s.cfg.Service.RateLimiters.Eval
		case "snippets":
			rlConfig = s.cfg.Service.RateLimiters.Snippets
		case "sessions":
			rlConfig = s.cfg.Service.RateLimiters.Sessions
		default:
			rlConfig = s.cfg.Service.RateLimiters.Default
		}
		limiter := rate.NewLimiter(rate.Limit(rlConfig.Limit), rlConfig.Burst)
		limiterItem = limiterCategory.Set(key, limiter, time.Minute*1)
	}
	return limiterItem.Value()
}

func (s *Service) rateLimitMiddleware(next http.Handler, category string) http.Handler {

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := s.getRateLimiter(category, r)
		res := limiter.Reserve()
		// If there's a delay, the request is rate-limited.
		if delay := res.Delay(); delay > 0 {
			// We're not proceeding, so cancel the reservation to return the token.
			res.Cancel()
			s.logger.Warn("Rate limit exceeded", "category", category, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

			// Set headers to inform the client about the rate limit.
			retryAfterSeconds := math.Ceil(delay.Seconds())
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfterSeconds))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%v", limiter.Limit()))
			w.Header().Set("X-RateLimit-Burst", fmt.Sprintf("%d", limiter.Burst()))
			writeError(w, http.StatusTooManyRequests, models.ErrorTypeRateLimited, "rate limit exceeded, see Retry-After")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Service) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(
			"Request handled",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// validateApiKey writes the 401 itself so handlers can bail with a bare
// return, mirroring how token validation reads at call sites.
func (s *Service) validateApiKey(w http.ResponseWriter, r *http.Request) bool {
	// No configured keys leaves the playground open.
	if len(s.apiKeys) == 0 {
		return true
	}
	if _, ok := s.apiKeys[r.Header.Get("Authorization")]; ok {
		return true
	}
	s.logger.Warn("Rejected request with invalid api key", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
	writeError(w, http.StatusUnauthorized, models.ErrorTypeBadRequest, "invalid or missing api key")
	return false
}

func (s *Service) withRoute(path string, handler http.HandlerFunc, category string) {
	s.mux.Handle(path, s.requestLogMiddleware(s.rateLimitMiddleware(handler, category)))
}

func (s *Service) registerRoutes() {
	s.withRoute("/skiff/api/v1/ping", s.pingHandler, "default")
	s.withRoute("/skiff/api/v1/parse", s.parseHandler, "parse")
	s.withRoute("/skiff/api/v1/eval", s.evalHandler, "eval")

	// Snippet handlers
	s.withRoute("/skiff/api/v1/snippets", s.snippetsHandler, "snippets")
	s.withRoute("/skiff/api/v1/snippets/eval", s.snippetEvalHandler, "eval")
	s.withRoute("/skiff/api/v1/snippets/delete", s.snippetDeleteHandler, "snippets")

	// Interactive sessions
	s.withRoute("/skiff/api/v1/session", s.sessionHandler, "sessions")
}

// Run serves until the context is cancelled.
func (s *Service) Run() {

	s.registerRoutes()

	if s.cfg.SSH.Enabled {
		if err := s.startSSHServer(); err != nil {
			s.logger.Error("Could not start SSH server", "error", err)
		}
	}

	httpListenAddr := s.cfg.Service.HttpBinding
	s.logger.Info(
		"Attempting to start server",
		"listen_addr", httpListenAddr,
		"tls_enabled", (s.cfg.Service.TLS.Cert != "" && s.cfg.Service.TLS.Key != ""),
	)

	srv := &http.Server{
		Addr:    httpListenAddr,
		Handler: s.mux,
	}

	go func() {
		<-s.appCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Server shutdown error", "error", err)
		}
	}()

	s.startedAt = time.Now()

	if s.cfg.Service.TLS.Cert != "" && s.cfg.Service.TLS.Key != "" {
		s.logger.Info("Starting HTTPS server", "cert", s.cfg.Service.TLS.Cert, "key", s.cfg.Service.TLS.Key)
		if err := srv.ListenAndServeTLS(s.cfg.Service.TLS.Cert, s.cfg.Service.TLS.Key); err != http.ErrServerClosed {
			s.logger.Error("HTTPS server error", "error", err)
		}
	} else {
		s.logger.Info("TLS cert or key not specified in config. Starting HTTP server (insecure).")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}

	stopWg := sync.WaitGroup{}

	stopWg.Add(1)
	go func() {
		defer stopWg.Done()
		s.parseCache.Stop()
	}()

	stopWg.Add(1)
	go func() {
		defer stopWg.Done()
		s.sessionsLock.Lock()
		defer s.sessionsLock.Unlock()
		for session := range s.sessions {
			if session.conn != nil {
				if err := session.conn.Close(); err != nil {
					s.logger.Error("Error closing WebSocket connection", "error", err)
				}
			}
		}
		s.sessions = make(map[*replSession]bool)
	}()

	stopWg.Add(1)
	go func() {
		defer stopWg.Done()
		for _, limiter := range s.rateLimiters {
			limiter.Stop()
		}
	}()

	s.logger.Info("Waiting for server to stop - this may take a moment")
	stopWg.Wait()

	s.logger.Info("Server stopped")
}
