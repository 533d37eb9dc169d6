package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lkarlslund/msgrelay/pkg/config"
	"github.com/lkarlslund/msgrelay/pkg/logutil"
	"github.com/lkarlslund/msgrelay/pkg/metrics"
	"golang.org/x/crypto/acme/autocert"
)

const MessagesPath = "/v1/messages"

type Server struct {
	cfg        *config.Config
	logger     *log.Logger
	client     *http.Client
	targetURL  string
	metrics    *metrics.Collector
	handler    http.Handler
	httpServer *http.Server

	// settings holds what a config reload may change while serving.
	settings atomic.Pointer[relaySettings]

	activeRequests atomic.Int64
	draining       atomic.Bool
}

type relaySettings struct {
	credentials *CredentialResolver
	synthesizer *MetadataSynthesizer
}

type Option func(*Server)

// WithHTTPClient replaces the client used for backend calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) {
		if c != nil {
			s.client = c
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = c
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewServer(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logutil.New("relay"),
		targetURL: cfg.TargetAPIURL,
		client: &http.Client{
			// No overall timeout: streamed responses stay open as long as the
			// backend keeps sending.
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.storeSettings(cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(s.requestLifecycleMiddleware)
	r.Use(s.accessLogMiddleware)
	r.Use(s.recoverMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writePlain(w, http.StatusNotFound, msgNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writePlain(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
	})
	r.Post(MessagesPath, s.handleMessages)
	r.Options(MessagesPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.handler = r

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams may run for minutes; no read or write deadline on the body.
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) storeSettings(cfg *config.Config) {
	s.settings.Store(&relaySettings{
		credentials: NewCredentialResolver(cfg, s.logger),
		synthesizer: NewMetadataSynthesizer(cfg.DefaultUserID),
	})
}

// Reload applies the credential and metadata settings from cfg to requests
// that start afterwards. Listener, TLS and target changes need a restart.
func (s *Server) Reload(cfg *config.Config) {
	if cfg.ListenAddr() != s.cfg.ListenAddr() || cfg.TargetAPIURL != s.targetURL ||
		cfg.MetricsAddr != s.cfg.MetricsAddr || cfg.TLS != s.cfg.TLS {
		s.logger.Warn("listener, target or tls settings changed; restart to apply them")
	}
	s.storeSettings(cfg)
	s.logger.Info("relay settings reloaded",
		"default_key", cfg.DefaultAPIKey != "",
		"force_default_key", cfg.ForceDefaultAPIKey,
		"default_user", cfg.DefaultUserID != "",
	)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 3)
	var servers []*http.Server

	if s.cfg.MetricsAddr != "" {
		metricsSrv := s.newMetricsServer()
		servers = append(servers, metricsSrv)
		go func() {
			s.logger.Info("metrics listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if s.cfg.TLS.Enabled {
		mgr := &autocert.Manager{
			Cache:      autocert.DirCache(s.cfg.TLS.CacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.cfg.TLS.Domain),
			Email:      s.cfg.TLS.Email,
		}
		httpsSrv := s.httpServer
		httpsSrv.Addr = ":443"
		httpsSrv.TLSConfig = &tls.Config{GetCertificate: mgr.GetCertificate, MinVersion: tls.VersionTLS12}
		httpChallenge := &http.Server{
			Addr:              ":80",
			Handler:           mgr.HTTPHandler(http.HandlerFunc(redirectHTTPS)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, httpChallenge, httpsSrv)

		go func() {
			s.logger.Info("http challenge/redirect listening", "addr", httpChallenge.Addr)
			if err := httpChallenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http challenge server: %w", err)
			}
		}()
		go func() {
			s.logger.Info("https listening", "addr", httpsSrv.Addr, "domain", s.cfg.TLS.Domain, "target", s.targetURL)
			if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
			}
		}()
	} else {
		servers = append(servers, s.httpServer)
		go func() {
			s.logger.Info("relay listening", "addr", s.httpServer.Addr, "target", s.targetURL)
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("relay server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	s.draining.Store(true)

	timeout := time.Duration(s.cfg.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.waitForIdle(shutdownCtx)
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	if runErr != nil {
		return runErr
	}
	return firstErr(errCh)
}

func (s *Server) newMetricsServer() *http.Server {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func redirectHTTPS(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
}

func (s *Server) waitForIdle(ctx context.Context) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	lastLog := time.Time{}
	for {
		active := s.activeRequests.Load()
		if active <= 0 {
			s.logger.Info("shutdown: relay idle")
			return
		}
		if lastLog.IsZero() || time.Since(lastLog) >= time.Second {
			s.logger.Info("shutdown: waiting for active requests", "active", active)
			lastLog = time.Now()
		}
		select {
		case <-ctx.Done():
			s.logger.Warn("shutdown: giving up on active requests", "active", s.activeRequests.Load())
			return
		case <-t.C:
		}
	}
}

var corsHeaders = []HeaderField{
	{Name: "Access-Control-Allow-Origin", Value: "*"},
	{Name: "Access-Control-Allow-Methods", Value: "GET, POST, PUT, DELETE, OPTIONS"},
	{Name: "Access-Control-Allow-Headers", Value: "*"},
}

func applyCORS(h http.Header) {
	for _, f := range corsHeaders {
		h.Set(f.Name, f.Value)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applyCORS(w.Header())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLifecycleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			w.Header().Set("Retry-After", "3")
			writePlain(w, http.StatusServiceUnavailable, "server shutting down")
			return
		}
		s.activeRequests.Add(1)
		defer s.activeRequests.Add(-1)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info(r.Method+" "+r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Millisecond),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// recoverMiddleware turns a panic into a generic 500. The detail goes to the
// log only.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			s.metrics.RecordRequest(metrics.OutcomeFailed)
			s.logger.Error("panic in handler",
				"panic", rvr,
				"path", r.URL.Path,
				"stack", strings.TrimSpace(string(debug.Stack())),
			)
			writePlain(w, http.StatusInternalServerError, msgInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

func firstErr(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	default:
		return nil
	}
}
