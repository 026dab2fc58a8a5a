package overlay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "irlshots/internal/runtime/supervisor"
	logx "irlshots/pkg/logx"
)

// ServerConfig controls the overlay HTTP server.
//
// Security:
//   - /ws, /healthz, /metrics and the static dir are always served.
//   - /api/ and the pprof endpoints need Token, a loopback Addr, or AllowInsecure.
type ServerConfig struct {
	Enabled       bool
	Addr          string
	StaticDir     string
	Token         string
	AllowInsecure bool

	Pprof       bool
	PprofPrefix string

	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

// Server serves the overlay socket plus the control API.
type Server struct {
	mu  sync.Mutex
	log logx.Logger
	cfg ServerConfig

	hub     *Hub
	metrics http.Handler
	api     http.Handler

	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
	ready    chan struct{}
}

func NewServer(cfg ServerConfig, hub *Hub, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, hub: hub, log: log, ready: make(chan struct{})}
}

// MountMetrics serves h at /metrics. Call before Start.
func (s *Server) MountMetrics(h http.Handler) {
	s.mu.Lock()
	s.metrics = h
	s.mu.Unlock()
}

// MountAPI serves h under /api/. Call before Start.
func (s *Server) MountAPI(h http.Handler) {
	s.mu.Lock()
	s.api = h
	s.mu.Unlock()
}

// Supervisor returns the server's internal supervisor (nil if not started).
func (s *Server) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Addr returns the bound address once listening, or "".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Ready is closed the first time the server starts listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Reconfigure applies cfg and starts/stops/restarts the server if needed.
// Safe to call during hot-reload.
func (s *Server) Reconfigure(ctx context.Context, cfg ServerConfig) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	if !cfg.Enabled {
		if running {
			s.Stop(ctx)
		}
		return
	}
	if !running {
		s.Start(ctx)
		return
	}
	if needsRestart(prev, cfg) {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func needsRestart(a, b ServerConfig) bool {
	if a.Addr != b.Addr || a.StaticDir != b.StaticDir {
		return true
	}
	if a.Token != b.Token || a.AllowInsecure != b.AllowInsecure {
		return true
	}
	if a.Pprof != b.Pprof || pprofPrefix(a.PprofPrefix) != pprofPrefix(b.PprofPrefix) {
		return true
	}
	return a.ReadTimeout != b.ReadTimeout || a.IdleTimeout != b.IdleTimeout
}

func (s *Server) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Start is idempotent.
	for {
		s.mu.Lock()
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			continue
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		s.sup = rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log.With(logx.String("comp", "overlay"))),
			rtsup.WithCancelOnError(false),
		)
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce,
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		return
	}
}

func (s *Server) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	srv, ln, sup := s.srv, s.ln, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}
		if sup != nil {
			sup.Cancel()
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.ln, s.srv, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("overlay server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	hub, metrics, api := s.hub, s.metrics, s.api
	log := s.log
	s.mu.Unlock()

	if !cur.Enabled {
		return context.Canceled
	}
	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = ":3456"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("overlay listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if hub != nil {
		mux.Handle("/ws", hub)
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	g := newGuard(cur, addr)
	if !g.open && (api != nil || cur.Pprof) {
		log.Warn("control api and pprof disabled: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
	}
	if g.open && api != nil {
		mux.Handle("/api/", g.wrap(api))
	}
	if g.open && cur.Pprof {
		mountPprof(mux, cur.PprofPrefix, g)
	}
	if dir := strings.TrimSpace(cur.StaticDir); dir != "" {
		mux.Handle("/", http.FileServer(http.Dir(dir)))
	}

	srv := &http.Server{
		Handler:     mux,
		ReadTimeout: cur.ReadTimeout,
		IdleTimeout: cur.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	listenAddr := ln.Addr().String()
	log.Info("overlay server started",
		logx.String("addr", listenAddr),
		logx.String("hint", fmt.Sprintf("ws://%s/ws", listenAddr)),
		logx.Bool("api", g.open && api != nil),
		logx.Bool("pprof", g.open && cur.Pprof),
	)

	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.ln = nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("overlay server exited unexpectedly")
	}
	return err
}
