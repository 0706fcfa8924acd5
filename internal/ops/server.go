// Package ops serves the local operator endpoints: health, Prometheus metrics
// and optionally net/http/pprof.
package ops

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"gpvbot/internal/monitor"
	"gpvbot/internal/storage"
	logx "gpvbot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	Pprof   bool
	// StaleAfter marks health as failing when the last tick is older. Zero disables the check.
	StaleAfter time.Duration
}

// TickSource is satisfied by *monitor.Monitor.
type TickSource interface {
	LastTick() (monitor.TickResult, bool)
}

// StatsSource is satisfied by storage.Store.
type StatsSource interface {
	Stats(ctx context.Context) (storage.Stats, error)
}

type Deps struct {
	Ticks   TickSource
	Stats   StatsSource
	Metrics http.Handler
	Log     logx.Logger
	Now     func() time.Time
}

type Server struct {
	deps Deps

	mu       sync.Mutex
	cfg      Config
	ln       net.Listener
	srv      *http.Server
	stopDone chan struct{}
}

func New(cfg Config, d Deps) *Server {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Server{cfg: cfg, deps: d}
}

// Addr returns the bound address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Apply starts, stops or restarts the server to match cfg. Safe during hot reload.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
		return nil
	case !running:
		return s.Start(ctx)
	case prev.Addr != cfg.Addr || prev.Pprof != cfg.Pprof:
		s.Stop(ctx)
		return s.Start(ctx)
	}
	return nil
}

func (s *Server) Start(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.srv != nil {
			s.mu.Unlock()
			return nil
		}
		// wait for an in-flight Stop so we never double listen
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		cur := s.cfg
		s.mu.Unlock()

		if !cur.Enabled {
			return nil
		}
		addr := strings.TrimSpace(cur.Addr)
		if addr == "" {
			addr = "127.0.0.1:9090"
		}
		if cur.Pprof && !isLoopbackAddr(addr) {
			s.deps.Log.Warn("pprof exposed on non-loopback addr", logx.String("addr", addr))
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Handler:           s.handler(cur),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		s.mu.Lock()
		s.ln = ln
		s.srv = srv
		s.mu.Unlock()

		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.deps.Log.Error("ops server stopped with error", logx.Err(err))
			}
		}()
		s.deps.Log.Info("ops server started",
			logx.String("addr", ln.Addr().String()),
			logx.Bool("pprof", cur.Pprof),
		)
		return nil
	}
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.srv == nil {
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
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
		s.mu.Lock()
		s.stopDone = nil
		s.mu.Unlock()
		s.deps.Log.Info("ops server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Server) handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz(cfg))
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics)
	}
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return mux
}

// Health is the /healthz body.
type Health struct {
	Status   string              `json:"status"`
	LastTick *monitor.TickResult `json:"last_tick,omitempty"`
	Storage  *storage.Stats      `json:"storage,omitempty"`
	Error    string              `json:"error,omitempty"`
}

const (
	StatusOK       = "ok"
	StatusStarting = "starting"
	StatusStale    = "stale"
	StatusDegraded = "degraded"
)

func (s *Server) healthz(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := Health{Status: StatusOK}
		code := http.StatusOK

		if s.deps.Ticks != nil {
			tick, ok := s.deps.Ticks.LastTick()
			switch {
			case !ok:
				h.Status = StatusStarting
			case cfg.StaleAfter > 0 && s.deps.Now().Sub(tick.StartedAt) > cfg.StaleAfter:
				h.Status = StatusStale
				code = http.StatusServiceUnavailable
			}
			if ok {
				h.LastTick = &tick
			}
		}
		if s.deps.Stats != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			st, err := s.deps.Stats.Stats(ctx)
			cancel()
			if err != nil {
				h.Status = StatusDegraded
				h.Error = err.Error()
				code = http.StatusServiceUnavailable
			} else {
				h.Storage = &st
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(h)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
