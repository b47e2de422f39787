package poeproxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/poeproxy/poe-openai-proxy/internal/config"
	log "github.com/sirupsen/logrus"
)

// pprofServer runs the profiling listener on its own address so that it is
// never exposed through the API port. It follows the pprof section of the
// configuration across reloads.
type pprofServer struct {
	mu     sync.Mutex
	server *http.Server
	addr   string
}

func (s *Service) applyPprofConfig(cfg *config.Config) {
	if s == nil || cfg == nil {
		return
	}
	if s.pprof == nil {
		s.pprof = &pprofServer{}
	}
	s.pprof.apply(cfg.Pprof)
}

func (s *Service) shutdownPprof(ctx context.Context) error {
	if s == nil || s.pprof == nil {
		return nil
	}
	return s.pprof.shutdown(ctx, "shutdown")
}

func (p *pprofServer) apply(cfg config.PprofConfig) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = config.DefaultPprofAddr
	}

	p.mu.Lock()
	running := p.server != nil
	sameAddr := p.addr == addr
	p.mu.Unlock()

	switch {
	case !cfg.Enable:
		if running {
			_ = p.shutdown(context.Background(), "disabled")
		}
	case running && sameAddr:
	default:
		if running {
			_ = p.shutdown(context.Background(), "restarted")
		}
		p.start(addr)
	}
}

func (p *pprofServer) start(addr string) {
	server := &http.Server{
		Addr:              addr,
		Handler:           newPprofMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	p.mu.Lock()
	p.server = server
	p.addr = addr
	p.mu.Unlock()

	log.Infof("pprof server starting on %s", addr)
	go func() {
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("pprof server failed on %s: %v", addr, errServe)
			p.mu.Lock()
			if p.server == server {
				p.server = nil
			}
			p.mu.Unlock()
		}
	}()
}

func (p *pprofServer) shutdown(ctx context.Context, reason string) error {
	p.mu.Lock()
	server, addr := p.server, p.addr
	p.server = nil
	p.mu.Unlock()
	if server == nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errStop := server.Shutdown(stopCtx); errStop != nil {
		log.Errorf("pprof server stop failed on %s: %v", addr, errStop)
		return errStop
	}
	log.Infof("pprof server stopped on %s (%s)", addr, reason)
	return nil
}

func newPprofMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/debug/pprof/"+name, pprof.Handler(name))
	}
	return mux
}
