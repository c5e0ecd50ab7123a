// Package listener owns the TCP listener and HTTP server lifecycle shared by
// the network adapters.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tinyland-inc/switchboard/pkg/logger"
)

const readHeaderTimeout = 10 * time.Second

// Server serves a handler on a TCP address.
type Server struct {
	addr      string
	component string
	handler   http.Handler

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
	done     chan struct{}
	running  bool
}

// New creates a Server. component tags its log lines.
func New(addr string, handler http.Handler, component string) *Server {
	if component == "" {
		component = "listener"
	}
	return &Server{addr: addr, handler: handler, component: component}
}

// Start binds the address and begins serving in the background. Calling it on
// a running server is a no-op.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF(s.component, "Server stopped unexpectedly", map[string]any{
				"addr":  ln.Addr().String(),
				"error": err.Error(),
			})
		}
	}()

	s.listener = ln
	s.srv = srv
	s.done = done
	s.running = true

	logger.InfoCF(s.component, "Listening", map[string]any{"addr": ln.Addr().String()})
	return nil
}

// Stop shuts the server down, waiting for active requests until ctx expires,
// after which remaining connections are closed. It is safe to call on a
// server that never started.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv, done := s.srv, s.done
	s.running = false
	s.srv = nil
	s.listener = nil
	s.mu.Unlock()

	err := srv.Shutdown(ctx)
	if err != nil {
		srv.Close()
	}
	<-done
	return err
}

// Addr returns the bound address while running, otherwise the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
