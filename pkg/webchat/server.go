package webchat

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 30 * time.Second

type closer struct {
	name string
	fn   func() error
}

// Server drives the HTTP server, background workers and shutdown order for
// a chat deployment.
type Server struct {
	httpSrv    *http.Server
	sv         *Supervisor
	background []func(ctx context.Context) error
	closers    []closer

	// ShutdownTimeout bounds the graceful HTTP shutdown.
	ShutdownTimeout time.Duration
	// HandleSignals makes Run stop on SIGINT/SIGTERM.
	HandleSignals bool
}

func NewServer(addr string, handler http.Handler, sv *Supervisor) *Server {
	return &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		sv:              sv,
		ShutdownTimeout: defaultShutdownTimeout,
		HandleSignals:   true,
	}
}

func (s *Server) HTTPServer() *http.Server { return s.httpSrv }

// Go runs fn alongside the server. Its context ends at shutdown.
func (s *Server) Go(fn func(ctx context.Context) error) {
	s.background = append(s.background, fn)
}

// OnShutdown registers fn to run after the HTTP server stopped, in
// registration order.
func (s *Server) OnShutdown(name string, fn func() error) {
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

// Run listens on the configured address and serves until ctx ends or a
// signal arrives.
func (s *Server) Run(ctx context.Context) error {
	if s == nil || s.httpSrv == nil {
		return errors.New("server is not initialized")
	}
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.httpSrv.Addr)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	if s == nil || s.httpSrv == nil {
		return errors.New("server is not initialized")
	}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()
	eg, egCtx := errgroup.WithContext(srvCtx)

	for _, fn := range s.background {
		fn := fn
		eg.Go(func() error { return fn(egCtx) })
	}

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		if s.HandleSignals {
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
		}
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-egCtx.Done():
		}
		srvCancel()
		return s.shutdown(context.WithoutCancel(ctx))
	})

	eg.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("starting chat server")
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}

func (s *Server) shutdown(base context.Context) error {
	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	var firstErr error
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
		firstErr = err
	}
	// hijacked websocket connections are not tracked by http.Server
	if s.sv != nil {
		s.sv.CloseAll()
	}
	for _, c := range s.closers {
		if err := c.fn(); err != nil {
			log.Error().Err(err).Str("resource", c.name).Msg("close error")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		log.Debug().Str("resource", c.name).Msg("closed")
	}
	log.Info().Msg("server shutdown complete")
	return firstErr
}
