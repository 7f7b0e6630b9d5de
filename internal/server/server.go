// Package server wires the relay core together and runs it as one unit: the
// TCP client listener, the unix admin listener, and the event relay start and
// stop as a group, and a cancelled context tears all of them down.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/pharmanotify/pharmanotify/pkg/admin"
	"github.com/pharmanotify/pharmanotify/pkg/config"
	"github.com/pharmanotify/pharmanotify/pkg/directory"
	"github.com/pharmanotify/pharmanotify/pkg/health"
	"github.com/pharmanotify/pharmanotify/pkg/relay"
	"github.com/pharmanotify/pharmanotify/pkg/session"
	"github.com/pharmanotify/pharmanotify/pkg/store"
	"github.com/pharmanotify/pharmanotify/pkg/tasks"
)

// Version is set at build time.
var Version = "dev"

// Server is the PharmaNotify relay process.
type Server struct {
	cfg     *config.Config
	dir     *directory.Directory
	checker *health.Checker
	session *session.Handler
	admin   *admin.Handler
	relay   *relay.Relay
	log     *slog.Logger

	mu   sync.Mutex
	open map[net.Conn]struct{}
}

// New assembles a Server from its collaborators.
func New(cfg *config.Config, st store.Store, emitter tasks.Emitter, rdb *redis.Client, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	dir := directory.New()
	checker := health.NewChecker()
	return &Server{
		cfg:     cfg,
		dir:     dir,
		checker: checker,
		session: session.NewHandler(st, dir, emitter, log),
		admin:   admin.NewHandler(st, dir, emitter, checker, log),
		relay:   relay.New(rdb, cfg.Redis.Channel, dir, log),
		log:     log.With("component", "server"),
		open:    make(map[net.Conn]struct{}),
	}
}

// Checker exposes the readiness state, reported by the admin status command.
func (s *Server) Checker() *health.Checker {
	return s.checker
}

// Run starts both listeners and the relay and blocks until ctx is cancelled
// or one of them fails. Shutdown closes the listeners, waits for the group,
// and removes the admin socket file.
func (s *Server) Run(ctx context.Context) error {
	clientLn, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("binding client listener: %w", err)
	}

	adminLn, err := s.listenAdmin()
	if err != nil {
		_ = clientLn.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	// Closing the listeners unblocks the accept loops; closing the open
	// connections unblocks handlers stuck in reads.
	group.Go(func() error {
		<-ctx.Done()
		s.checker.SetDraining()
		_ = clientLn.Close()
		_ = adminLn.Close()
		s.closeOpenConns()
		return nil
	})

	group.Go(func() error {
		return s.acceptLoop(ctx, clientLn, "client", s.session.Handle)
	})
	group.Go(func() error {
		return s.acceptLoop(ctx, adminLn, "admin", s.admin.Handle)
	})
	group.Go(func() error {
		return s.relay.Run(ctx)
	})

	s.checker.SetReady()
	s.log.Info("server started",
		"version", Version,
		"client_addr", s.cfg.Server.ListenAddr,
		"admin_socket", s.cfg.Server.MonitorSocket)

	err = group.Wait()
	s.removeSocket()
	s.log.Info("server stopped")
	return err
}

// listenAdmin binds the unix admin socket, removing any stale file a crashed
// instance left behind.
func (s *Server) listenAdmin() (net.Listener, error) {
	path := s.cfg.Server.MonitorSocket
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale admin socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding admin socket: %w", err)
	}
	return ln, nil
}

// acceptLoop accepts connections until the listener closes, running each
// handler in its own goroutine. It waits for in-flight handlers before
// returning so shutdown does not abandon open sessions mid-write.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, name string, handle func(context.Context, net.Conn)) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting %s connection: %w", name, err)
		}

		s.track(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.untrack(conn)
			handle(ctx, conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, conn)
}

func (s *Server) closeOpenConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.open {
		_ = conn.Close()
	}
}

func (s *Server) removeSocket() {
	if err := os.Remove(s.cfg.Server.MonitorSocket); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("removing admin socket file", "error", err)
	}
}
