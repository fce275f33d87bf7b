// Package server speaks AMQP 0-9-1 on top of the broker model: it accepts
// connections, negotiates them, and maps channel methods onto vhosts.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	goevents "github.com/docker/go-events"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/config"
	"github.com/aleybovich/carrot-broker/internal/broker"
	"github.com/aleybovich/carrot-broker/internal/events"
	"github.com/aleybovich/carrot-broker/internal/store"
	"github.com/aleybovich/carrot-broker/logger"
	"github.com/aleybovich/carrot-broker/storage"
)

// Server is one listening broker.
type Server struct {
	logger    logger.Logger
	logging   config.LoggingConfig
	auth      config.AuthConfig
	brokerCfg config.BrokerConfig
	provider  storage.StorageProvider
	vhosts    []config.VHostConfig
	sinks     []goevents.Sink

	broker     *broker.Broker
	bus        *events.Bus
	strategies map[string]authStrategy
	pool       *semaphore.Weighted
	connSeq    atomic.Uint64

	ready    atomic.Bool
	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc

	connectionsMu sync.RWMutex
	connections   map[*connection]struct{}
	connWG        sync.WaitGroup
}

// ServerOption configures a Server during NewServer.
type ServerOption func(*Server)

// WithLogger sets a custom logger
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLogging builds the logger from a logging section.
func WithLogging(cfg config.LoggingConfig) ServerOption {
	return func(s *Server) {
		s.logging = cfg
		s.logger = cfg.Build()
	}
}

// WithAuth enables PLAIN-style authentication against the given users.
func WithAuth(credentials map[string]string) ServerOption {
	return func(s *Server) {
		if len(credentials) == 0 {
			return
		}
		s.auth.Mode = config.AuthModePlain
		s.auth.Users = make(map[string]string, len(credentials))
		for user, pass := range credentials {
			s.auth.Users[user] = pass
		}
		s.logger.Info("Authentication enabled with %d users", len(credentials))
	}
}

// WithAuthConfig replaces the whole auth section.
func WithAuthConfig(cfg config.AuthConfig) ServerOption {
	return func(s *Server) {
		if len(cfg.Users) > 0 {
			cfg.Mode = config.AuthModePlain
		}
		s.auth = cfg
	}
}

// WithVHosts declares vhosts with their exchanges, queues and bindings at startup.
func WithVHosts(vhosts []config.VHostConfig) ServerOption {
	return func(s *Server) {
		s.vhosts = append(s.vhosts, vhosts...)
	}
}

// WithBrokerConfig sets protocol limits and delivery policies.
func WithBrokerConfig(cfg config.BrokerConfig) ServerOption {
	return func(s *Server) {
		if err := cfg.Validate(); err != nil {
			s.logger.Warn("Invalid broker config: %v, using defaults", err)
			return
		}
		s.brokerCfg = cfg
	}
}

// WithHeartbeatInterval sets the heartbeat proposed in connection.tune.
func WithHeartbeatInterval(seconds uint16) ServerOption {
	return func(s *Server) {
		s.brokerCfg.Heartbeat = seconds
	}
}

// WithEventSink adds a receiver for broker events.
func WithEventSink(sink goevents.Sink) ServerOption {
	return func(s *Server) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// WithStorage configures the storage provider for the server
func WithStorage(cfg config.StorageConfig) ServerOption {
	return func(s *Server) {
		if err := cfg.Validate(); err != nil {
			s.logger.Warn("Invalid storage config: %v, persistence disabled", err)
			return
		}

		switch cfg.Type {
		case config.StorageTypeNone:
			s.provider = nil
			s.logger.Info("Persistence disabled")

		case config.StorageTypeMemory:
			s.provider = storage.NewBuntDBProvider(":memory:")
			s.logger.Info("Using in-memory storage (BuntDB)")

		case config.StorageTypeBuntDB:
			path := cfg.BuntDB.Path
			if path == "" {
				path = ":memory:"
			}
			s.provider = storage.NewBuntDBProvider(path)
			s.logger.Info("Using BuntDB storage at: %s", path)

		case config.StorageTypeBoltDB:
			s.provider = storage.NewBoltDBProvider(cfg.BoltDB.Path, cfg.BoltDB.Timeout)
			s.logger.Info("Using BoltDB storage at: %s", cfg.BoltDB.Path)
		}
	}
}

// WithInMemoryStorage configures in-memory storage using BuntDB
func WithInMemoryStorage() ServerOption {
	return WithStorage(config.StorageConfig{Type: config.StorageTypeMemory})
}

// WithBuntDBStorage configures persistent BuntDB storage
func WithBuntDBStorage(path string) ServerOption {
	return WithStorage(config.StorageConfig{
		Type:   config.StorageTypeBuntDB,
		BuntDB: &config.BuntDBConfig{Path: path},
	})
}

// WithBoltDBStorage configures persistent bbolt storage
func WithBoltDBStorage(path string) ServerOption {
	return WithStorage(config.StorageConfig{
		Type:   config.StorageTypeBoltDB,
		BoltDB: &config.BoltDBConfig{Path: path},
	})
}

// WithNoStorage explicitly disables persistence
func WithNoStorage() ServerOption {
	return WithStorage(config.StorageConfig{Type: config.StorageTypeNone})
}

// WithStorageProvider uses a custom storage provider directly
func WithStorageProvider(provider storage.StorageProvider) ServerOption {
	return func(s *Server) {
		s.provider = provider
	}
}

// NewServer builds the broker, recovers persisted state and applies the
// configured vhosts. It does not listen yet.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		logger:      logger.NewLogrus(logger.Options{}),
		brokerCfg:   config.DefaultBrokerConfig(),
		connections: make(map[*connection]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.brokerCfg = s.brokerCfg.WithDefaults()

	sinks := append([]goevents.Sink{events.MetricsSink{}}, s.sinks...)
	s.bus = events.NewBus(s.logger, sinks...)

	st := store.New(s.provider, s.logger)
	s.broker = broker.New(s.brokerCfg, st, s.bus, s.logger)
	if st.Enabled() {
		if err := s.broker.Recover(); err != nil {
			s.logger.Err("Failed to recover persisted state: %v, persistence disabled", err)
			st.Close()
			s.broker = broker.New(s.brokerCfg, nil, s.bus, s.logger)
		} else {
			s.logger.Info("Persistence enabled")
		}
	} else {
		s.logger.Info("Running without persistence")
	}

	for _, vc := range s.vhosts {
		if err := s.broker.ConfigureVHost(vc); err != nil {
			s.logger.Warn("Failed to configure vhost '%s': %v", vc.Name, err)
		}
	}

	s.strategies = newAuthStrategies(s.auth)
	s.pool = semaphore.NewWeighted(s.brokerCfg.WorkerConcurrency)
	return s
}

func (s *Server) Logger() logger.Logger { return s.logger }

// Broker exposes the entity model, mainly for tests and admin tooling.
func (s *Server) Broker() *broker.Broker { return s.broker }

// IsReady reports whether the server is accepting connections.
func (s *Server) IsReady() bool { return s.ready.Load() }

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting AMQP server on %s", addr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Err("Error starting server: %v", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.broker.RunDtxReaper(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return s.acceptLoop(ln)
	})

	s.ready.Store(true)
	s.logger.Info("Server listening on %s", ln.Addr())
	err = g.Wait()
	s.ready.Store(false)
	return err
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("Listener on %s closed, stopping accept loop", ln.Addr())
				return nil
			}
			s.logger.Err("Error accepting connection: %v", err)
			continue
		}
		s.logger.Info("New connection from %s", nc.RemoteAddr())

		c := newConnection(s, nc)
		s.addConnection(c)
		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			defer s.removeConnection(c)
			c.serve()
		}()
	}
}

// Shutdown stops accepting, asks every client to close with 320 and waits
// for them until ctx is done. Stragglers are cut off.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down AMQP server...")

	s.mu.Lock()
	ln, cancel := s.listener, s.cancel
	s.mu.Unlock()
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("Error closing network listener: %v", err)
		}
	}

	s.connectionsMu.RLock()
	s.logger.Info("Closing %d active connections...", len(s.connections))
	for c := range s.connections {
		c.shutdown()
	}
	s.connectionsMu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Shutdown context done, forcing remaining connections closed: %v", ctx.Err())
		s.connectionsMu.RLock()
		for c := range s.connections {
			c.conn.Close()
		}
		s.connectionsMu.RUnlock()
		<-done
	}

	if cancel != nil {
		cancel()
	}
	var errs []error
	if err := s.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing event bus: %w", err))
	}
	if err := s.broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing broker: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Err("Shutdown: %v", err)
		return err
	}
	s.logger.Info("Server shutdown complete.")
	return nil
}

func (s *Server) addConnection(c *connection) {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()
	s.connections[c] = struct{}{}
	s.logger.Debug("Connection %s added. Total: %d", c.conn.RemoteAddr(), len(s.connections))
}

func (s *Server) removeConnection(c *connection) {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()
	delete(s.connections, c)
	s.logger.Debug("Connection %s removed. Total remaining: %d", c.conn.RemoteAddr(), len(s.connections))
}

// connectionForced is sent to every client on shutdown.
var connectionForced = amqpError.Hard(amqpError.ConnectionForced, "broker shutdown")
