// Package carrotbroker embeds an AMQP 0-9-1 broker in a Go program.
//
// A broker is configured with functional options and runs until Shutdown:
//
//	b := carrotbroker.NewServer(
//	    carrotbroker.WithAuth(map[string]string{"guest": "guest"}),
//	    carrotbroker.WithBoltDBStorage("/var/lib/carrot/broker.db"),
//	)
//	go func() {
//	    if err := b.Start(":5672"); err != nil {
//	        log.Printf("broker stopped: %v", err)
//	    }
//	}()
package carrotbroker

import (
	"context"

	goevents "github.com/docker/go-events"

	"github.com/aleybovich/carrot-broker/config"
	"github.com/aleybovich/carrot-broker/internal/server"
	"github.com/aleybovich/carrot-broker/logger"
	"github.com/aleybovich/carrot-broker/storage"
)

// Server is one embedded broker.
type Server struct {
	srv *server.Server
}

// ServerOption configures a Server during NewServer.
type ServerOption func(*serverOptions)

type serverOptions struct {
	internalOpts []server.ServerOption
}

func (o *serverOptions) add(opt server.ServerOption) {
	o.internalOpts = append(o.internalOpts, opt)
}

// NewServer builds a broker. Persisted state is recovered here, before Start.
func NewServer(opts ...ServerOption) *Server {
	options := &serverOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &Server{srv: server.NewServer(options.internalOpts...)}
}

// Start listens on addr ("host:port") and blocks until Shutdown.
func (s *Server) Start(addr string) error {
	return s.srv.Start(addr)
}

// Shutdown stops accepting connections and asks every client to close. Once
// ctx is done the remaining connections are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) Logger() logger.Logger {
	return s.srv.Logger()
}

// IsReady reports whether the broker is accepting connections.
func (s *Server) IsReady() bool {
	return s.srv.IsReady()
}

// Addr returns the bound listen address, useful after Start(":0").
func (s *Server) Addr() string {
	return s.srv.Addr()
}

// WithLogger sets a custom logger. The default logs through logrus to stderr.
func WithLogger(l logger.Logger) ServerOption {
	return func(o *serverOptions) { o.add(server.WithLogger(l)) }
}

// WithLogging configures logging from a config section.
func WithLogging(cfg config.LoggingConfig) ServerOption {
	return func(o *serverOptions) { o.add(server.WithLogging(cfg)) }
}

// WithAuth requires clients to authenticate as one of the given users.
// Passwords may be bcrypt hashes.
func WithAuth(credentials map[string]string) ServerOption {
	return func(o *serverOptions) { o.add(server.WithAuth(credentials)) }
}

// WithAuthConfig sets users and the offered SASL mechanisms.
func WithAuthConfig(cfg config.AuthConfig) ServerOption {
	return func(o *serverOptions) { o.add(server.WithAuthConfig(cfg)) }
}

// WithVHosts declares virtual hosts with their exchanges, queues and
// bindings at startup.
func WithVHosts(vhosts []config.VHostConfig) ServerOption {
	return func(o *serverOptions) { o.add(server.WithVHosts(vhosts)) }
}

// WithBrokerConfig sets protocol limits and delivery policies.
func WithBrokerConfig(cfg config.BrokerConfig) ServerOption {
	return func(o *serverOptions) { o.add(server.WithBrokerConfig(cfg)) }
}

// WithHeartbeatInterval sets the heartbeat in seconds proposed to clients.
func WithHeartbeatInterval(interval uint16) ServerOption {
	return func(o *serverOptions) { o.add(server.WithHeartbeatInterval(interval)) }
}

// WithEventSink receives connection, entity and message events.
func WithEventSink(sink goevents.Sink) ServerOption {
	return func(o *serverOptions) { o.add(server.WithEventSink(sink)) }
}

// WithStorage selects the persistence backend.
func WithStorage(cfg config.StorageConfig) ServerOption {
	return func(o *serverOptions) { o.add(server.WithStorage(cfg)) }
}

// WithInMemoryStorage keeps durable state in memory only.
func WithInMemoryStorage() ServerOption {
	return func(o *serverOptions) { o.add(server.WithInMemoryStorage()) }
}

// WithBuntDBStorage persists to a BuntDB file.
func WithBuntDBStorage(path string) ServerOption {
	return func(o *serverOptions) { o.add(server.WithBuntDBStorage(path)) }
}

// WithBoltDBStorage persists to a bbolt file.
func WithBoltDBStorage(path string) ServerOption {
	return func(o *serverOptions) { o.add(server.WithBoltDBStorage(path)) }
}

// WithNoStorage disables persistence, which is also the default.
func WithNoStorage() ServerOption {
	return func(o *serverOptions) { o.add(server.WithNoStorage()) }
}

// WithStorageProvider plugs in a custom storage.StorageProvider.
func WithStorageProvider(provider storage.StorageProvider) ServerOption {
	return func(o *serverOptions) { o.add(server.WithStorageProvider(provider)) }
}
