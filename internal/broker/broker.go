package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aleybovich/carrot-broker/config"
	"github.com/aleybovich/carrot-broker/internal/events"
	"github.com/aleybovich/carrot-broker/internal/store"
	"github.com/aleybovich/carrot-broker/logger"
)

// DefaultVHost always exists.
const DefaultVHost = "/"

// Broker owns the virtual hosts and the state they share.
type Broker struct {
	Config config.BrokerConfig
	Store  *store.Store
	Events events.Publisher

	logger logger.Logger
	msgSeq atomic.Uint64

	mu     sync.RWMutex
	vhosts map[string]*VHost
}

// New builds a broker with the default vhost. st may be nil to run without
// persistence.
func New(cfg config.BrokerConfig, st *store.Store, pub events.Publisher, l logger.Logger) *Broker {
	if l == nil {
		l = &logger.NilLogger{}
	}
	if pub == nil {
		pub = events.Nop{}
	}
	b := &Broker{
		Config: cfg.WithDefaults(),
		Store:  st,
		Events: pub,
		logger: l,
		vhosts: make(map[string]*VHost),
	}
	b.vhosts[DefaultVHost] = newVHost(b, DefaultVHost)
	return b
}

func (b *Broker) Logger() logger.Logger { return b.logger }

// NextMessageID hands out broker-wide increasing message ids.
func (b *Broker) NextMessageID() uint64 {
	return b.msgSeq.Add(1)
}

func (b *Broker) observeMessageID(id uint64) {
	for {
		cur := b.msgSeq.Load()
		if id <= cur || b.msgSeq.CompareAndSwap(cur, id) {
			return
		}
	}
}

// AddVHost creates a vhost, or returns it when it exists.
func (b *Broker) AddVHost(name string) (*VHost, error) {
	if name == "" {
		return nil, fmt.Errorf("vhost name cannot be empty")
	}
	b.mu.Lock()
	v, ok := b.vhosts[name]
	if !ok {
		v = newVHost(b, name)
		b.vhosts[name] = v
	}
	b.mu.Unlock()

	if !ok {
		if err := b.Store.SaveVHost(&store.VHostRecord{Name: name}); err != nil {
			return nil, fmt.Errorf("persisting vhost '%s': %w", name, err)
		}
		b.logger.Info("Created vhost '%s'", name)
	}
	return v, nil
}

// ConfigureVHost creates a vhost and declares its configured entities.
func (b *Broker) ConfigureVHost(cfg config.VHostConfig) error {
	v, err := b.AddVHost(cfg.Name)
	if err != nil {
		return err
	}
	if err := v.apply(cfg); err != nil {
		return fmt.Errorf("configuring vhost '%s': %w", cfg.Name, err)
	}
	return nil
}

func (b *Broker) VHost(name string) (*VHost, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.vhosts[name]
	return v, ok
}

func (b *Broker) VHosts() []*VHost {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*VHost, 0, len(b.vhosts))
	for _, v := range b.vhosts {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Recover opens the store and loads the durable state of every stored vhost.
func (b *Broker) Recover() error {
	if !b.Store.Enabled() {
		return nil
	}
	b.logger.Info("Starting state recovery from persistence")
	if err := b.Store.Initialize(); err != nil {
		return err
	}
	b.observeMessageID(b.Store.LastMessageID())

	recs, err := b.Store.LoadVHosts()
	if err != nil {
		return fmt.Errorf("loading vhosts: %w", err)
	}
	b.mu.Lock()
	for _, rec := range recs {
		if _, ok := b.vhosts[rec.Name]; !ok {
			b.vhosts[rec.Name] = newVHost(b, rec.Name)
		}
	}
	b.mu.Unlock()

	for _, v := range b.VHosts() {
		if err := v.recover(); err != nil {
			return fmt.Errorf("recovering vhost '%s': %w", v.Name, err)
		}
	}
	b.logger.Info("State recovery completed")
	return nil
}

// RunDtxReaper rolls back timed out branches until ctx is done.
func (b *Broker) RunDtxReaper(ctx context.Context) error {
	ticker := time.NewTicker(b.Config.DtxReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, v := range b.VHosts() {
				v.Dtx.Reap()
			}
		}
	}
}

// Close stops queue dispatchers and closes the store.
func (b *Broker) Close() error {
	for _, v := range b.VHosts() {
		v.close()
	}
	return b.Store.Close()
}
