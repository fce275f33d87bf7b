package config

import (
	"fmt"
	"time"
)

// OverflowPolicy decides what happens when a bounded queue is full.
type OverflowPolicy string

const (
	// OverflowDropHead evicts the oldest message (dead-lettering it when possible)
	OverflowDropHead OverflowPolicy = "drop-head"
	// OverflowRejectPublish refuses the new message
	OverflowRejectPublish OverflowPolicy = "reject-publish"
)

// BrokerConfig holds protocol limits and delivery policies.
type BrokerConfig struct {
	ChannelMax uint16 `yaml:"channel_max"`
	FrameMax   uint32 `yaml:"frame_max"`
	Heartbeat  uint16 `yaml:"heartbeat"` // seconds

	// MaxRedeliveries is the dead-letter threshold. A message requeued more
	// times than this is dead-lettered instead. 0 requeues forever.
	MaxRedeliveries int `yaml:"max_redeliveries"`

	// DeadLetterExchange is used for queues without x-dead-letter-exchange.
	// Dead-lettered messages are dropped when both are empty.
	DeadLetterExchange string `yaml:"dead_letter_exchange"`

	// QueueCapacity bounds queues that do not set x-max-length. 0 is unbounded.
	QueueCapacity  int            `yaml:"queue_capacity"`
	OverflowPolicy OverflowPolicy `yaml:"overflow_policy"`

	DtxTimeout      time.Duration `yaml:"dtx_timeout"`
	DtxReapInterval time.Duration `yaml:"dtx_reap_interval"`

	// WorkerConcurrency bounds how many connection work items run at once.
	WorkerConcurrency int64 `yaml:"worker_concurrency"`

	ChannelCloseOkTimeout time.Duration `yaml:"channel_close_ok_timeout"`
	FailedAuthThrottle    time.Duration `yaml:"failed_auth_throttle"`
}

// DefaultBrokerConfig returns the limits used when nothing is configured.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		ChannelMax:            2047,
		FrameMax:              131072,
		Heartbeat:             60,
		OverflowPolicy:        OverflowDropHead,
		DtxReapInterval:       time.Second,
		WorkerConcurrency:     256,
		ChannelCloseOkTimeout: 100 * time.Millisecond,
		FailedAuthThrottle:    time.Second,
	}
}

// WithDefaults fills zero fields from DefaultBrokerConfig.
func (bc BrokerConfig) WithDefaults() BrokerConfig {
	d := DefaultBrokerConfig()
	if bc.ChannelMax == 0 {
		bc.ChannelMax = d.ChannelMax
	}
	if bc.FrameMax == 0 {
		bc.FrameMax = d.FrameMax
	}
	if bc.Heartbeat == 0 {
		bc.Heartbeat = d.Heartbeat
	}
	if bc.OverflowPolicy == "" {
		bc.OverflowPolicy = d.OverflowPolicy
	}
	if bc.DtxReapInterval == 0 {
		bc.DtxReapInterval = d.DtxReapInterval
	}
	if bc.WorkerConcurrency == 0 {
		bc.WorkerConcurrency = d.WorkerConcurrency
	}
	if bc.ChannelCloseOkTimeout == 0 {
		bc.ChannelCloseOkTimeout = d.ChannelCloseOkTimeout
	}
	if bc.FailedAuthThrottle == 0 {
		bc.FailedAuthThrottle = d.FailedAuthThrottle
	}
	return bc
}

// Validate checks limits for consistency
func (bc BrokerConfig) Validate() error {
	if bc.FrameMax != 0 && bc.FrameMax < 4096 {
		return fmt.Errorf("frame_max %d is below the protocol minimum 4096", bc.FrameMax)
	}
	if bc.MaxRedeliveries < 0 {
		return fmt.Errorf("max_redeliveries must not be negative")
	}
	if bc.QueueCapacity < 0 {
		return fmt.Errorf("queue_capacity must not be negative")
	}
	switch bc.OverflowPolicy {
	case "", OverflowDropHead, OverflowRejectPublish:
	default:
		return fmt.Errorf("unknown overflow policy: %s", bc.OverflowPolicy)
	}
	if bc.DtxTimeout < 0 {
		return fmt.Errorf("dtx_timeout must not be negative")
	}
	return nil
}
