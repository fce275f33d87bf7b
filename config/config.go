package config

// VHostConfig defines configuration for a virtual host
// Used with WithVHosts option for initial server setup
type VHostConfig struct {
	Name      string           `yaml:"name"`
	Exchanges []ExchangeConfig `yaml:"exchanges"`
	Queues    []QueueConfig    `yaml:"queues"`
}

// ExchangeConfig defines configuration for an exchange
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"` // "direct", "fanout", "topic", "headers"
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Internal   bool   `yaml:"internal"`
}

// QueueConfig defines configuration for a queue
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	Exclusive  bool   `yaml:"exclusive"`
	AutoDelete bool   `yaml:"auto_delete"`
	MaxLength  int    `yaml:"max_length"`

	// Bindings lists "exchangeName:routingKey" pairs
	Bindings []string `yaml:"bindings"`
}
