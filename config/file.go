package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk broker configuration read by the command line tool.
type File struct {
	Listen      string        `yaml:"listen"`
	MetricsAddr string        `yaml:"metrics_listen"`
	Logging     LoggingConfig `yaml:"logging"`
	Auth        *AuthConfig   `yaml:"auth,omitempty"`
	Storage     StorageConfig `yaml:"storage"`
	Broker      BrokerConfig  `yaml:"broker"`
	VHosts      []VHostConfig `yaml:"vhosts"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*File, error) {
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if f.Listen == "" {
		f.Listen = ":5672"
	}
	if f.Storage.Type == "" {
		f.Storage.Type = StorageTypeNone
	}
	f.Broker = f.Broker.WithDefaults()
	if f.Auth != nil && len(f.Auth.Users) > 0 {
		f.Auth.Mode = AuthModePlain
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks every section.
func (f *File) Validate() error {
	if err := f.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := f.Broker.Validate(); err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	if f.Auth != nil {
		if err := f.Auth.Validate(); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	seen := make(map[string]bool)
	for _, vh := range f.VHosts {
		if vh.Name == "" {
			return fmt.Errorf("vhosts: empty vhost name")
		}
		if seen[vh.Name] {
			return fmt.Errorf("vhosts: duplicate vhost %q", vh.Name)
		}
		seen[vh.Name] = true
	}
	return nil
}
