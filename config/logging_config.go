package config

import "github.com/aleybovich/carrot-broker/logger"

// LoggingConfig defines configuration for logging behavior
type LoggingConfig struct {
	// Level is a logrus level name ("debug", "info", "warn", ...)
	Level string `yaml:"level"`

	// HeartbeatLogging controls whether heartbeat frames are logged
	// Default is false to reduce log noise
	HeartbeatLogging bool `yaml:"heartbeat_logging"`

	// DisableLogging completely disables all logging when true
	DisableLogging bool `yaml:"disable"`

	// CustomLogger allows providing a custom logger implementation
	// Cannot be used together with DisableLogging
	CustomLogger logger.Logger `yaml:"-"`
}

// Build returns the logger described by the config.
func (lc LoggingConfig) Build() logger.Logger {
	switch {
	case lc.DisableLogging:
		return &logger.NilLogger{}
	case lc.CustomLogger != nil:
		return lc.CustomLogger
	default:
		return logger.NewLogrus(logger.Options{Level: lc.Level})
	}
}
