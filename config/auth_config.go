package config

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AuthMode defines the authentication mode for the server
type AuthMode int

const (
	// AuthModeNone disables authentication
	AuthModeNone AuthMode = iota
	// AuthModePlain enables SASL authentication against the configured users
	AuthModePlain
)

// Supported SASL mechanism names, in the order advertised by connection.start.
const (
	MechanismPlain    = "PLAIN"
	MechanismAMQPlain = "AMQPLAIN"
	MechanismCramMD5  = "CRAM-MD5"
)

// AuthConfig configures connection authentication.
type AuthConfig struct {
	Mode AuthMode `yaml:"-"`

	// Users maps usernames to passwords. A value starting with "$2" is treated
	// as a bcrypt hash. CRAM-MD5 needs the clear password and skips hashed users.
	Users map[string]string `yaml:"users"`

	// Mechanisms restricts the advertised mechanisms. All are offered when empty.
	Mechanisms []string `yaml:"mechanisms"`
}

// DefaultMechanisms lists every mechanism the broker implements.
func DefaultMechanisms() []string {
	return []string{MechanismPlain, MechanismAMQPlain, MechanismCramMD5}
}

// Validate ensures the auth configuration is usable
func (ac AuthConfig) Validate() error {
	if ac.Mode == AuthModePlain && len(ac.Users) == 0 {
		return fmt.Errorf("authentication enabled without users")
	}
	for _, m := range ac.Mechanisms {
		switch strings.ToUpper(m) {
		case MechanismPlain, MechanismAMQPlain, MechanismCramMD5:
		default:
			return fmt.Errorf("unsupported auth mechanism: %s", m)
		}
	}
	return nil
}

// EnabledMechanisms returns the configured mechanisms, upper-cased.
func (ac AuthConfig) EnabledMechanisms() []string {
	if len(ac.Mechanisms) == 0 {
		return DefaultMechanisms()
	}
	out := make([]string, 0, len(ac.Mechanisms))
	for _, m := range ac.Mechanisms {
		out = append(out, strings.ToUpper(m))
	}
	return out
}

// CheckPassword verifies a clear-text password for user.
func (ac AuthConfig) CheckPassword(user, password string) bool {
	stored, ok := ac.Users[user]
	if !ok {
		return false
	}
	if IsHashedPassword(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return stored == password
}

// ClearPassword returns the stored password when it is not hashed.
func (ac AuthConfig) ClearPassword(user string) (string, bool) {
	stored, ok := ac.Users[user]
	if !ok || IsHashedPassword(stored) {
		return "", false
	}
	return stored, true
}

// IsHashedPassword reports whether s looks like a bcrypt hash.
func IsHashedPassword(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// HashPassword produces a bcrypt hash suitable for AuthConfig.Users.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}
