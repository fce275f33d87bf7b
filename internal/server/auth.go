package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aleybovich/carrot-broker/config"
	"github.com/aleybovich/carrot-broker/internal/wire"
)

var errBadCredentials = errors.New("invalid credentials")

// saslSession is one authentication exchange. Step consumes a client
// response; when done is false the returned challenge goes out in
// connection.secure and the next response arrives in secure-ok.
type saslSession interface {
	Step(response []byte) (challenge []byte, done bool, err error)
	User() string
}

// authStrategy is a SASL mechanism offered in connection.start.
type authStrategy interface {
	Mechanism() string
	NewSession() saslSession
}

func newAuthStrategies(cfg config.AuthConfig) map[string]authStrategy {
	out := make(map[string]authStrategy)
	for _, m := range cfg.EnabledMechanisms() {
		switch m {
		case config.MechanismPlain:
			out[m] = plainAuth{cfg: cfg}
		case config.MechanismAMQPlain:
			out[m] = amqPlainAuth{cfg: cfg}
		case config.MechanismCramMD5:
			out[m] = cramMD5Auth{cfg: cfg}
		}
	}
	return out
}

// mechanismList renders the space separated list for connection.start.
func mechanismList(cfg config.AuthConfig) []byte {
	return []byte(strings.Join(cfg.EnabledMechanisms(), " "))
}

// PLAIN: [authzid] NUL authcid NUL passwd

type plainAuth struct{ cfg config.AuthConfig }

func (plainAuth) Mechanism() string { return config.MechanismPlain }

func (a plainAuth) NewSession() saslSession { return &plainSession{cfg: a.cfg} }

type plainSession struct {
	cfg  config.AuthConfig
	user string
}

func (s *plainSession) Step(response []byte) ([]byte, bool, error) {
	parts := bytes.Split(response, []byte{0})
	if len(parts) != 3 {
		if s.cfg.Mode == config.AuthModeNone {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("malformed PLAIN response")
	}
	user, pass := string(parts[1]), string(parts[2])
	if s.cfg.Mode == config.AuthModePlain && !s.cfg.CheckPassword(user, pass) {
		return nil, false, fmt.Errorf("user '%s': %w", user, errBadCredentials)
	}
	s.user = user
	return nil, true, nil
}

func (s *plainSession) User() string { return s.user }

// AMQPLAIN: a field table with LOGIN and PASSWORD, sent without its length prefix.

type amqPlainAuth struct{ cfg config.AuthConfig }

func (amqPlainAuth) Mechanism() string { return config.MechanismAMQPlain }

func (a amqPlainAuth) NewSession() saslSession { return &amqPlainSession{cfg: a.cfg} }

type amqPlainSession struct {
	cfg  config.AuthConfig
	user string
}

func (s *amqPlainSession) Step(response []byte) ([]byte, bool, error) {
	raw := binary.BigEndian.AppendUint32(nil, uint32(len(response)))
	t, err := wire.DecodeTable(append(raw, response...))
	if err != nil {
		return nil, false, fmt.Errorf("malformed AMQPLAIN response: %w", err)
	}
	user, _ := tableString(t, "LOGIN")
	pass, _ := tableString(t, "PASSWORD")
	if s.cfg.Mode == config.AuthModePlain && !s.cfg.CheckPassword(user, pass) {
		return nil, false, fmt.Errorf("user '%s': %w", user, errBadCredentials)
	}
	s.user = user
	return nil, true, nil
}

func (s *amqPlainSession) User() string { return s.user }

func tableString(t wire.Table, key string) (string, bool) {
	switch v := t[key].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

// CRAM-MD5 (RFC 2195): the server sends a nonce, the client answers with
// "user hex(hmac-md5(password, nonce))".

type cramMD5Auth struct{ cfg config.AuthConfig }

func (cramMD5Auth) Mechanism() string { return config.MechanismCramMD5 }

func (a cramMD5Auth) NewSession() saslSession { return &cramMD5Session{cfg: a.cfg} }

type cramMD5Session struct {
	cfg       config.AuthConfig
	challenge []byte
	user      string
}

func (s *cramMD5Session) Step(response []byte) ([]byte, bool, error) {
	if s.challenge == nil {
		s.challenge = []byte(fmt.Sprintf("<%s@carrot-broker>", uuid.NewString()))
		return s.challenge, false, nil
	}

	user, digest, ok := strings.Cut(string(response), " ")
	if !ok {
		return nil, false, fmt.Errorf("malformed CRAM-MD5 response")
	}
	if s.cfg.Mode == config.AuthModePlain {
		pass, ok := s.cfg.ClearPassword(user)
		if !ok {
			return nil, false, fmt.Errorf("user '%s': %w", user, errBadCredentials)
		}
		if !hmac.Equal([]byte(digest), []byte(CramMD5Digest(pass, s.challenge))) {
			return nil, false, fmt.Errorf("user '%s': %w", user, errBadCredentials)
		}
	}
	s.user = user
	return nil, true, nil
}

func (s *cramMD5Session) User() string { return s.user }

// CramMD5Digest is the hex HMAC-MD5 of challenge keyed with password.
func CramMD5Digest(password string, challenge []byte) string {
	mac := hmac.New(md5.New, []byte(password))
	mac.Write(challenge)
	return hex.EncodeToString(mac.Sum(nil))
}

// startOk is connection.start-ok with the strategy for its mechanism bound
// in at decode time. strategy is nil for a mechanism that is not offered.
type startOk struct {
	wire.ConnectionStartOk
	strategy authStrategy
}

func startOkDecoder(strategies map[string]authStrategy) wire.Decoder {
	return func(r *wire.ArgReader) (wire.Method, error) {
		m := &startOk{}
		m.Read(r)
		if err := r.Err(); err != nil {
			return nil, err
		}
		m.strategy = strategies[strings.ToUpper(m.Mechanism)]
		return m, nil
	}
}
