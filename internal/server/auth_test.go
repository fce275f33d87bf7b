package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleybovich/carrot-broker/config"
	"github.com/aleybovich/carrot-broker/internal/wire"
)

func testAuthConfig(t *testing.T) config.AuthConfig {
	t.Helper()
	hashed, err := config.HashPassword("s3cret")
	require.NoError(t, err)
	return config.AuthConfig{
		Mode:  config.AuthModePlain,
		Users: map[string]string{"guest": "guest", "hashed": hashed},
	}
}

func amqPlainResponse(t *testing.T, user, pass string) []byte {
	t.Helper()
	b, err := wire.EncodeTable(wire.Table{"LOGIN": user, "PASSWORD": pass})
	require.NoError(t, err)
	return b[4:]
}

func TestMechanismList(t *testing.T) {
	assert.Equal(t, "PLAIN AMQPLAIN CRAM-MD5", string(mechanismList(config.AuthConfig{})))
	assert.Equal(t, "PLAIN", string(mechanismList(config.AuthConfig{Mechanisms: []string{"plain"}})))

	strategies := newAuthStrategies(config.AuthConfig{Mechanisms: []string{"cram-md5"}})
	assert.Len(t, strategies, 1)
	assert.Contains(t, strategies, config.MechanismCramMD5)
}

func TestPlainAuth(t *testing.T) {
	strategies := newAuthStrategies(testAuthConfig(t))
	plain := strategies[config.MechanismPlain]
	require.NotNil(t, plain)

	s := plain.NewSession()
	_, done, err := s.Step([]byte("\x00guest\x00guest"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "guest", s.User())

	_, _, err = plain.NewSession().Step([]byte("\x00guest\x00wrong"))
	assert.ErrorIs(t, err, errBadCredentials)

	_, _, err = plain.NewSession().Step([]byte("\x00hashed\x00s3cret"))
	assert.NoError(t, err, "bcrypt hashed passwords are checked")

	_, _, err = plain.NewSession().Step([]byte("garbage"))
	assert.Error(t, err)
}

func TestPlainAuthWithoutUsersAcceptsAnyone(t *testing.T) {
	s := newAuthStrategies(config.AuthConfig{})[config.MechanismPlain].NewSession()
	_, done, err := s.Step([]byte("\x00anyone\x00anything"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "anyone", s.User())
}

func TestAMQPlainAuth(t *testing.T) {
	a := newAuthStrategies(testAuthConfig(t))[config.MechanismAMQPlain]
	require.NotNil(t, a)

	s := a.NewSession()
	_, done, err := s.Step(amqPlainResponse(t, "guest", "guest"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "guest", s.User())

	_, _, err = a.NewSession().Step(amqPlainResponse(t, "guest", "nope"))
	assert.ErrorIs(t, err, errBadCredentials)
}

func TestCramMD5Auth(t *testing.T) {
	a := newAuthStrategies(testAuthConfig(t))[config.MechanismCramMD5]
	require.NotNil(t, a)

	s := a.NewSession()
	challenge, done, err := s.Step(nil)
	require.NoError(t, err)
	require.False(t, done)
	assert.Regexp(t, `^<.+@carrot-broker>$`, string(challenge))

	_, done, err = s.Step([]byte("guest " + CramMD5Digest("guest", challenge)))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "guest", s.User())

	t.Run("wrong digest", func(t *testing.T) {
		s := a.NewSession()
		challenge, _, _ := s.Step(nil)
		_, _, err := s.Step([]byte("guest " + CramMD5Digest("other", challenge)))
		assert.ErrorIs(t, err, errBadCredentials)
	})

	t.Run("hashed user cannot use cram-md5", func(t *testing.T) {
		s := a.NewSession()
		challenge, _, _ := s.Step(nil)
		_, _, err := s.Step([]byte("hashed " + CramMD5Digest("s3cret", challenge)))
		assert.ErrorIs(t, err, errBadCredentials)
	})

	t.Run("fresh challenge per session", func(t *testing.T) {
		c1, _, _ := a.NewSession().Step(nil)
		c2, _, _ := a.NewSession().Step(nil)
		assert.NotEqual(t, c1, c2)
	})
}

func TestCramMD5DigestKnownVector(t *testing.T) {
	// RFC 2195 example
	digest := CramMD5Digest("tanstaaftanstaaf", []byte("<1896.697170952@postoffice.reston.mci.net>"))
	assert.Equal(t, "b913a602c7eda7a495b4e6e7334d3890", digest)
}

func TestStartOkDecoderBindsStrategy(t *testing.T) {
	strategies := newAuthStrategies(config.AuthConfig{Mechanisms: []string{"PLAIN"}})
	reg := wire.NewRegistry()
	reg.Bind(wire.ClassConnection, wire.MethodConnectionStartOk, startOkDecoder(strategies))

	for mech, want := range map[string]bool{"plain": true, "CRAM-MD5": false} {
		payload, err := wire.EncodeMethod(&wire.ConnectionStartOk{
			ClientProperties: wire.Table{"product": "test"},
			Mechanism:        mech,
			Response:         []byte("\x00u\x00p"),
			Locale:           "en_US",
		})
		require.NoError(t, err)

		m, err := reg.Decode(payload)
		require.NoError(t, err)
		so, ok := m.(*startOk)
		require.True(t, ok)
		assert.Equal(t, want, so.strategy != nil, mech)
	}
}
