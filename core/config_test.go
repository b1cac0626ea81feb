package core_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/paperrnint/advent-calendar-be/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	config := &core.Config{FrontendURL: "https://calendar.test/"}
	config.ApplyDefaults()

	assert.Equal(t, core.DefaultIssuer, config.JWT.Issuer)
	assert.Equal(t, time.Hour, config.AccessTTL())
	assert.Equal(t, 30*24*time.Hour, config.RefreshTTL())
	assert.Equal(t, 5*time.Minute, config.TempTTL())
	assert.Equal(t, 10*time.Minute, config.LoginStateWindow())
	assert.Equal(t, time.Hour, config.PurgeEvery())
	assert.Equal(t, "https://calendar.test", config.FrontendURL)
	assert.True(t, config.SecureCookies())
	require.NoError(t, config.Validate())

	insecure := false
	config.Cookie.Secure = &insecure
	assert.False(t, config.SecureCookies())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*core.Config)
	}{
		{"refresh shorter than access", func(c *core.Config) { c.JWT.RefreshTokenDuration = c.JWT.AccessTokenDuration }},
		{"negative access", func(c *core.Config) { c.JWT.AccessTokenDuration = -1 }},
		{"negative purge interval", func(c *core.Config) { c.PurgeInterval = -5 }},
		{"short encryption key", func(c *core.Config) { c.Crypto.EncryptionKey = "too-short" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &core.Config{}
			config.ApplyDefaults()
			tt.modify(config)

			assert.ErrorIs(t, config.Validate(), core.ErrInvalidConfig)
		})
	}
}

func TestNewSigningKey(t *testing.T) {
	for _, secret := range []string{"", "changeme", "secret", "local-dev-jwt-secret-not-for-production", strings.Repeat("x", core.MinSigningKeyLength-1)} {
		_, err := core.NewSigningKey(secret)
		assert.ErrorIs(t, err, core.ErrWeakSigningKey, secret)
	}

	key, err := core.NewSigningKey(testSecret)
	require.NoError(t, err)

	assert.NotContains(t, key.String(), testSecret)
	assert.NotContains(t, fmt.Sprintf("%v %+v %#v", key, key, key), testSecret)
}

func TestCryptoService(t *testing.T) {
	_, err := core.NewCryptoService("short")
	assert.ErrorIs(t, err, core.ErrInvalidEncryptionKey)

	cs, err := core.NewCryptoService(testEncryptionKey)
	require.NoError(t, err)

	first, err := cs.Encrypt("user@example.com")
	require.NoError(t, err)
	second, err := cs.Encrypt("user@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	plain, err := cs.Decrypt(first)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", plain)

	empty, err := cs.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = cs.Decrypt("not base64!")
	assert.ErrorIs(t, err, core.ErrInvalidCiphertext)

	other, err := core.NewCryptoService("fedcba9876543210fedcba9876543210")
	require.NoError(t, err)
	_, err = other.Decrypt(first)
	assert.Error(t, err)

	var disabled *core.CryptoService
	out, err := disabled.Encrypt("plain@example.com")
	require.NoError(t, err)
	assert.Equal(t, "plain@example.com", out)
}

func TestDigestToken(t *testing.T) {
	digest := core.DigestToken("token")
	assert.Len(t, digest, 64)
	assert.Equal(t, digest, core.DigestToken("token"))
	assert.NotEqual(t, digest, core.DigestToken("token2"))
}
