package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("ENCRYPTION_KEY", "enc")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "0.0.0.0:8000", cfg.HTTPAddr())
	assert.Equal(t, 24*time.Hour, cfg.AccessTokenTTL())
	assert.Equal(t, 10*time.Second, cfg.WSAuthTimeout)
	assert.False(t, cfg.WSAllowQueryToken)
	assert.Equal(t, 10.0, cfg.WSRatePerSec)
	assert.Equal(t, 20, cfg.WSRateBurst)
	assert.Contains(t, cfg.DatabaseURL, "sslmode=disable")
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORSOrigins)
}

func TestLoad_RequiresSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ENCRYPTION_KEY", "enc")
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("ENCRYPTION_KEY", "")
	_, err = Load()
	assert.ErrorContains(t, err, "ENCRYPTION_KEY")
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_DRIVER", "mongo")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_QueryTokenNeverInProduction(t *testing.T) {
	setRequired(t)
	t.Setenv("WS_ALLOW_QUERY_TOKEN", "true")

	t.Setenv("APP_ENV", "development")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.WSAllowQueryToken)

	t.Setenv("APP_ENV", "production")
	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.WSAllowQueryToken)
}

func TestLoad_FileOverlayEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
jwt_secret: from-file
ENCRYPTION_KEY: file-key
HTTP_PORT: 9090
WS_AUTH_TIMEOUT: 3s
WS_RATE_PER_SEC: 2.5
CORS_ORIGINS:
  - https://portal.example.com
  - https://admin.example.com
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("ENCRYPTION_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Equal(t, "file-key", cfg.EncryptKey)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.WSAuthTimeout)
	assert.Equal(t, 2.5, cfg.WSRatePerSec)
	assert.Equal(t, []string{"https://portal.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
}

func TestLoad_BadFile(t *testing.T) {
	setRequired(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestDurationAcceptsSeconds(t *testing.T) {
	src := source{file: map[string]string{"WS_AUTH_TIMEOUT": "7"}}
	t.Setenv("WS_AUTH_TIMEOUT", "")
	assert.Equal(t, 7*time.Second, src.getDuration("WS_AUTH_TIMEOUT", time.Second))
}
