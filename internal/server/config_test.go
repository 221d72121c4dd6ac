package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.True(t, cfg.HubOptions().BroadcastUserList)
	assert.False(t, cfg.HubOptions().CloseSuperseded)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
port: ":9090"
allowed_origins: ["https://chat.example.com"]
rate_limit:
  burst: 20
  refill_interval: 500ms
send_buffer_size: 64
nats_subject_prefix: "relay.events."
presence:
  close_superseded: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 64, cfg.SendBufferSize)
	assert.Equal(t, "relay.events", cfg.NATSSubjectPrefix)
	assert.True(t, cfg.Presence.CloseSuperseded)
	assert.True(t, cfg.Presence.BroadcastUserList, "unset keys keep their defaults")
	assert.Equal(t, int64(512), cfg.MaxMessageSize)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "port: \":9090\"\n")
	t.Setenv("SERVER_PORT", ":7070")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "9")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("SEND_BUFFER_SIZE", "32")
	t.Setenv("NOTIFY_TOKEN", "s3cret")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Port)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxMessageSize)
	assert.Equal(t, 9, cfg.RateLimit.Burst)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 32, cfg.SendBufferSize)
	assert.Equal(t, "s3cret", cfg.NotifyToken)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoadConfigIgnoresBadNumbers(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-1")
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "soon")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	def := DefaultConfig()
	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
}

func TestLoadConfigProdRequiresDSN(t *testing.T) {
	t.Setenv("RUN_MODE", "PROD")
	t.Setenv("NOTIFY_TOKEN", "s3cret")
	_, err := LoadConfig("")
	require.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv("POSTGRES_DSN", "postgres://relay@localhost/relay")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, RunModeProd, cfg.RunMode)
}

func TestValidateProdNotifyToken(t *testing.T) {
	base := DefaultConfig()
	base.RunMode = RunModeProd
	base.PostgresDSN = "postgres://relay@localhost/relay"

	err := base.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "notify_token")

	withToken := base
	withToken.NotifyToken = "s3cret"
	assert.NoError(t, withToken.Validate())

	optOut := base
	optOut.NotifyInsecure = true
	assert.NoError(t, optOut.Validate())

	local := DefaultConfig()
	assert.NoError(t, local.Validate(), "local mode keeps the notify endpoints open")
}

func TestLoadConfigNotifyInsecureFromFile(t *testing.T) {
	path := writeConfigFile(t, `
run_mode: prod
postgres_dsn: "postgres://relay@localhost/relay"
notify_insecure: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.NotifyInsecure)
	assert.Empty(t, cfg.NotifyToken)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfigFile(t, "port: [oops"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfigFile(t, "run_mode: staging\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSanitizeFillsZeroValues(t *testing.T) {
	cfg := Config{}.Sanitize()
	def := DefaultConfig()
	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, def.SendBufferSize, cfg.SendBufferSize)
	assert.Equal(t, RunModeLocal, cfg.RunMode)
	assert.Equal(t, "chat.events", cfg.NATSSubjectPrefix)
}
