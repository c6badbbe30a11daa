package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livebridge.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Bind)
	assert.Equal(t, DefaultTCPPort, cfg.TCPPort)
	assert.Equal(t, DefaultTCPPort+1, cfg.UDPPort)
	assert.Equal(t, DefaultReplyTimeout, cfg.ReplyTimeout.Std())
	assert.Equal(t, DefaultShutdownGrace, cfg.ShutdownGrace.Std())
	assert.Equal(t, DefaultQueueCapacity, cfg.QueueCapacity)
	assert.False(t, cfg.WS.Enabled)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `{
		"bind": "0.0.0.0",
		"tcp_port": 7000,
		"reply_timeout": "3s",
		"ws": {"enabled": true, "port": 7002}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Bind)
	assert.Equal(t, 7000, cfg.TCPPort)
	assert.Equal(t, 7001, cfg.UDPPort, "udp port follows tcp port")
	assert.Equal(t, 3*time.Second, cfg.ReplyTimeout.Std())
	assert.True(t, cfg.WS.Enabled)
	assert.Equal(t, 7002, cfg.WS.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, `{"tcp_port": `)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"tcp_port": 7000}`)
	t.Setenv("LIVEBRIDGE_TCP_PORT", "8000")
	t.Setenv("LIVEBRIDGE_REPLY_TIMEOUT", "2s")
	t.Setenv("LIVEBRIDGE_NATS_ENABLED", "true")
	t.Setenv("LIVEBRIDGE_NATS_URL", "nats://127.0.0.1:4222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.TCPPort)
	assert.Equal(t, 2*time.Second, cfg.ReplyTimeout.Std())
	assert.True(t, cfg.NATS.Enabled)
}

func TestEnvBadInteger(t *testing.T) {
	t.Setenv("LIVEBRIDGE_TCP_PORT", "not-a-port")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidateRejectsPortCollision(t *testing.T) {
	path := writeConfig(t, `{"tcp_port": 7000, "udp_port": 7000}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsNATSWithoutURL(t *testing.T) {
	path := writeConfig(t, `{"nats": {"enabled": true}}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadLogFormat(t *testing.T) {
	path := writeConfig(t, `{"log_format": "xml"}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDurationNumberForm(t *testing.T) {
	path := writeConfig(t, `{"reply_timeout": 1000000000}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.ReplyTimeout.Std())
}
