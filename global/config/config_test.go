package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"LobbyHub/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv("LOBBYHUB_JWT_SECRET", "")
	_, err := Load()
	assert.ErrorIs(t, err, errs.ErrArgs)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lobbyhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_id: 12
auth:
  jwt_secret: from-file
room:
  typing_window: 5s
  grace_window: 1m
server:
  send_queue: -4
  allowed_origins: ["HTTPS://Game.Example/", "https://game.example"]
`), 0o600))

	t.Setenv(EnvConfigFile, path)
	t.Setenv("LOBBYHUB_JWT_SECRET", "")
	t.Setenv("LOBBYHUB_ADDR", ":9999")

	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualValues(t, 12, cfg.NodeID)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 5*time.Second, cfg.Room.TypingWindow)
	assert.Equal(t, time.Minute, cfg.Room.GraceWindow)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 256, cfg.Server.SendQueue, "non-positive queue falls back to default")
	assert.Equal(t, []string{"https://game.example"}, cfg.Server.AllowedOrigins)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "s"
	cfg.Store.Driver = "cassandra"
	assert.ErrorIs(t, cfg.Validate(), errs.ErrArgs)
}

func TestValidateDefaults(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "s"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3*time.Second, cfg.Room.TypingWindow)
	assert.Zero(t, cfg.Relation.RejectCooldown)
	assert.Greater(t, cfg.Server.PongWait, cfg.Server.PingEvery)
}

func TestLoadFileMissing(t *testing.T) {
	cfg := Default()
	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), &cfg))
}
