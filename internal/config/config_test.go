package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8000/chat/ws", cfg.WSURL)
	assert.Equal(t, time.Second, cfg.ListPollInterval)
	assert.Equal(t, 10*time.Second, cfg.MatchWindow)
	assert.Equal(t, "http", cfg.UploadBackend)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHAT_USER_ID", "42")
	t.Setenv("CHAT_AUTH_TOKEN", "tok")
	t.Setenv("HISTORY_POLL_INTERVAL", "250ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.UserID)
	assert.Equal(t, "tok", cfg.AuthToken)
	assert.Equal(t, 250*time.Millisecond, cfg.HistoryPollInterval)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("API_URL=http://api.campus.test\nUPLOAD_BACKEND=s3\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://api.campus.test", cfg.APIURL)
	assert.Equal(t, "s3", cfg.UploadBackend)
}

func TestLoadRejectsUnknownUploadBackend(t *testing.T) {
	t.Setenv("UPLOAD_BACKEND", "ftp")

	_, err := Load("")
	require.Error(t, err)
}
