package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentdispatch/config"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		enabled zapcore.Level
		muted   zapcore.Level
	}{
		{"debug json", "debug", "json", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"warn console", "warn", "console", zapcore.WarnLevel, zapcore.InfoLevel},
		{"unknown level falls back to info", "verbose", "json", zapcore.InfoLevel, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := initLogger(config.LogConfig{
				Level:       tt.level,
				Format:      tt.format,
				OutputPaths: []string{"stderr"},
			})
			require.NotNil(t, logger)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.muted))
		})
	}
}

func TestInitLogger_DefaultOutput(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "info", Format: "json"})
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, probe(srv.Client(), srv.URL+"/healthz", &out))
	assert.Equal(t, "OK\n", out.String())

	out.Reset()
	err := probe(srv.Client(), srv.URL+"/readyz", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "unhealthy")
	assert.Empty(t, out.String())
}

func TestMigrateCommand_Usage(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer

	err := migrateCommand(ctx, []string{"goto", "1"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown subcommand")

	err = migrateCommand(ctx, []string{"steps"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage")

	err = migrateCommand(ctx, []string{"force", "latest"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid number")

	err = migrateCommand(ctx, []string{"up", "--db-type", "oracle", "--db-url", "x"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid database type")
}

func TestMigrateCommand_SQLite(t *testing.T) {
	if testing.Short() {
		t.Skip("sqlite3 migrations need cgo")
	}
	ctx := context.Background()
	url := "file:" + filepath.Join(t.TempDir(), "tasks.db") + "?mode=rwc"
	flags := []string{"--db-type", "sqlite", "--db-url", url}

	var out bytes.Buffer
	require.NoError(t, migrateCommand(ctx, append([]string{"up"}, flags...), &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, migrateCommand(ctx, append([]string{"steps", "-1"}, flags...), &out))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, migrateCommand(ctx, append([]string{"status"}, flags...), &out))
	assert.Contains(t, out.String(), "add_agent_tasks_status_index")
	assert.Contains(t, out.String(), "Total: 2, Applied: 1, Pending: 1")
}
