package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/drift/internal/coordinator"
)

// TestGetenv tests the getenv utility function
func TestGetenv(t *testing.T) {
	t.Setenv("DRIFT_TEST_SET", "value")
	t.Setenv("DRIFT_TEST_EMPTY", "")

	assert.Equal(t, "value", getenv("DRIFT_TEST_SET", "default"))
	assert.Equal(t, "fallback", getenv("DRIFT_TEST_EMPTY", "fallback"))
	assert.Equal(t, "default", getenv("DRIFT_TEST_UNSET", "default"))
}

// TestLoadConfig tests defaults, overrides and rejection of bad values
func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Addr)
		assert.Equal(t, 10, cfg.Nodes)
		assert.Empty(t, cfg.RedisAddr)
		assert.Empty(t, cfg.DataDir)
		assert.Equal(t, coordinator.DefaultReadWindow, cfg.ReadWindow)
		assert.Equal(t, coordinator.DefaultHotThreshold, cfg.HotThreshold)
		assert.Equal(t, coordinator.DefaultLoadWindow, cfg.LoadWindow)
		assert.Equal(t, 30*time.Second, cfg.ReadBalanceInterval)
		assert.Equal(t, 30*time.Second, cfg.ServerBalanceInterval)
		assert.False(t, cfg.LogPretty)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("DRIFT_ADDR", ":9999")
		t.Setenv("DRIFT_NODES", "16")
		t.Setenv("DRIFT_REDIS_ADDR", "localhost:6379")
		t.Setenv("DRIFT_REDIS_DB", "2")
		t.Setenv("DRIFT_READ_BALANCE_INTERVAL", "0s")
		t.Setenv("DRIFT_SERVER_BALANCE_INTERVAL", "1m")
		t.Setenv("DRIFT_HOT_THRESHOLD", "5")
		t.Setenv("DRIFT_LOG_PRETTY", "1")

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, ":9999", cfg.Addr)
		assert.Equal(t, 16, cfg.Nodes)
		assert.Equal(t, "localhost:6379", cfg.RedisAddr)
		assert.Equal(t, 2, cfg.RedisDB)
		assert.Equal(t, time.Duration(0), cfg.ReadBalanceInterval)
		assert.Equal(t, time.Minute, cfg.ServerBalanceInterval)
		assert.Equal(t, 5, cfg.HotThreshold)
		assert.True(t, cfg.LogPretty)
	})

	tests := []struct {
		key   string
		value string
	}{
		{"DRIFT_NODES", "many"},
		{"DRIFT_NODES", "0"},
		{"DRIFT_LOAD_WINDOW", "1.5"},
		{"DRIFT_READ_BALANCE_INTERVAL", "soon"},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := loadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

// TestNewLogger verifies level parsing and the JSON output shape
func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config{LogLevel: "warn"}, &buf)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Str("file", "a").Msg("shown")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "drift-coordinator", entry["service"])
	assert.Equal(t, "a", entry["file"])

	assert.Equal(t, zerolog.InfoLevel, newLogger(config{LogLevel: "loud"}, &buf).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(config{}, &buf).GetLevel())
}

// TestBuildCoordinator tests each storage combination the binary supports
func TestBuildCoordinator(t *testing.T) {
	ctx := context.Background()
	base := config{Nodes: 3, ReadWindow: 40, HotThreshold: 20, LoadWindow: 50}

	t.Run("in memory", func(t *testing.T) {
		coord, err := buildCoordinator(ctx, base, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { coord.Close() })
		assert.Equal(t, 3, coord.PoolSize())
	})

	t.Run("bolt node stores survive a restart", func(t *testing.T) {
		cfg := base
		cfg.DataDir = filepath.Join(t.TempDir(), "data")

		coord, err := buildCoordinator(ctx, cfg, zerolog.Nop())
		require.NoError(t, err)
		_, err = coord.Write(ctx, "a", "v", 1)
		require.NoError(t, err)
		origin, err := coord.Origin(ctx, "a")
		require.NoError(t, err)
		require.NoError(t, coord.Close())

		for i := 0; i < cfg.Nodes; i++ {
			assert.FileExists(t, filepath.Join(cfg.DataDir, fmt.Sprintf("node-%d.db", i)))
		}

		reopened, err := buildCoordinator(ctx, cfg, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { reopened.Close() })
		n, err := reopened.Node(origin)
		require.NoError(t, err)
		vv, err := n.Read("a")
		require.NoError(t, err)
		assert.Equal(t, []string{"v"}, vv.Values)
	})

	t.Run("redis metastore", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := base
		cfg.RedisAddr = mr.Addr()

		coord, err := buildCoordinator(ctx, cfg, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { coord.Close() })

		_, err = coord.Write(ctx, "a", "v", 1)
		require.NoError(t, err)
		members, err := mr.Members("all_files")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, members)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		cfg := base
		cfg.RedisAddr = "127.0.0.1:1"
		_, err := buildCoordinator(ctx, cfg, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("invalid window", func(t *testing.T) {
		cfg := base
		cfg.ReadWindow = 0
		_, err := buildCoordinator(ctx, cfg, zerolog.Nop())
		assert.ErrorIs(t, err, coordinator.ErrInvalidArgument)
	})
}
