package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/drift/internal/coordinator"
)

// config is the coordinator's runtime configuration, read from DRIFT_*
// environment variables.
type config struct {
	Addr                  string
	RedisAddr             string // empty selects the in-memory metastore
	DataDir               string // empty keeps node stores in memory
	LogLevel              string
	Nodes                 int
	RedisDB               int
	ReadWindow            int
	HotThreshold          int
	LoadWindow            int
	ReadBalanceInterval   time.Duration
	ServerBalanceInterval time.Duration
	LogPretty             bool
}

func loadConfig() (config, error) {
	cfg := config{
		Addr:      getenv("DRIFT_ADDR", ":8080"),
		RedisAddr: getenv("DRIFT_REDIS_ADDR", ""),
		DataDir:   getenv("DRIFT_DATA_DIR", ""),
		LogLevel:  getenv("DRIFT_LOG_LEVEL", "info"),
		LogPretty: getenv("DRIFT_LOG_PRETTY", "") == "1",
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"DRIFT_NODES", 10, &cfg.Nodes},
		{"DRIFT_REDIS_DB", 0, &cfg.RedisDB},
		{"DRIFT_READ_WINDOW", coordinator.DefaultReadWindow, &cfg.ReadWindow},
		{"DRIFT_HOT_THRESHOLD", coordinator.DefaultHotThreshold, &cfg.HotThreshold},
		{"DRIFT_LOAD_WINDOW", coordinator.DefaultLoadWindow, &cfg.LoadWindow},
	}
	for _, v := range ints {
		n, err := strconv.Atoi(getenv(v.key, strconv.Itoa(v.def)))
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", v.key, err)
		}
		*v.dest = n
	}
	if cfg.Nodes <= 0 {
		return cfg, fmt.Errorf("DRIFT_NODES: must be positive, got %d", cfg.Nodes)
	}

	durations := []struct {
		key  string
		dest *time.Duration
	}{
		{"DRIFT_READ_BALANCE_INTERVAL", &cfg.ReadBalanceInterval},
		{"DRIFT_SERVER_BALANCE_INTERVAL", &cfg.ServerBalanceInterval},
	}
	for _, v := range durations {
		d, err := time.ParseDuration(getenv(v.key, "30s"))
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", v.key, err)
		}
		*v.dest = d
	}
	return cfg, nil
}

// newLogger builds the root logger. An unknown level falls back to info.
func newLogger(cfg config, w io.Writer) zerolog.Logger {
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "drift-coordinator").Logger()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
