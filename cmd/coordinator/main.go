package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/drift/internal/coordinator"
	"github.com/dreamware/drift/internal/metastore"
	"github.com/dreamware/drift/internal/node"
	"github.com/dreamware/drift/internal/storage"
)

func main() {
	cfg, err := loadConfig()
	logger := newLogger(cfg, os.Stderr)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord, err := buildCoordinator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("coordinator setup failed")
	}

	balancer := coordinator.NewBalancer(coord, cfg.ReadBalanceInterval, cfg.ServerBalanceInterval)
	balancer.SetLogger(logger.With().Str("component", "balancer").Logger())
	go balancer.Start(ctx)

	srv := newServer(coord, logger.With().Str("component", "http").Logger())
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Int("nodes", cfg.Nodes).Msg("coordinator listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	balancer.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if err := coord.Close(); err != nil {
		logger.Error().Err(err).Msg("close coordinator")
	}
	logger.Info().Msg("coordinator stopped")
}

// buildCoordinator assembles the metastore, the node pool and the
// coordinator from cfg. On failure everything opened so far is closed.
func buildCoordinator(ctx context.Context, cfg config, logger zerolog.Logger) (*coordinator.Coordinator, error) {
	var meta metastore.Store
	if cfg.RedisAddr != "" {
		rs, err := metastore.DialRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		meta = rs
		logger.Info().Str("redis", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("using redis metastore")
	} else {
		meta = metastore.NewMemoryStore()
		logger.Info().Msg("using in-memory metastore")
	}

	nodes, err := openNodes(cfg, logger)
	if err != nil {
		meta.Close()
		return nil, err
	}

	coord, err := coordinator.New(nodes, meta,
		coordinator.WithLogger(logger.With().Str("component", "coordinator").Logger()),
		coordinator.WithReadWindow(cfg.ReadWindow),
		coordinator.WithHotThreshold(cfg.HotThreshold),
		coordinator.WithLoadWindow(cfg.LoadWindow),
	)
	if err != nil {
		for _, n := range nodes {
			n.Close()
		}
		meta.Close()
		return nil, err
	}
	return coord, nil
}

func openNodes(cfg config, logger zerolog.Logger) ([]*node.Node, error) {
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	nodes := make([]*node.Node, 0, cfg.Nodes)
	for i := 0; i < cfg.Nodes; i++ {
		var store storage.Store = storage.NewMemoryStore()
		if cfg.DataDir != "" {
			bs, err := storage.OpenBoltStore(filepath.Join(cfg.DataDir, fmt.Sprintf("node-%d.db", i)))
			if err != nil {
				for _, n := range nodes {
					n.Close()
				}
				return nil, err
			}
			store = bs
		}
		n := node.New(i, store)
		n.SetLogger(logger.With().Str("component", "node").Int("node", i).Logger())
		nodes = append(nodes, n)
	}
	return nodes, nil
}
