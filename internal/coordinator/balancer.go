// Package coordinator provides drift's control plane.
// This file implements the scheduler for the rebalancing passes.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Rebalancer is the pair of passes the Balancer drives. *Coordinator
// implements it; tests substitute a counting fake.
type Rebalancer interface {
	ReadBalance(ctx context.Context) ([]Adjustment, error)
	ServerBalance(ctx context.Context) (Migration, error)
}

// Balancer runs ReadBalance and ServerBalance on independent timers.
// A failed pass is logged and the next tick runs as usual.
// Thread-safe: Start and Stop may be called from different goroutines.
type Balancer struct {
	target         Rebalancer
	logger         zerolog.Logger
	ctx            context.Context    // Context for cancellation
	cancel         context.CancelFunc // Cancel function for shutdown
	wg             sync.WaitGroup     // Wait group for graceful shutdown
	readInterval   time.Duration      // How often to run ReadBalance; 0 disables it
	serverInterval time.Duration      // How often to run ServerBalance; 0 disables it
}

// NewBalancer creates a balancer for target. A zero interval disables the
// corresponding pass.
//
// Example:
//
//	b := NewBalancer(coord, 30*time.Second, 30*time.Second)
//	go b.Start(ctx)
//	defer b.Stop()
func NewBalancer(target Rebalancer, readInterval, serverInterval time.Duration) *Balancer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Balancer{
		target:         target,
		logger:         zerolog.Nop(),
		ctx:            ctx,
		cancel:         cancel,
		readInterval:   readInterval,
		serverInterval: serverInterval,
	}
}

// SetLogger sets the logger for the balancer.
func (b *Balancer) SetLogger(logger zerolog.Logger) {
	b.logger = logger
}

func tick(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Start runs the passes in the current goroutine until ctx is cancelled or
// Stop is called.
func (b *Balancer) Start(ctx context.Context) {
	b.wg.Add(1)
	defer b.wg.Done()

	if ctx == nil {
		ctx = b.ctx
	}

	readC, stopRead := tick(b.readInterval)
	defer stopRead()
	serverC, stopServer := tick(b.serverInterval)
	defer stopServer()

	b.logger.Info().Dur("read_interval", b.readInterval).
		Dur("server_interval", b.serverInterval).Msg("balancer started")

	for {
		select {
		case <-readC:
			b.runRead(ctx)
		case <-serverC:
			b.runServer(ctx)
		case <-ctx.Done():
			b.logger.Info().Msg("balancer stopping due to context cancellation")
			return
		case <-b.ctx.Done():
			b.logger.Info().Msg("balancer stopping due to internal cancellation")
			return
		}
	}
}

// Stop cancels the balancer and waits for the running pass to finish.
func (b *Balancer) Stop() {
	b.cancel()
	b.wg.Wait()
}

func (b *Balancer) runRead(ctx context.Context) {
	adjustments, err := b.target.ReadBalance(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("read balance pass failed")
	}
	for _, a := range adjustments {
		b.logger.Debug().Str("file", a.File).Int("reads", a.Reads).Int("before", a.Before).
			Int("desired", a.Desired).Msg("replication factor adjusted")
	}
}

func (b *Balancer) runServer(ctx context.Context) {
	m, err := b.target.ServerBalance(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("server balance pass failed")
		return
	}
	if m.Moved {
		b.logger.Debug().Str("file", m.File).Int("from", m.From).Int("to", m.To).Msg("load migrated")
	}
}
