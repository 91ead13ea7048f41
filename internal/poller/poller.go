package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Channel is the part of the real-time service the poller drives.
// realtime.Service satisfies it.
type Channel interface {
	IsConnected() bool
	Ping(ctx context.Context) (time.Duration, error)
	RequestAllLocations()
}

// Config holds poller configuration.
type Config struct {
	Interval         time.Duration // Poll interval (default: 30s)
	RequestLocations bool          // Also ask for every citizen position each cycle
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
	}
}

// Stats contains poller statistics.
type Stats struct {
	Cycles       int64         // Cycles run while connected
	Skipped      int64         // Cycles skipped while disconnected
	PingFailures int64         // Pings that failed or timed out
	LastRTT      time.Duration // Round trip of the last successful ping
}

// Poller periodically measures channel latency and, for officials, refreshes
// the citizen location snapshot.
type Poller struct {
	cfg     Config
	channel Channel
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles       atomic.Int64
	skipped      atomic.Int64
	pingFailures atomic.Int64
	lastRTT      atomic.Int64
}

// New creates a new Poller.
func New(cfg Config, channel Channel, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Poller{
		cfg:     cfg,
		channel: channel,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("channel poller started",
		"interval", p.cfg.Interval,
		"request_locations", p.cfg.RequestLocations,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("channel poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:       p.cycles.Load(),
		Skipped:      p.skipped.Load(),
		PingFailures: p.pingFailures.Load(),
		LastRTT:      time.Duration(p.lastRTT.Load()),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll runs one cycle. Nothing is sent while the channel is down, since
// fire-and-forget sends would only be dropped.
func (p *Poller) poll() {
	if !p.channel.IsConnected() {
		p.skipped.Add(1)
		p.logger.Debug("skipping poll while disconnected")
		return
	}
	p.cycles.Add(1)

	rtt, err := p.channel.Ping(p.ctx)
	if err != nil {
		p.pingFailures.Add(1)
		p.logger.Warn("ping failed", "error", err)
	} else {
		p.lastRTT.Store(int64(rtt))
		p.logger.Debug("ping", "rtt", rtt)
	}

	if p.cfg.RequestLocations {
		p.channel.RequestAllLocations()
	}
}
