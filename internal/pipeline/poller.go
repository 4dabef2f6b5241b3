package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Poller periodically sweeps a bucket prefix and enqueues objects that
// have no terminal job yet. It is a fallback trigger for deployments
// without upload notifications, and also picks up files whose original
// event was lost.
type Poller struct {
	pipeline *Pipeline
	bucket   string
	prefix   string
	interval time.Duration

	// seen holds keys already enqueued by this process, so a slow job is
	// not re-enqueued on every tick while it is still in flight.
	seen map[string]struct{}
}

// NewPoller creates a Poller sweeping bucket/prefix every interval.
func NewPoller(p *Pipeline, bucket, prefix string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		pipeline: p,
		bucket:   bucket,
		prefix:   prefix,
		interval: interval,
		seen:     make(map[string]struct{}),
	}
}

// Run sweeps until the context is cancelled. One failed sweep logs and
// waits for the next tick.
func (p *Poller) Run(ctx context.Context) {
	logger := slog.With("bucket", p.bucket, "prefix", p.prefix)
	logger.Info("bucket poller started", "interval", p.interval.String())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.sweep(ctx); err != nil {
			logger.Error("bucket sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("bucket poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// sweep enqueues every listed object that has no terminal job and was
// not already enqueued by this process. The content-hash check downstream
// keeps reprocessing idempotent either way.
func (p *Poller) sweep(ctx context.Context) error {
	keys, err := p.pipeline.store.List(ctx, p.bucket, p.prefix)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if _, ok := p.seen[key]; ok {
			continue
		}
		done, err := p.pipeline.jobs.HasTerminalForKey(ctx, p.bucket, key)
		if err != nil {
			return err
		}
		if done {
			p.seen[key] = struct{}{}
			continue
		}
		if _, err := p.pipeline.Enqueue(ctx, Event{Bucket: p.bucket, Key: key}); err != nil {
			slog.Warn("poller enqueue failed", "key", key, "error", err)
			continue
		}
		p.seen[key] = struct{}{}
	}
	return nil
}
