package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/bryan-buckman/feedhub/internal/database"
)

// Poller refreshes every feed once per polling interval.
type Poller struct {
	coord   *Coordinator
	timeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a background poller. Each cycle is bounded by timeout.
func NewPoller(coord *Coordinator, timeout time.Duration) *Poller {
	return &Poller{coord: coord, timeout: timeout}
}

// Start begins the polling loop. The first cycle runs immediately.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			interval := p.RunOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-p.coord.clock.After(interval):
			}
		}
	}()
}

// RunOnce refreshes all feeds and returns the wait until the next cycle.
func (p *Poller) RunOnce(ctx context.Context) time.Duration {
	log := p.coord.log
	mins, err := p.coord.store.GetPollingInterval(ctx)
	if err != nil || mins < database.MinPollingIntervalMinutes {
		mins = database.MinPollingIntervalMinutes
	}
	log.Info("poller: refreshing all feeds", "interval_minutes", mins)

	start := p.coord.clock.Now()
	cycleCtx, cancel := context.WithTimeout(ctx, p.timeout)
	results, err := p.coord.RefreshAll(cycleCtx)
	cancel()
	if err != nil {
		log.Error("poller error", "error", err)
	}

	written, failed := 0, 0
	for _, r := range results {
		written += r.ArticlesWritten
		if r.Status == StatusError {
			failed++
		}
	}
	log.Info("poller: cycle done", "feeds", len(results), "failed", failed, "articles_written", written, "took", p.coord.clock.Now().Sub(start))
	return time.Duration(mins) * time.Minute
}

// Stop stops the poller and waits for the current cycle to finish.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
}
