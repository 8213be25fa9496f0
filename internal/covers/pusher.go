package covers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/posterwall/backend/internal/metrics"
	"github.com/posterwall/backend/internal/models"
)

// PusherConfig controls remote push behaviour.
type PusherConfig struct {
	Timeout time.Duration
}

// Pusher sends full-list snapshots to the remote store in the background.
// Snapshots submitted while a push is in flight coalesce: only the latest is
// sent next. Failures are logged and never surface to the mutating caller.
type Pusher struct {
	remote  Remote
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	pending []models.CoverRecord
	queued  bool

	signal chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	// afterPush observes every completed push; tests use it to synchronise.
	afterPush func(error)
}

// NewPusher starts the push worker.
func NewPusher(remote Remote, cfg PusherConfig, logger zerolog.Logger) *Pusher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pusher{
		remote:  remote,
		timeout: cfg.Timeout,
		logger:  logger.With().Str("component", "covers.pusher").Logger(),
		signal:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// Submit schedules records to be pushed, replacing any snapshot not yet sent.
func (p *Pusher) Submit(records []models.CoverRecord) {
	if p == nil || p.remote == nil {
		return
	}
	p.mu.Lock()
	p.pending = records
	p.queued = true
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Shutdown pushes any queued snapshot and stops the worker.
func (p *Pusher) Shutdown(ctx context.Context) error {
	p.once.Do(p.cancel)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Pusher) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			p.flush()
			return
		case <-p.signal:
			p.flush()
		}
	}
}

func (p *Pusher) flush() {
	p.mu.Lock()
	records, queued := p.pending, p.queued
	p.pending, p.queued = nil, false
	p.mu.Unlock()
	if !queued {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	err := p.remote.Save(ctx, records)
	if err != nil {
		metrics.IncPersistenceFailure("remote", "push")
		p.logger.Error().Err(err).Int("count", len(records)).Msg("remote push failed")
	} else {
		p.logger.Debug().Int("count", len(records)).Dur("duration", time.Since(start)).Msg("remote push completed")
	}
	if p.afterPush != nil {
		p.afterPush(err)
	}
}
