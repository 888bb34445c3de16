package simpleldap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// pool hands out exclusive session leases to concurrent callers, bounded at
// cfg.PoolSize live sessions.
//
// Capacity accounting: slots starts with one token per allowed session; every
// live session, idle or leased, holds exactly one token. Destroying a session
// returns its token, so tokens in slots plus live sessions always equals the
// configured capacity. Waiters block on the idle and slots channels, which
// wakes them in FIFO order.
type pool struct {
	cfg    *Config
	logger *slog.Logger

	idle  chan *session
	slots chan struct{}

	mu      sync.Mutex
	closed  bool
	closing chan struct{}

	created    atomic.Int64
	discarded  atomic.Int64
	dialErrors atomic.Int64
	startTime  time.Time
}

func newPool(cfg *Config) *pool {
	p := &pool{
		cfg:       cfg,
		logger:    cfg.Logger,
		idle:      make(chan *session, cfg.PoolSize),
		slots:     make(chan struct{}, cfg.PoolSize),
		closing:   make(chan struct{}),
		startTime: time.Now(),
	}

	for range cfg.PoolSize {
		p.slots <- struct{}{}
	}

	return p
}

// lease grants one caller exclusive use of one session. Exactly one of
// release or discard must be called; both are idempotent after the first.
type lease struct {
	pool *pool
	sess *session
	done bool
}

// release returns the session to the idle set without validation. Validation
// is deferred to the next acquire, keeping release non-blocking.
func (l *lease) release() {
	if l.done {
		return
	}
	l.done = true
	l.pool.put(l.sess)
}

// discard closes the session and frees its capacity slot. Used when the
// session is known or suspected unhealthy.
func (l *lease) discard() {
	if l.done {
		return
	}
	l.done = true
	l.pool.destroy(l.sess)
}

// acquire blocks until an idle session is available or capacity allows
// dialing a fresh one, up to the configured acquire timeout. Idle sessions
// past their validation age are liveness checked first; a failed check
// discards the session and retries, bounded by cfg.AcquireRetries.
func (p *pool) acquire(ctx context.Context) (*lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= p.cfg.AcquireRetries; attempt++ {
		select {
		case s := <-p.idle:
			if err := p.checkout(ctx, s); err != nil {
				lastErr = err
				continue
			}
			return &lease{pool: p, sess: s}, nil

		case <-p.slots:
			s, err := dialBound(ctx, p.cfg)
			if err != nil {
				p.slots <- struct{}{}
				p.dialErrors.Add(1)
				p.logger.Warn("session dial failed",
					slog.String("url", p.cfg.URL),
					slog.Any("error", err))
				lastErr = err
				continue
			}
			p.created.Add(1)
			p.logger.Debug("session created",
				slog.String("url", p.cfg.URL),
				slog.Int64("total_created", p.created.Load()))
			return &lease{pool: p, sess: s}, nil

		case <-p.closing:
			return nil, ErrPoolClosed

		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %w (last error: %w)", ErrPoolExhausted, ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, ctx.Err())
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: retries exhausted: %w", ErrPoolExhausted, lastErr)
	}
	return nil, ErrPoolExhausted
}

// checkout vets an idle session before handing it out. Recently validated
// sessions skip the liveness round trip.
func (p *pool) checkout(ctx context.Context, s *session) error {
	if time.Since(s.lastValidated) < p.cfg.ValidateAfter {
		return nil
	}

	if err := s.validate(ctx); err != nil {
		p.logger.Debug("idle session failed validation, discarding",
			slog.Any("error", err))
		p.destroy(s)
		return err
	}

	return nil
}

// put returns a session to the idle set, or closes it if the pool has shut
// down since the lease was taken.
func (p *pool) put(s *session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		s.close()
		p.discarded.Add(1)
		return
	}

	select {
	case p.idle <- s:
	default:
		// Cannot happen while capacity accounting holds, but never block.
		s.close()
		p.discarded.Add(1)
	}
}

// destroy closes a session and releases its capacity token.
func (p *pool) destroy(s *session) {
	s.close()
	p.discarded.Add(1)

	select {
	case p.slots <- struct{}{}:
	default:
	}
}

// shutdown closes all idle sessions and fails outstanding and future acquire
// calls with ErrPoolClosed. In-flight leases keep their sessions until
// released, at which point the sessions are closed rather than recycled.
func (p *pool) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.closing)

	for {
		select {
		case s := <-p.idle:
			s.close()
			p.discarded.Add(1)
		default:
			p.logger.Debug("pool shut down",
				slog.Int64("created", p.created.Load()),
				slog.Int64("discarded", p.discarded.Load()))
			return
		}
	}
}

// PoolStats is a point-in-time snapshot of pool activity.
type PoolStats struct {
	Capacity   int           // configured maximum sessions
	Idle       int           // sessions waiting in the idle set
	InUse      int           // sessions currently leased
	Created    int64         // sessions dialed over the pool's lifetime
	Discarded  int64         // sessions closed over the pool's lifetime
	DialErrors int64         // failed dial attempts
	Uptime     time.Duration // time since pool construction
}

func (p *pool) stats() PoolStats {
	idle := len(p.idle)
	free := len(p.slots)

	return PoolStats{
		Capacity:   p.cfg.PoolSize,
		Idle:       idle,
		InUse:      p.cfg.PoolSize - free - idle,
		Created:    p.created.Load(),
		Discarded:  p.discarded.Load(),
		DialErrors: p.dialErrors.Load(),
		Uptime:     time.Since(p.startTime),
	}
}
