package extraction

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/certiva/docpipe/internal/models"
)

// defaultBackoffSchedule is the escalating sleep sequence between retries,
// scaled by BackoffFactor and capped at MaxSleep.
var defaultBackoffSchedule = []time.Duration{
	800 * time.Millisecond,
	2100 * time.Millisecond,
	5 * time.Second,
	11 * time.Second,
}

// ResilientConfig holds the resilience tunables around a backend
type ResilientConfig struct {
	MaxRPS        float64
	MaxInflight   int64
	AdmissionWait time.Duration
	MaxAttempts   int
	BackoffFactor float64
	MaxSleep      time.Duration
	ReadTimeout   time.Duration
	Breaker       BreakerConfig
}

// Stats is a countable snapshot of provider activity for health reporting
type Stats struct {
	Attempts     int64 `json:"attempts"`
	Successes    int64 `json:"successes"`
	Failures     int64 `json:"failures"`
	Retries      int64 `json:"retries"`
	CacheHits    int64 `json:"cache_hits"`
	Throttled    int64 `json:"throttled"`
	BreakerTrips int64 `json:"breaker_trips"`
	FallbackUsed int64 `json:"fallback_used"`
}

// ResilientProvider composes, in order around the backend call: result cache,
// admission control (token bucket + in-flight semaphore), circuit breaker,
// retry with backoff, and an optional fallback backend.
//
// The limiter and semaphore are the only cross-document shared mutable state
// in the pipeline; everything here must stay safe under concurrent callers.
type ResilientProvider struct {
	primary  Backend
	fallback Backend
	cache    *ResultCache
	limiter  *rate.Limiter
	sem      *semaphore.Weighted
	breaker  *Breaker
	cfg      ResilientConfig
	logger   *zap.Logger

	mu    sync.Mutex
	stats Stats

	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand
}

// NewResilientProvider wraps a primary backend with resilience controls.
// fallback may be nil; cache may be nil to disable caching.
func NewResilientProvider(primary, fallback Backend, cache *ResultCache, cfg ResilientConfig, logger *zap.Logger) *ResilientProvider {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxInflight < 1 {
		cfg.MaxInflight = 1
	}
	if cfg.MaxRPS <= 0 {
		cfg.MaxRPS = 0.8
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 1.0
	}
	if cfg.MaxSleep <= 0 {
		cfg.MaxSleep = 45 * time.Second
	}
	if cfg.AdmissionWait <= 0 {
		cfg.AdmissionWait = 30 * time.Second
	}

	burst := int(cfg.MaxRPS * 2)
	if burst < 1 {
		burst = 1
	}

	return &ResilientProvider{
		primary:  primary,
		fallback: fallback,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Limit(cfg.MaxRPS), burst),
		sem:      semaphore.NewWeighted(cfg.MaxInflight),
		breaker:  NewBreaker(cfg.Breaker),
		cfg:      cfg,
		logger:   logger,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSleepFunc overrides the inter-retry sleep, used by tests
func (p *ResilientProvider) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	p.sleep = fn
}

// Breaker exposes the provider's circuit breaker for health probes
func (p *ResilientProvider) Breaker() *Breaker {
	return p.breaker
}

// Healthy reports whether the provider is usable for a new batch
func (p *ResilientProvider) Healthy() bool {
	return p.breaker.State() != BreakerOpen
}

// Stats returns a snapshot of provider counters
func (p *ResilientProvider) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *ResilientProvider) count(fn func(s *Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

// Extract runs the resilient extraction chain for a document.
// A *TransientError exhaustion surfaces as ErrTempProvider; an open breaker
// as ErrProviderDegraded; both are recoverable outcomes for callers.
func (p *ResilientProvider) Extract(ctx context.Context, docID models.DocumentID, data []byte, tenant string) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrCorruptInput
	}

	if cached, ok := p.cache.Get(docID); ok {
		p.count(func(s *Stats) { s.CacheHits++ })
		p.logger.Debug("Extraction served from cache", zap.String("doc_id", docID.String()))
		return cached, nil
	}

	result, err := p.callPrimary(ctx, docID, data, tenant)
	if err == nil {
		if cacheErr := p.cache.Put(docID, result); cacheErr != nil {
			p.logger.Warn("Failed to cache extraction result", zap.Error(cacheErr))
		}
		return result, nil
	}

	// Admission refusal is not a backend failure; surface it unchanged
	if errors.Is(err, ErrThrottled) {
		return nil, err
	}

	if p.fallback != nil {
		p.logger.Warn("Primary extraction unusable, using fallback backend",
			zap.String("doc_id", docID.String()), zap.Error(err))
		fallbackResult, fbErr := p.fallback.Analyze(ctx, data, tenant)
		if fbErr == nil {
			fallbackResult.FallbackUsed = true
			p.count(func(s *Stats) { s.FallbackUsed++ })
			return fallbackResult, nil
		}
		p.logger.Error("Fallback extraction failed", zap.Error(fbErr))
	}

	return nil, err
}

// callPrimary runs admission, breaker, and the retry loop for the primary backend
func (p *ResilientProvider) callPrimary(ctx context.Context, docID models.DocumentID, data []byte, tenant string) (*Result, error) {
	if p.primary == nil {
		return nil, fmt.Errorf("%w: no primary backend configured", ErrTempProvider)
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := p.admit(ctx); err != nil {
			p.count(func(s *Stats) { s.Throttled++ })
			return nil, err
		}

		if err := p.breaker.Allow(); err != nil {
			p.sem.Release(1)
			p.count(func(s *Stats) { s.Failures++ })
			return nil, fmt.Errorf("%w: circuit open for %s", ErrProviderDegraded, p.primary.Name())
		}

		p.count(func(s *Stats) { s.Attempts++ })
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.ReadTimeout)
		result, err := p.primary.Analyze(callCtx, data, tenant)
		cancel()
		p.sem.Release(1)

		if err == nil {
			p.breaker.RecordSuccess()
			p.count(func(s *Stats) { s.Successes++ })
			return result, nil
		}

		lastErr = err
		tripped := p.breaker.RecordFailure()
		if tripped {
			p.count(func(s *Stats) { s.BreakerTrips++ })
		}
		p.count(func(s *Stats) { s.Failures++ })

		if !IsTransient(err) {
			p.logger.Error("Extraction failed fatally",
				zap.String("doc_id", docID.String()),
				zap.String("backend", p.primary.Name()),
				zap.Error(err))
			return nil, err
		}

		p.logger.Warn("Transient extraction failure",
			zap.String("doc_id", docID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == p.cfg.MaxAttempts || tripped {
			break
		}

		p.count(func(s *Stats) { s.Retries++ })
		if err := p.sleep(ctx, p.backoffDelay(err, attempt)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTempProvider, lastErr)
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrTempProvider, lastErr)
}

// admit waits for the token bucket and the in-flight semaphore, bounded by
// the admission wait. The semaphore is held by the caller on success.
func (p *ResilientProvider) admit(ctx context.Context) error {
	admitCtx, cancel := context.WithTimeout(ctx, p.cfg.AdmissionWait)
	defer cancel()

	if err := p.limiter.Wait(admitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrThrottled
	}
	if err := p.sem.Acquire(admitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrThrottled
	}
	return nil
}

// backoffDelay picks the next sleep: the server's retry hint when present,
// otherwise the escalating schedule, plus jitter, capped at MaxSleep.
func (p *ResilientProvider) backoffDelay(err error, attempt int) time.Duration {
	var target time.Duration

	var transient *TransientError
	if errors.As(err, &transient) && transient.RetryAfter > 0 {
		target = transient.RetryAfter
	} else {
		idx := attempt - 1
		if idx >= len(defaultBackoffSchedule) {
			idx = len(defaultBackoffSchedule) - 1
		}
		target = time.Duration(float64(defaultBackoffSchedule[idx]) * p.cfg.BackoffFactor)
	}

	if target > p.cfg.MaxSleep {
		target = p.cfg.MaxSleep
	}

	jitterCeil := time.Duration(float64(target) * 0.2)
	if jitterCeil < 50*time.Millisecond {
		jitterCeil = 50 * time.Millisecond
	}
	p.mu.Lock()
	jitter := time.Duration(p.rng.Int63n(int64(jitterCeil)))
	p.mu.Unlock()

	total := target + jitter
	if total > p.cfg.MaxSleep {
		total = p.cfg.MaxSleep
	}
	return total
}
