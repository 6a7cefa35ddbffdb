package extraction

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current state
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig holds circuit breaker tunables
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	Cooldown         time.Duration // initial open period
	MaxCooldown      time.Duration // cap for cooldown growth
}

// Breaker is a consecutive-failure circuit breaker. While OPEN, calls fail
// fast without contacting the backend; after the cooldown a single trial
// call is allowed (HALF_OPEN). A failed trial reopens with the cooldown
// doubled, up to MaxCooldown.
//
// Breaker instances are explicitly owned and injected so tests can build
// isolated ones; there is no package-level state.
type Breaker struct {
	mu sync.Mutex

	threshold   int
	cooldown    time.Duration
	maxCooldown time.Duration

	state           BreakerState
	consecutiveFail int
	currentCooldown time.Duration
	openedAt        time.Time
	trialInFlight   bool
	tripCount       int

	now func() time.Time
}

// NewBreaker creates a circuit breaker in the CLOSED state
func NewBreaker(cfg BreakerConfig) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold < 1 {
		threshold = 1
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	maxCooldown := cfg.MaxCooldown
	if maxCooldown < cooldown {
		maxCooldown = cooldown
	}
	return &Breaker{
		threshold:       threshold,
		cooldown:        cooldown,
		maxCooldown:     maxCooldown,
		state:           BreakerClosed,
		currentCooldown: cooldown,
		now:             time.Now,
	}
}

// SetClock overrides the time source, used by tests
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Allow reports whether a call may proceed. When the cooldown of an OPEN
// breaker has elapsed, exactly one caller is admitted as the HALF_OPEN trial.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if b.trialInFlight {
			return ErrProviderDegraded
		}
		b.trialInFlight = true
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.currentCooldown {
			return ErrProviderDegraded
		}
		b.state = BreakerHalfOpen
		b.trialInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess resets the breaker to CLOSED
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail = 0
	b.trialInFlight = false
	b.state = BreakerClosed
	b.currentCooldown = b.cooldown
}

// RecordFailure counts a failure; returns true when the breaker is (now) open
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail++
	switch b.state {
	case BreakerHalfOpen:
		// Failed trial: reopen with the cooldown doubled
		b.trialInFlight = false
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.currentCooldown = b.currentCooldown * 2
		if b.currentCooldown > b.maxCooldown {
			b.currentCooldown = b.maxCooldown
		}
		b.tripCount++
		return true
	case BreakerClosed:
		if b.consecutiveFail >= b.threshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
			b.tripCount++
		}
	}
	return b.state == BreakerOpen
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// TripCount returns how many times the breaker has opened
func (b *Breaker) TripCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripCount
}
