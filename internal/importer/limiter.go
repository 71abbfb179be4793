package importer

import (
	"context"
	"errors"
	"time"
)

// ErrTooManyImports means every import transaction slot stayed busy for the
// whole wait. The HTTP layer maps it to 503 with a retry hint.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

const (
	DefaultMaxConcurrentImports = 4
	DefaultMaxWaitTime          = 30 * time.Second
)

// Limiter caps the number of open import transactions. A slot is taken
// before Persistence is opened and given back after commit or rollback, so
// the database never sees more than cap(slots) import transactions at once.
type Limiter struct {
	slots   chan struct{}
	idle    chan struct{}
	maxWait time.Duration
}

// NewLimiter sizes the pool of import transactions. Zero values fall back to
// DefaultMaxConcurrentImports and DefaultMaxWaitTime.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &Limiter{
		slots:   make(chan struct{}, maxConcurrent),
		idle:    make(chan struct{}, 1),
		maxWait: maxWait,
	}
}

// Acquire reserves a transaction slot for one import. It gives up with
// ErrTooManyImports after maxWait, or with ctx's error if the caller goes
// away first.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyImports
	}
}

// TryAcquire reserves a slot without waiting.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release hands the slot back once the import's transaction has ended.
func (l *Limiter) Release() {
	<-l.slots
	if len(l.slots) == 0 {
		select {
		case l.idle <- struct{}{}:
		default:
		}
	}
}

// ActiveCount is the number of import transactions currently open.
func (l *Limiter) ActiveCount() int {
	return len(l.slots)
}

// WaitForDrain blocks until every import transaction has finished. Shutdown
// uses it so in-flight imports can commit before the pool closes.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	for l.ActiveCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.idle:
		}
	}
	// Pass the signal on to any other waiter.
	select {
	case l.idle <- struct{}{}:
	default:
	}
	return nil
}

// LimiterStatus is reported under "imports" by the health endpoint.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

func (l *Limiter) Status() LimiterStatus {
	active := l.ActiveCount()
	return LimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - active,
		MaxConcurrent: cap(l.slots),
	}
}
