package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is a circuit breaker state.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the reset timeout elapses.
	Open
	// HalfOpen lets probes through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned for calls rejected by an open breaker.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls a Breaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit. Default: 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open. Default: 30s.
	ResetTimeout time.Duration
	// Probes successful half-open calls close the circuit. Default: 1.
	Probes int
	// Trips decides which errors count as failures. Defaults to any error.
	Trips func(err error) bool
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second, Probes: 1}
}

// NewBreakerConfig builds a config from config values; non-positive values
// keep the defaults.
func NewBreakerConfig(failureThreshold, resetTimeoutSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// Breaker is a circuit breaker guarding one external service.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	successes int
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	d := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = d.ResetTimeout
	}
	if cfg.Probes <= 0 {
		cfg.Probes = d.Probes
	}
	if cfg.Trips == nil {
		cfg.Trips = func(err error) bool { return err != nil }
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// State returns the effective state, reporting HalfOpen once an open
// circuit's timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(Closed)
	b.failures, b.successes = 0, 0
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return nil
	}
	if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.setState(HalfOpen)
		return nil
	}
	return eris.Wrapf(ErrCircuitOpen, "resilience: %s", b.name)
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.cfg.Trips(err) {
		switch b.state {
		case HalfOpen:
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.setState(Closed)
				b.failures, b.successes = 0, 0
			}
		case Closed:
			b.failures = 0
		}
		return
	}

	b.failures++
	switch b.state {
	case Closed:
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.setState(Open)
		}
	case HalfOpen:
		b.openedAt = b.now()
		b.successes = 0
		b.setState(Open)
	}
}

// setState must be called with mu held.
func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	zap.L().Info("resilience: circuit state change",
		zap.String("service", b.name),
		zap.String("from", b.state.String()),
		zap.String("to", to.String()),
	)
	b.state = to
}

// Call runs fn with retries behind the breaker. Breaker rejections and
// failures left after the final attempt are wrapped as
// model.ErrExternalUnavailable. A nil breaker skips the circuit check.
func Call[T any](ctx context.Context, service string, p Policy, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	guarded := fn
	if b != nil {
		guarded = func(ctx context.Context) (T, error) {
			var out T
			err := b.Execute(ctx, func(ctx context.Context) error {
				var err error
				out, err = fn(ctx)
				return err
			})
			return out, err
		}
	}
	if p.OnRetry == nil {
		p.OnRetry = LogRetries(service, "call")
	}
	v, err := Retry(ctx, p, guarded)
	if err != nil {
		var zero T
		return zero, Unavailable(service, err)
	}
	return v, nil
}
