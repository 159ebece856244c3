package resilience

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// Breaker wraps gobreaker for the external ACME endpoint: a provider
// whose DNS API keeps failing should stop being hammered before the
// CA's rate limits come into play.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[string]
	name string
}

// BreakerOption configures a Breaker
type BreakerOption func(*gobreaker.Settings)

// WithFailureThreshold sets the number of consecutive failures before opening
func WithFailureThreshold(n uint32) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= n
		}
	}
}

// WithTimeout sets the period of the open state before becoming half-open
func WithTimeout(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.Timeout = d
	}
}

// NewBreaker creates a circuit breaker. Defaults: trip after 3
// consecutive failures, stay open for 2 minutes, allow a single probe
// in half-open state.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}

	return &Breaker{
		cb:   gobreaker.NewCircuitBreaker[string](settings),
		name: name,
	}
}

// Execute runs an operation returning command output through the
// breaker. When the circuit is open the operation is not attempted and
// gobreaker.ErrOpenState is returned.
func (b *Breaker) Execute(op func() (string, error)) (string, error) {
	return b.cb.Execute(op)
}

// IsOpen returns true if the circuit is open (blocking requests)
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}
