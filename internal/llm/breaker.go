package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig controls when the breaker opens and for how long.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold int           // consecutive failures before opening
	OpenTimeout      time.Duration // time spent open before a trial request
}

// BreakerGenerator fails fast while the wrapped Generator keeps failing.
// An open breaker is reported as a transport failure; nothing is retried.
type BreakerGenerator struct {
	next    Generator
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerGenerator wraps next.
func NewBreakerGenerator(next Generator, cfg BreakerConfig) *BreakerGenerator {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm:" + next.Model(),
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up is not a provider failure
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &BreakerGenerator{next: next, breaker: breaker}
}

// Model returns the wrapped generator's model.
func (b *BreakerGenerator) Model() string {
	return b.next.Model()
}

// State exposes the breaker state.
func (b *BreakerGenerator) State() gobreaker.State {
	return b.breaker.State()
}

// Generate calls the wrapped generator unless the breaker is open.
func (b *BreakerGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", transportError(err)
		}
		return "", err
	}
	return result.(string), nil
}
