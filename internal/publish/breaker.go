package publish

import (
	"context"
	"io"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/metrics"
)

// BreakerRemote wraps a Remote with a circuit breaker. Once the remote has
// failed maxFailures times in a row, calls fail fast with
// gobreaker.ErrOpenState until the open timeout has passed.
type BreakerRemote struct {
	next bowtie.Remote
	cb   *gobreaker.CircuitBreaker[any]
}

type statResult struct {
	size   int64
	exists bool
}

// NewBreakerRemote wraps next. A maxFailures of zero defaults to 5.
func NewBreakerRemote(next bowtie.Remote, maxFailures uint32, openTimeout time.Duration, logger bowtie.Logger) *BreakerRemote {
	if logger == nil {
		logger = bowtie.NewNopLogger()
	}
	if maxFailures == 0 {
		maxFailures = 5
	}

	settings := gobreaker.Settings{
		Name:        "publisher",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				metrics.PublisherBreakerOpen.Set(1)
			} else {
				metrics.PublisherBreakerOpen.Set(0)
			}
		},
	}

	return &BreakerRemote{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Stat calls the wrapped remote through the breaker.
func (b *BreakerRemote) Stat(ctx context.Context, name string) (int64, bool, error) {
	res, err := b.cb.Execute(func() (any, error) {
		size, exists, err := b.next.Stat(ctx, name)
		return statResult{size: size, exists: exists}, err
	})
	if err != nil {
		return 0, false, err
	}
	st := res.(statResult)
	return st.size, st.exists, nil
}

// Put calls the wrapped remote through the breaker.
func (b *BreakerRemote) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Put(ctx, name, r, size)
	})
	return err
}

// State reports the breaker state, e.g. "closed" or "open".
func (b *BreakerRemote) State() string {
	return b.cb.State().String()
}

// Close closes the wrapped remote.
func (b *BreakerRemote) Close() error {
	return b.next.Close()
}

var _ bowtie.Remote = (*BreakerRemote)(nil)
