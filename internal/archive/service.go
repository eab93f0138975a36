package archive

import (
	"context"
	"time"

	"bowtie-go/internal/bowtie"
)

// DefaultPollInterval is how often the service checks for new entries.
const DefaultPollInterval = time.Second

// Service runs the poll loop as a supervised service. The loop owns its
// State, so a restarted service rebuilds once unconditionally.
type Service struct {
	builder  *Builder
	interval time.Duration
	logger   bowtie.Logger
}

// NewService creates the poll loop service.
func NewService(builder *Builder, interval time.Duration, logger bowtie.Logger) *Service {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = bowtie.NewNopLogger()
	}
	return &Service{builder: builder, interval: interval, logger: logger}
}

// Serve implements suture.Service. A failed rebuild is logged and retried on
// the next tick; only cancellation ends the loop.
func (s *Service) Serve(ctx context.Context) error {
	var st State
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if _, err := s.builder.Poll(ctx, &st); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("poll failed, retrying next tick", "error", err)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *Service) String() string {
	return "archive-poller"
}
