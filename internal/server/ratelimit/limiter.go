// Package ratelimit implements the dual-keyed sliding-window log limiter
// guarding classification requests. Windows live in Redis so every server
// process shares them.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/dmitrijs2005/classifyd/internal/server/metrics"
)

// Decision is the outcome of one admission attempt on a window.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter admits or rejects one request on the window identified by
// (dimension, identity) at instant now.
type Limiter interface {
	Admit(ctx context.Context, dimension, identity string, now time.Time) (Decision, error)
}

// StatsRecorder counts decisions. Failures to record are logged only.
type StatsRecorder interface {
	Record(ctx context.Context, dimension string, allowed bool, at time.Time) error
}

// Service checks both dimensions of a classification request.
type Service struct {
	limiter Limiter
	stats   StatsRecorder
	logger  logging.Logger
	now     func() time.Time
}

func NewService(limiter Limiter, stats StatsRecorder, logger logging.Logger) *Service {
	return &Service{
		limiter: limiter,
		stats:   stats,
		logger:  logger.With("module", "ratelimit"),
		now:     time.Now,
	}
}

// Check consults the IP window first and the credential window second. The
// first rejection wins and is returned as *common.RateLimitError. A store
// failure rejects the request with common.ErrRateLimiterUnavailable.
func (s *Service) Check(ctx context.Context, ip string, credentialID int64) error {
	now := s.now()

	checks := []struct {
		dimension string
		identity  string
	}{
		{common.DimensionIP, ip},
		{common.DimensionCredential, strconv.FormatInt(credentialID, 10)},
	}

	for _, c := range checks {
		dec, err := s.limiter.Admit(ctx, c.dimension, c.identity, now)
		if err != nil {
			s.logger.Error(ctx, "rate limit store failure", "dimension", c.dimension, "error", err)
			return fmt.Errorf("%w: %v", common.ErrRateLimiterUnavailable, err)
		}

		metrics.RateLimitDecisions.WithLabelValues(c.dimension, metrics.Outcome(dec.Allowed)).Inc()
		if s.stats != nil {
			if err := s.stats.Record(ctx, c.dimension, dec.Allowed, now); err != nil {
				s.logger.Warn(ctx, "rate limit stats not recorded", "error", err)
			}
		}

		if !dec.Allowed {
			s.logger.Info(ctx, "rate limited", "dimension", c.dimension, "identity", c.identity)
			return &common.RateLimitError{Dimension: c.dimension, RetryAfter: dec.RetryAfter}
		}
	}
	return nil
}
