package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/apexgen/jobmanager/config"
	"github.com/apexgen/jobmanager/internal/core"
	"github.com/apexgen/jobmanager/internal/domain/model"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Store  core.JobStore       // Required: job store
	Config config.ReaperConfig // Required: reaper configuration
	Logger *slog.Logger        // Optional: structured logger
}

// ReaperService re-fails processing jobs whose worker died without reaching
// a terminal status, typically after a crash or hard shutdown. Reaped jobs
// get a synthetic failure report so the failed-implies-report invariant
// holds for them too.
type ReaperService struct {
	store  core.JobStore
	config config.ReaperConfig
	logger *slog.Logger
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"processing_max_age", opts.Config.ProcessingMaxAge,
		)
	}

	return &ReaperService{
		store:  opts.Store,
		config: opts.Config,
		logger: logger,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Sweep immediately after jitter
	if err := s.sweep(ctx); err != nil {
		s.logSweepError(err)
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logSweepError(err)
				// Continue running despite errors
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// sweep re-fails all processing jobs that have not been touched within the
// configured max age.
func (s *ReaperService) sweep(ctx context.Context) error {
	ids, err := s.store.FailStuckProcessing(ctx, s.config.ProcessingMaxAge, abandonedJobReport())
	if err != nil {
		return err
	}

	if len(ids) > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "re-failed stuck processing jobs",
			"count", len(ids),
			"job_ids", ids,
			"max_age", s.config.ProcessingMaxAge,
		)
	}
	return nil
}

// abandonedJobReport is the synthetic failure report attached to reaped jobs.
func abandonedJobReport() *model.Report {
	return &model.Report{
		Summary: "Job was abandoned before reaching a terminal status.",
		RootCauses: []string{
			"The worker processing this job stopped before the attempt loop finished.",
		},
		Recommendations: []string{
			"Resubmit the job.",
		},
	}
}

func (s *ReaperService) logSweepError(err error) {
	if err == nil || s.logger == nil {
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Debug("sweep cancelled by context", "error", err)
		return
	}

	s.logger.Error("sweep failed", "error", err)
}
