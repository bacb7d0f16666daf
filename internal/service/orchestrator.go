package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/apexgen/jobmanager/config"
	"github.com/apexgen/jobmanager/internal/core"
	"github.com/apexgen/jobmanager/internal/data"
	"github.com/apexgen/jobmanager/internal/domain/model"
	apperrors "github.com/apexgen/jobmanager/internal/errors"
)

// OrchestratorOptions groups dependencies for Orchestrator.
type OrchestratorOptions struct {
	Store        core.JobStore              // Required: job persistence
	Prompts      core.PromptGenerator       // Required: prompt generation
	Renderer     core.RenderService         // Required: image generation
	Validator    core.ResultValidator       // Required: result validation
	Reports      core.ReportGenerator       // Required: failure reporting
	Config       config.OrchestratorConfig  // Required: attempt-loop configuration
	TimeProvider data.TimeProvider          // Optional: defaults to real time
	Logger       *slog.Logger               // Optional: structured logger
}

// Orchestrator drives the bounded attempt loop for each submitted job:
// generate a prompt, render an image, validate the result, and feed the
// validator's tuned prompt back into the next attempt. Each job runs on its
// own tracked goroutine; attempts within a job are strictly sequential.
type Orchestrator struct {
	store        core.JobStore
	prompts      core.PromptGenerator
	renderer     core.RenderService
	validator    core.ResultValidator
	reports      core.ReportGenerator
	cfg          config.OrchestratorConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewOrchestrator constructs a new Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Prompts == nil {
		return nil, errors.New("PromptGenerator is required")
	}
	if opts.Renderer == nil {
		return nil, errors.New("RenderService is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("ResultValidator is required")
	}
	if opts.Reports == nil {
		return nil, errors.New("ReportGenerator is required")
	}

	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "orchestrator")
		logger.Debug("Orchestrator initialized",
			"max_attempts", opts.Config.MaxAttempts,
			"prompt_timeout", opts.Config.PromptTimeout,
			"render_timeout", opts.Config.RenderTimeout,
			"validate_timeout", opts.Config.ValidateTimeout,
		)
	}

	return &Orchestrator{
		store:        opts.Store,
		prompts:      opts.Prompts,
		renderer:     opts.Renderer,
		validator:    opts.Validator,
		reports:      opts.Reports,
		cfg:          opts.Config,
		timeProvider: timeProvider,
		logger:       logger,
		running:      make(map[string]context.CancelFunc),
	}, nil
}

// Start launches background processing for a job. The work runs detached
// from the caller's request context; it stops only when it reaches a
// terminal status or the orchestrator shuts down.
func (o *Orchestrator) Start(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return apperrors.Unavailable("orchestrator is shutting down")
	}
	if _, ok := o.running[jobID]; ok {
		return apperrors.Conflictf("job %s is already being processed", jobID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.running[jobID] = cancel
	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		defer o.finish(jobID)
		o.processJob(ctx, jobID)
	}()

	return nil
}

// Cancel stops the background worker for a job if one is running. Unknown
// ids are a no-op: the delete handler calls this for every removed job,
// running or not.
func (o *Orchestrator) Cancel(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.running[jobID]; ok {
		cancel()
	}
}

// Running reports whether a job currently has an active worker.
func (o *Orchestrator) Running(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[jobID]
	return ok
}

// ActiveJobs returns the number of jobs currently being processed.
func (o *Orchestrator) ActiveJobs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// Shutdown cancels all in-flight jobs and waits for their workers to stop,
// bounded by the given context. Interrupted jobs stay in processing status;
// the reaper re-fails them later.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, cancel := range o.running {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) finish(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.running[jobID]; ok {
		cancel()
		delete(o.running, jobID)
	}
}

// processJob runs the full attempt loop for one job.
func (o *Orchestrator) processJob(ctx context.Context, jobID string) {
	logger := o.logger
	if logger != nil {
		logger = logger.With("job_id", jobID)
	}

	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		if logger != nil {
			logger.Error("failed to load job for processing", "error", err)
		}
		return
	}
	if job.CurrentStatus.Status.Terminal() {
		if logger != nil {
			logger.Warn("job already terminal, skipping", "status", job.CurrentStatus.Status)
		}
		return
	}

	if err := o.setStatus(ctx, jobID, model.JobStatusProcessing); err != nil {
		if logger != nil {
			logger.Error("failed to mark job processing", "error", err)
		}
		return
	}

	params := job.Parameters.Clone()
	if params == nil {
		params = model.Parameters{}
	}
	attempts := append([]model.Attempt(nil), job.Attempts...)

	for i := len(attempts) + 1; i <= o.cfg.MaxAttempts; i++ {
		if ctx.Err() != nil {
			if logger != nil {
				logger.Info("processing interrupted", "attempt", i, "reason", ctx.Err())
			}
			return
		}

		attempt, rendered := o.runAttempt(ctx, logger, job, params, i)
		attempts = append(attempts, attempt)

		if attempt.Validation != nil && attempt.Validation.Valid {
			o.completeJob(ctx, logger, jobID, params, attempts, rendered)
			return
		}

		// Feed the validator's suggestion into the next attempt.
		if attempt.Validation != nil {
			params.ApplyTunedPrompt(attempt.Validation.TunedPrompt)
		}

		o.persistProgress(ctx, logger, jobID, params, attempts)
	}

	o.failJob(ctx, logger, jobID, params, attempts)
}

// runAttempt executes one prompt -> render -> validate iteration. A step
// error terminates the attempt, never the job; the error text is recorded on
// the attempt itself.
func (o *Orchestrator) runAttempt(
	ctx context.Context,
	logger *slog.Logger,
	job *model.Job,
	params model.Parameters,
	index int,
) (model.Attempt, []byte) {
	attempt := model.Attempt{
		Index:  index,
		Status: model.AttemptStamp{Status: model.AttemptStatusProcessing, Timestamp: o.now()},
	}
	if logger != nil {
		logger.Info("starting attempt", "attempt", index, "max_attempts", o.cfg.MaxAttempts)
	}

	promptCtx, cancel := context.WithTimeout(ctx, o.cfg.PromptTimeout)
	prompt, err := o.prompts.GeneratePrompt(promptCtx, job.OriginalImage, params)
	cancel()
	if err != nil {
		return o.failAttempt(logger, attempt, "prompt generation", err), nil
	}
	attempt.Prompt = prompt

	renderCtx, cancel := context.WithTimeout(ctx, o.cfg.RenderTimeout)
	rendered, err := o.renderer.Render(renderCtx, job.OriginalImage, prompt)
	cancel()
	if err != nil {
		return o.failAttempt(logger, attempt, "image render", err), nil
	}
	attempt.RenderedImage = rendered

	validateCtx, cancel := context.WithTimeout(ctx, o.cfg.ValidateTimeout)
	verdict, err := o.validator.Validate(validateCtx, job.OriginalImage, rendered, params)
	cancel()
	if err != nil {
		return o.failAttempt(logger, attempt, "validation", err), nil
	}
	attempt.Validation = &verdict
	attempt.Status = model.AttemptStamp{Status: model.AttemptStatusCompleted, Timestamp: o.now()}

	if logger != nil {
		logger.Info("attempt finished",
			"attempt", index,
			"valid", verdict.Valid,
			"score", verdict.Score,
			"issues", len(verdict.Issues),
		)
	}
	return attempt, rendered
}

func (o *Orchestrator) failAttempt(logger *slog.Logger, attempt model.Attempt, step string, err error) model.Attempt {
	attempt.Error = err.Error()
	attempt.Status = model.AttemptStamp{Status: model.AttemptStatusFailed, Timestamp: o.now()}
	if logger != nil {
		logger.Warn("attempt step failed", "attempt", attempt.Index, "step", step, "error", err)
	}
	return attempt
}

// completeJob persists the terminal success: status, attempt history, merged
// parameters, and the validated final image in one atomic update.
func (o *Orchestrator) completeJob(
	ctx context.Context,
	logger *slog.Logger,
	jobID string,
	params model.Parameters,
	attempts []model.Attempt,
	finalImage []byte,
) {
	upd := model.JobUpdate{
		Status:     &model.StatusStamp{Status: model.JobStatusCompleted, Timestamp: o.now()},
		Parameters: params,
		Attempts:   attempts,
		FinalImage: finalImage,
	}
	if err := o.persistTerminal(ctx, jobID, upd); err != nil {
		if logger != nil {
			logger.Error("failed to persist completed job, result lost", "error", err)
		}
		return
	}
	if logger != nil {
		logger.Info("job completed", "attempts", len(attempts))
	}
}

// failJob persists the terminal failure first, then attaches the analyst
// report in a second write. The failed status must be durable even when
// report generation misbehaves.
func (o *Orchestrator) failJob(
	ctx context.Context,
	logger *slog.Logger,
	jobID string,
	params model.Parameters,
	attempts []model.Attempt,
) {
	upd := model.JobUpdate{
		Status:     &model.StatusStamp{Status: model.JobStatusFailed, Timestamp: o.now()},
		Parameters: params,
		Attempts:   attempts,
	}
	if err := o.persistTerminal(ctx, jobID, upd); err != nil {
		if logger != nil {
			logger.Error("failed to persist failed job", "error", err)
		}
		return
	}
	if logger != nil {
		logger.Info("job failed, all attempts exhausted", "attempts", len(attempts))
	}

	job, err := o.store.Get(context.WithoutCancel(ctx), jobID)
	if err != nil {
		if logger != nil {
			logger.Error("failed to reload job for report generation", "error", err)
		}
		return
	}

	reportCtx, cancel := context.WithTimeout(ctx, o.cfg.ReportTimeout)
	report, err := o.reports.Generate(reportCtx, job)
	cancel()
	if err != nil && logger != nil {
		logger.Warn("report generation degraded", "error", err)
	}

	if err := o.persistTerminal(ctx, jobID, model.JobUpdate{Report: &report}); err != nil {
		if logger != nil {
			logger.Error("failed to persist failure report", "error", err)
		}
		return
	}
	if logger != nil {
		logger.Info("failure report persisted", "unparsed", report.Unparsed)
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	return o.store.Update(ctx, jobID, model.JobUpdate{
		Status: &model.StatusStamp{Status: status, Timestamp: o.now()},
	})
}

// persistProgress saves intermediate attempt history between attempts. A
// failure here is logged and swallowed: the loop keeps going and the next
// write carries the full history anyway.
func (o *Orchestrator) persistProgress(
	ctx context.Context,
	logger *slog.Logger,
	jobID string,
	params model.Parameters,
	attempts []model.Attempt,
) {
	err := o.store.Update(ctx, jobID, model.JobUpdate{
		Parameters: params,
		Attempts:   attempts,
	})
	if err != nil && logger != nil {
		logger.Warn("failed to persist attempt progress", "error", err)
	}
}

// persistTerminal writes a job's terminal state with bounded retries. The
// write is detached from the job context so an in-flight shutdown cannot
// strand a finished job in processing status.
func (o *Orchestrator) persistTerminal(ctx context.Context, jobID string, upd model.JobUpdate) error {
	writeCtx := context.WithoutCancel(ctx)

	backoff := o.cfg.StoreRetryBackoff
	var lastErr error
	for i := 0; i < o.cfg.StoreRetryAttempts; i++ {
		if i > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		if lastErr = o.store.Update(writeCtx, jobID, upd); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (o *Orchestrator) now() time.Time {
	return o.timeProvider.Now().UTC()
}
