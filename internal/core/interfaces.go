// Package core defines the capability interfaces the orchestrator is wired
// against. Implementations live in internal/data and internal/adapters.
package core

import (
	"context"
	"time"

	"github.com/apexgen/jobmanager/internal/domain/model"
)

// JobStore is the durable keyed record storage contract. Two implementations
// exist: the Postgres store and the in-process fallback selected at startup
// when the database is unreachable. Behavior is observably identical to
// callers; every successful Update is visible to subsequent Get calls.
type JobStore interface {
	// Create persists a new job, failing with a conflict error when the id
	// already exists.
	Create(ctx context.Context, job *model.Job) error
	// Get returns the job or a not-found error.
	Get(ctx context.Context, id string) (*model.Job, error)
	// Update merges the given fields into the existing record atomically and
	// refreshes updated_at. Fails with a not-found error when absent.
	Update(ctx context.Context, id string, upd model.JobUpdate) error
	// List returns all jobs ordered by creation time, newest first.
	List(ctx context.Context) ([]*model.Job, error)
	// Delete removes a job record.
	Delete(ctx context.Context, id string) error
	// Stats summarises stored jobs by status.
	Stats(ctx context.Context) (model.StoreStats, error)
	// FailStuckProcessing re-fails processing jobs that have not been touched
	// for maxAge, attaching the given report. Returns the ids it re-failed.
	FailStuckProcessing(ctx context.Context, maxAge time.Duration, report *model.Report) ([]string, error)
	// Ping reports backend reachability.
	Ping(ctx context.Context) error
	// Name identifies the backing implementation for health reporting.
	Name() string
}

// ChatMessage is one role-tagged message sent to the completion service.
// User messages may embed one or more inline images alongside the text.
type ChatMessage struct {
	Role   string
	Text   string
	Images [][]byte
}

// Chat message roles understood by the completion service.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// CompletionService is the text/vision completion collaborator. It returns
// free text that may contain embedded structured data.
type CompletionService interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
	// Healthy reports best-effort reachability of the service.
	Healthy(ctx context.Context) error
}

// RenderService is the image-generation collaborator. A single render call
// per attempt; retries are the orchestrator's responsibility.
type RenderService interface {
	Render(ctx context.Context, image []byte, prompt string) ([]byte, error)
	// Healthy reports best-effort reachability of the service.
	Healthy(ctx context.Context) error
}

// PromptGenerator produces a generation prompt from the reference image and
// the current parameters.
type PromptGenerator interface {
	GeneratePrompt(ctx context.Context, image []byte, params model.Parameters) (string, error)
}

// ResultValidator scores a rendered image against the original and the
// parameters, returning a structured verdict.
type ResultValidator interface {
	Validate(ctx context.Context, original, rendered []byte, params model.Parameters) (model.Verdict, error)
}

// ReportGenerator summarises a failed job's attempt history. It always
// returns a usable report; a non-nil error only signals that the report is
// the degraded fallback.
type ReportGenerator interface {
	Generate(ctx context.Context, job *model.Job) (model.Report, error)
}

// ResultCache caches immutable terminal artifacts (final images and failure
// reports) so result queries avoid repeated store reads. A nil-safe no-op
// implementation is used when Redis is not configured.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
