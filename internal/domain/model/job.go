// Package model defines the core data types used throughout the portrait job system.
package model

import (
	"errors"
	"time"
)

// JobStatus represents the overall status of a generation job.
type JobStatus string

// AttemptStatus represents the status of a single generation attempt.
type AttemptStatus string

const (
	// JobStatusPending indicates a job has been created but not yet picked up.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates the orchestrator is actively driving the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates a validated final image was produced.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates all attempts were exhausted without a valid result.
	JobStatusFailed JobStatus = "failed"

	// AttemptStatusProcessing indicates the attempt is in flight.
	AttemptStatusProcessing AttemptStatus = "processing"
	// AttemptStatusCompleted indicates the attempt ran prompt, render, and
	// validation to the end, regardless of the verdict.
	AttemptStatusCompleted AttemptStatus = "completed"
	// AttemptStatusFailed indicates a step of the attempt errored.
	AttemptStatusFailed AttemptStatus = "failed"
)

// Valid returns true if the JobStatus is one of the known states.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusProcessing ||
		s == JobStatusCompleted || s == JobStatusFailed
}

// Terminal returns true once no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// StatusStamp pairs a status value with the moment it was entered.
type StatusStamp struct {
	Status    JobStatus `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// AttemptStamp pairs an attempt status with the moment it was entered.
type AttemptStamp struct {
	Status    AttemptStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// Attempt records one iteration of the prompt -> render -> validate loop.
// Attempts are append-only: once persisted with a terminal status they are
// never mutated.
type Attempt struct {
	Index         int          `json:"index"`
	Prompt        string       `json:"prompt,omitempty"`
	RenderedImage []byte       `json:"rendered_image,omitempty"`
	Validation    *Verdict     `json:"validation,omitempty"`
	Status        AttemptStamp `json:"status"`
	Error         string       `json:"error,omitempty"`
}

// Job is one end-to-end request to produce a validated generated image from a
// reference image and a parameters document.
type Job struct {
	ID            string      `json:"job_id"`
	OriginalImage []byte      `json:"original_image,omitempty"`
	Parameters    Parameters  `json:"parameters"`
	CurrentStatus StatusStamp `json:"current_status"`
	Attempts      []Attempt   `json:"attempts"`
	FinalImage    []byte      `json:"final_image,omitempty"`
	Report        *Report     `json:"report,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Validate checks the structural invariants required before a job is persisted.
func (j *Job) Validate() error {
	if j.ID == "" {
		return errors.New("job id is required")
	}
	if len(j.OriginalImage) == 0 {
		return errors.New("original image is required")
	}
	if !j.CurrentStatus.Status.Valid() {
		return errors.New("invalid job status")
	}
	return nil
}

// Redacted returns a copy of the job with all binary payloads stripped.
// Status and list endpoints must never transmit raw image bytes.
func (j *Job) Redacted() *Job {
	out := *j
	out.OriginalImage = nil
	out.FinalImage = nil
	out.Parameters = j.Parameters.Clone()
	if len(j.Attempts) > 0 {
		out.Attempts = make([]Attempt, len(j.Attempts))
		copy(out.Attempts, j.Attempts)
		for i := range out.Attempts {
			out.Attempts[i].RenderedImage = nil
		}
	}
	return &out
}

// JobUpdate describes a partial update to a persisted job. Nil fields are
// left untouched; the store applies the whole update atomically and refreshes
// updated_at.
type JobUpdate struct {
	Status     *StatusStamp
	Parameters Parameters
	Attempts   []Attempt
	FinalImage []byte
	Report     *Report
}

// Empty returns true if the update would change nothing.
func (u *JobUpdate) Empty() bool {
	return u.Status == nil && u.Parameters == nil && u.Attempts == nil &&
		u.FinalImage == nil && u.Report == nil
}

// StoreStats summarises the contents of the job store.
type StoreStats struct {
	TotalJobs  int64 `json:"total_jobs"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}
