package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/apexgen/jobmanager/internal/core"
	"github.com/apexgen/jobmanager/internal/domain/model"
	apperrors "github.com/apexgen/jobmanager/internal/errors"
)

const reportSystemPrompt = `You are an AI portrait generation analyst. Create a detailed failure report including:
- "summary": string (brief failure summary)
- "attempt_analysis": list of objects (each with attempt number, issues, score)
- "root_causes": list of strings (probable root causes)
- "recommendations": list of strings (suggested improvements)`

const reportUserTemplate = `Analyze this failed portrait generation job (ID: %s).
Parameters: %s

Attempt history:
%s`

// ReportServiceOptions groups dependencies for ReportService.
type ReportServiceOptions struct {
	Completion core.CompletionService // Required: completion backend
	Logger     *slog.Logger           // Optional: structured logger
}

// ReportService summarises a failed job's attempt history into a failure
// report. It implements core.ReportGenerator.
//
// Generate always returns a usable report. When the analyst call fails or
// its response cannot be parsed, the returned report is the degraded
// fallback and the error describes why.
type ReportService struct {
	completion core.CompletionService
	logger     *slog.Logger
}

// NewReportService constructs a new ReportService.
func NewReportService(opts ReportServiceOptions) (*ReportService, error) {
	if opts.Completion == nil {
		return nil, errors.New("CompletionService is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "report_service")
	}

	return &ReportService{
		completion: opts.Completion,
		logger:     logger,
	}, nil
}

// Generate asks the analyst model for a failure report over the job's attempt
// history. Rendered image bytes are stripped before the history is embedded;
// only prompts, verdicts, and step errors inform the analysis.
func (s *ReportService) Generate(ctx context.Context, job *model.Job) (model.Report, error) {
	redacted := job.Redacted()

	history, err := json.MarshalIndent(redacted.Attempts, "", "  ")
	if err != nil {
		history = []byte("[]")
	}

	messages := []core.ChatMessage{
		{Role: core.RoleSystem, Text: reportSystemPrompt},
		{
			Role: core.RoleUser,
			Text: fmt.Sprintf(reportUserTemplate, job.ID, indentedJSON(job.Parameters), history),
		},
	}

	response, err := s.completion.Complete(ctx, messages)
	if err != nil {
		return model.Report{
			Summary:  "Failed to generate report",
			Unparsed: true,
		}, apperrors.ReportGenerationError(upstreamStatus(err), "report generation call failed", err)
	}

	report, ok := parseReport(response)
	if !ok {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "unparseable report response, keeping raw text",
				"job_id", job.ID,
				"response_length", len(response),
			)
		}
		return model.Report{
			Summary:  "Failed to generate report",
			Unparsed: true,
			Raw:      response,
		}, apperrors.ReportGenerationError(0, "unparseable analyst response", nil)
	}
	return report, nil
}

func parseReport(response string) (model.Report, bool) {
	doc, ok := extractJSONObject(response)
	if !ok {
		return model.Report{}, false
	}
	var r model.Report
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return model.Report{}, false
	}
	return r, true
}
