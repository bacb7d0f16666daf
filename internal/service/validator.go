package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/apexgen/jobmanager/internal/core"
	"github.com/apexgen/jobmanager/internal/domain/model"
	apperrors "github.com/apexgen/jobmanager/internal/errors"
)

const validatorSystemTemplate = `You are an AI image quality validator. Your task is to evaluate a generated portrait against
the original image and generation parameters. Provide a JSON response with:
- "valid": boolean (true if image meets quality standards)
- "score": integer (1-100 quality score)
- "issues": list of strings (any quality issues found)
- "tuned_prompt": string (improved prompt for next attempt if needed)

Evaluation criteria:
1. Faithfulness to original facial features
2. Adherence to parameters: %s
3. Visual quality and artifacts
4. Composition and aesthetics`

const validatorUserTemplate = `Please evaluate the generated portrait image based on the original reference image and
the following parameters: %s`

// ValidatorServiceOptions groups dependencies for ValidatorService.
type ValidatorServiceOptions struct {
	Completion core.CompletionService // Required: completion backend
	Logger     *slog.Logger           // Optional: structured logger
}

// ValidatorService scores a rendered image against the original via the
// completion service. It implements core.ResultValidator.
//
// A downstream call failure is returned as an error. An unparseable model
// response is NOT an error: the deterministic fallback verdict is returned so
// the attempt loop always has a decision object to act on.
type ValidatorService struct {
	completion core.CompletionService
	logger     *slog.Logger
}

// NewValidatorService constructs a new ValidatorService.
func NewValidatorService(opts ValidatorServiceOptions) (*ValidatorService, error) {
	if opts.Completion == nil {
		return nil, errors.New("CompletionService is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "validator_service")
	}

	return &ValidatorService{
		completion: opts.Completion,
		logger:     logger,
	}, nil
}

// Validate sends both images to the completion service and parses the
// structured verdict out of its free-text response.
func (s *ValidatorService) Validate(ctx context.Context, original, rendered []byte, params model.Parameters) (model.Verdict, error) {
	messages := []core.ChatMessage{
		{
			Role: core.RoleSystem,
			Text: fmt.Sprintf(validatorSystemTemplate, indentedJSON(params)),
		},
		{
			Role:   core.RoleUser,
			Text:   fmt.Sprintf(validatorUserTemplate, string(params.JSON())),
			Images: [][]byte{original, rendered},
		},
	}

	response, err := s.completion.Complete(ctx, messages)
	if err != nil {
		return model.Verdict{}, apperrors.ValidationServiceError(upstreamStatus(err), "validation call failed", err)
	}

	verdict, ok := parseVerdict(response)
	if !ok {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "unparseable validation response, using fallback verdict",
				"response_length", len(response),
			)
		}
		return model.FallbackVerdict(), nil
	}
	return verdict, nil
}

// parseVerdict extracts the verdict object from the model's response text.
// Models wrap JSON in prose and code fences, so the parse is scoped to the
// span between the first '{' and the last '}'.
func parseVerdict(response string) (model.Verdict, bool) {
	doc, ok := extractJSONObject(response)
	if !ok {
		return model.Verdict{}, false
	}
	var v model.Verdict
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return model.Verdict{}, false
	}
	return v, true
}

// extractJSONObject returns the substring between the first '{' and the last
// '}' of s, inclusive.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return s[start : end+1], true
}
