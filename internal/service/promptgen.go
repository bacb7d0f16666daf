// Package service implements the job orchestration loop and its
// collaborators: prompt generation, result validation, failure reporting,
// and the stuck-job reaper.
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

const promptSystemTemplate = `You are a professional portrait photographer assistant. Create detailed prompts for
portrait generation based on the reference image and these parameters:

Parameters:
%s

Prompt requirements:
1. Describe the person's appearance faithfully to the reference image
2. Incorporate all specified parameters
3. Add artistic details about lighting, mood, and background
4. Use 50-100 words`

const promptUserText = "Create a portrait generation prompt based on this reference image and the provided parameters."

// PromptServiceOptions groups dependencies for PromptService.
type PromptServiceOptions struct {
	Completion core.CompletionService // Required: completion backend
	Logger     *slog.Logger           // Optional: structured logger
}

// PromptService turns a reference image and a parameters document into a
// generation prompt via the completion service. It implements
// core.PromptGenerator.
type PromptService struct {
	completion core.CompletionService
	logger     *slog.Logger
}

// NewPromptService constructs a new PromptService.
func NewPromptService(opts PromptServiceOptions) (*PromptService, error) {
	if opts.Completion == nil {
		return nil, errors.New("CompletionService is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "prompt_service")
	}

	return &PromptService{
		completion: opts.Completion,
		logger:     logger,
	}, nil
}

// GeneratePrompt asks the completion service for a generation prompt. The
// parameters document is embedded into the system message and the reference
// image travels inline with the user message.
func (s *PromptService) GeneratePrompt(ctx context.Context, image []byte, params model.Parameters) (string, error) {
	messages := []core.ChatMessage{
		{
			Role: core.RoleSystem,
			Text: fmt.Sprintf(promptSystemTemplate, indentedJSON(params)),
		},
		{
			Role:   core.RoleUser,
			Text:   promptUserText,
			Images: [][]byte{image},
		},
	}

	response, err := s.completion.Complete(ctx, messages)
	if err != nil {
		return "", apperrors.GenerationServiceError(upstreamStatus(err), "prompt generation call failed", err)
	}

	prompt := strings.TrimSpace(response)
	if prompt == "" {
		return "", apperrors.GenerationServiceError(0, "completion returned an empty prompt", nil)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "prompt generated", "length", len(prompt))
	}
	return prompt, nil
}

// indentedJSON renders parameters for embedding into model instructions.
func indentedJSON(params model.Parameters) string {
	b, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// upstreamStatus pulls an HTTP status code out of a downstream call error
// when the transport recorded one.
func upstreamStatus(err error) int {
	var se interface{ HTTPStatus() int }
	if errors.As(err, &se) {
		return se.HTTPStatus()
	}
	return 0
}
