package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgen/jobmanager/internal/core"
	"github.com/apexgen/jobmanager/internal/domain/model"
	apperrors "github.com/apexgen/jobmanager/internal/errors"
)

// fakeCompletion is a scripted completion backend. Responses are consumed in
// call order; the last one repeats once the script runs out.
type fakeCompletion struct {
	responses []string
	err       error
	calls     [][]core.ChatMessage
}

func (f *fakeCompletion) Complete(_ context.Context, messages []core.ChatMessage) (string, error) {
	f.calls = append(f.calls, messages)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	i := len(f.calls) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func (f *fakeCompletion) Healthy(context.Context) error { return nil }

// statusErr mimics a transport error that recorded an upstream status code.
type statusErr struct{ status int }

func (e *statusErr) Error() string   { return "upstream unhappy" }
func (e *statusErr) HTTPStatus() int { return e.status }

func TestGeneratePrompt(t *testing.T) {
	completion := &fakeCompletion{responses: []string{"  a moody studio portrait, 85mm  "}}
	svc, err := NewPromptService(PromptServiceOptions{Completion: completion})
	require.NoError(t, err)

	image := []byte("reference-image")
	params := model.Parameters{"style": "noir", "mood": "dramatic"}

	prompt, err := svc.GeneratePrompt(context.Background(), image, params)
	require.NoError(t, err)
	assert.Equal(t, "a moody studio portrait, 85mm", prompt)

	require.Len(t, completion.calls, 1)
	msgs := completion.calls[0]
	require.Len(t, msgs, 2)

	assert.Equal(t, core.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Text, `"style": "noir"`)
	assert.Empty(t, msgs[0].Images)

	assert.Equal(t, core.RoleUser, msgs[1].Role)
	require.Len(t, msgs[1].Images, 1)
	assert.Equal(t, image, msgs[1].Images[0])
}

func TestGeneratePromptCallFailure(t *testing.T) {
	completion := &fakeCompletion{err: &statusErr{status: 503}}
	svc, err := NewPromptService(PromptServiceOptions{Completion: completion})
	require.NoError(t, err)

	_, err = svc.GeneratePrompt(context.Background(), []byte("img"), model.Parameters{})
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstream(err, apperrors.UpstreamPromptGeneration))

	var ue *apperrors.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 503, ue.Status)
}

func TestGeneratePromptEmptyResponse(t *testing.T) {
	completion := &fakeCompletion{responses: []string{"   "}}
	svc, err := NewPromptService(PromptServiceOptions{Completion: completion})
	require.NoError(t, err)

	_, err = svc.GeneratePrompt(context.Background(), []byte("img"), model.Parameters{})
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstream(err, apperrors.UpstreamPromptGeneration))
}

func TestNewPromptServiceRequiresCompletion(t *testing.T) {
	_, err := NewPromptService(PromptServiceOptions{})
	assert.Error(t, err)
}
