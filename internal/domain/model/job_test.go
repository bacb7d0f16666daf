package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestJobValidate(t *testing.T) {
	job := &Job{
		ID:            "job-1",
		OriginalImage: []byte{0x01},
		CurrentStatus: StatusStamp{Status: JobStatusPending, Timestamp: time.Now()},
	}
	require.NoError(t, job.Validate())

	missingImage := &Job{ID: "job-2", CurrentStatus: StatusStamp{Status: JobStatusPending}}
	assert.Error(t, missingImage.Validate())

	badStatus := &Job{ID: "job-3", OriginalImage: []byte{0x01}, CurrentStatus: StatusStamp{Status: "bogus"}}
	assert.Error(t, badStatus.Validate())
}

func TestJobRedactedStripsBinaryFields(t *testing.T) {
	job := &Job{
		ID:            "job-1",
		OriginalImage: []byte("original"),
		FinalImage:    []byte("final"),
		Parameters:    Parameters{"style": "portrait"},
		Attempts: []Attempt{
			{Index: 1, Prompt: "p1", RenderedImage: []byte("rendered")},
		},
		CurrentStatus: StatusStamp{Status: JobStatusCompleted},
	}

	got := job.Redacted()

	assert.Nil(t, got.OriginalImage)
	assert.Nil(t, got.FinalImage)
	require.Len(t, got.Attempts, 1)
	assert.Nil(t, got.Attempts[0].RenderedImage)
	assert.Equal(t, "p1", got.Attempts[0].Prompt)

	// The source job must remain untouched.
	assert.Equal(t, []byte("original"), job.OriginalImage)
	assert.Equal(t, []byte("rendered"), job.Attempts[0].RenderedImage)
}

func TestParseParameters(t *testing.T) {
	p, err := ParseParameters([]byte(`{"style":"portrait","seed":42}`))
	require.NoError(t, err)
	assert.Equal(t, "portrait", p["style"])

	_, err = ParseParameters([]byte(`[1,2,3]`))
	assert.Error(t, err)

	_, err = ParseParameters([]byte(`not json`))
	assert.Error(t, err)

	empty, err := ParseParameters(nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
}

func TestParametersApplyTunedPrompt(t *testing.T) {
	p := Parameters{"style": "portrait"}

	assert.False(t, p.ApplyTunedPrompt(""))
	_, ok := p[PromptParameterKey]
	assert.False(t, ok)

	assert.True(t, p.ApplyTunedPrompt("add soft lighting"))
	assert.Equal(t, "add soft lighting", p[PromptParameterKey])

	clone := p.Clone()
	clone["style"] = "landscape"
	assert.Equal(t, "portrait", p["style"])
}

func TestFallbackVerdict(t *testing.T) {
	v := FallbackVerdict()
	assert.False(t, v.Valid)
	assert.Zero(t, v.Score)
	assert.Equal(t, []string{"Validation failed"}, v.Issues)
	assert.Empty(t, v.TunedPrompt)
}
