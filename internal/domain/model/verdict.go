package model

// Verdict is the validator's structured judgment of a rendered image.
type Verdict struct {
	Valid       bool     `json:"valid"`
	Score       int      `json:"score"`
	Issues      []string `json:"issues"`
	TunedPrompt string   `json:"tuned_prompt"`
}

// FallbackVerdict is the deterministic verdict returned when the validator's
// free-text response cannot be parsed. It keeps the retry loop able to
// proceed with a decision object instead of propagating a parse error.
func FallbackVerdict() Verdict {
	return Verdict{
		Valid:       false,
		Score:       0,
		Issues:      []string{"Validation failed"},
		TunedPrompt: "",
	}
}

// AttemptAnalysis is the per-attempt entry of a failure report.
type AttemptAnalysis struct {
	Attempt int      `json:"attempt"`
	Score   int      `json:"score"`
	Issues  []string `json:"issues"`
}

// Report is the failure analysis produced after all attempts are exhausted.
// When the analyst response could not be parsed, Unparsed is set and Raw
// carries the original text so the job is never left without a report.
type Report struct {
	Summary         string            `json:"summary"`
	AttemptAnalysis []AttemptAnalysis `json:"attempt_analysis,omitempty"`
	RootCauses      []string          `json:"root_causes,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
	Unparsed        bool              `json:"unparsed,omitempty"`
	Raw             string            `json:"raw_response,omitempty"`
}
