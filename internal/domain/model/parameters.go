package model

import (
	"bytes"
	"encoding/json"
	"errors"
)

// PromptParameterKey is the parameters key the validator's tuned prompt is
// merged under between attempts.
const PromptParameterKey = "prompt"

// Parameters is the mutable generation parameter document attached to a job.
// Values come from the caller as arbitrary JSON; merge semantics between
// attempts are a shallow overwrite of the prompt key only.
type Parameters map[string]any

// ParseParameters decodes a JSON document into Parameters. The document must
// be a JSON object.
func ParseParameters(raw []byte) (Parameters, error) {
	if len(raw) == 0 {
		return Parameters{}, nil
	}
	var p Parameters
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, errors.New("parameters must be a JSON object")
	}
	if p == nil {
		return nil, errors.New("parameters must be a JSON object")
	}
	return p, nil
}

// Clone returns a shallow copy safe for per-attempt mutation of top-level keys.
func (p Parameters) Clone() Parameters {
	if p == nil {
		return nil
	}
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ApplyTunedPrompt merges a validator-suggested prompt into the parameters
// under the prompt key. Empty suggestions are ignored.
func (p Parameters) ApplyTunedPrompt(tuned string) bool {
	if tuned == "" {
		return false
	}
	p[PromptParameterKey] = tuned
	return true
}

// JSON renders the parameters as a compact JSON document for embedding into
// model prompts and persisted records.
func (p Parameters) JSON() []byte {
	if p == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return []byte("{}")
	}
	return b
}
