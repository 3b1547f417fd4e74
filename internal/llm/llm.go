// Package llm holds the provider-neutral request and response types shared by
// the vision and text model clients.
package llm

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Provider is the interface for any model backend.
type Provider interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Image is an inline image attached to a request.
type Image struct {
	MediaType string
	Data      []byte
}

// Request is a single-turn structured generation request. The model is asked
// to answer with JSON matching Schema.
type Request struct {
	System      string
	Prompt      string
	Images      []Image
	SchemaName  string
	Schema      map[string]any
	MaxTokens   int
	Temperature *float64 // nil = model default
}

// Response carries the raw JSON answer and accounting.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Usage is token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SchemaFor reflects T into an inline JSON schema object with no
// additional properties allowed.
func SchemaFor[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// Temp returns a pointer to t for Request.Temperature.
func Temp(t float64) *float64 {
	return &t
}

// Hooks receives per-call events from the analyzer and generator. Nil
// fields are skipped.
type Hooks struct {
	OnAttempt  func(stage, outcome string, duration float64)
	OnUsage    func(model string, inputTokens, outputTokens int)
	OnFallback func(stage string)
}

// Attempt invokes OnAttempt if set.
func (h Hooks) Attempt(stage, outcome string, duration float64) {
	if h.OnAttempt != nil {
		h.OnAttempt(stage, outcome, duration)
	}
}

// Used invokes OnUsage if set.
func (h Hooks) Used(model string, u Usage) {
	if h.OnUsage != nil {
		h.OnUsage(model, u.InputTokens, u.OutputTokens)
	}
}

// Fallback invokes OnFallback if set.
func (h Hooks) Fallback(stage string) {
	if h.OnFallback != nil {
		h.OnFallback(stage)
	}
}
