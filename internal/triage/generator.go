// Package triage turns stored observations and the owner's answers into a
// triage summary using a text model.
package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/dogtor/internal/cases"
	"github.com/linnemanlabs/dogtor/internal/llm"
	"github.com/linnemanlabs/dogtor/internal/retry"
)

const (
	stage = "triage"

	schemaName     = "triage_summary"
	responseTokens = 1000
	temperature    = 0.3

	fallbackSummary = "We couldn't complete AI triage right now. Please monitor your dog's hydration and contact a veterinarian if symptoms persist >48 hours or worsen."
)

var (
	// ErrEmptyResponse is returned when the model answered with no content.
	ErrEmptyResponse = errors.New("triage: empty model response")

	// ErrEmptySummary is returned when the summary text is blank.
	ErrEmptySummary = errors.New("triage: empty summary")

	// ErrInvalidUrgency is returned when urgency_level is not Low, Moderate or High.
	ErrInvalidUrgency = errors.New("triage: invalid urgency level")
)

// generated is the shape the model is asked to produce. Meta is set only by
// the fallback, so it is not part of the schema.
type generated struct {
	Summary            string   `json:"triage_summary"`
	PossibleCauses     []string `json:"possible_causes"`
	RecommendedActions []string `json:"recommended_actions"`
	UrgencyLevel       string   `json:"urgency_level" jsonschema:"enum=Low,enum=Moderate,enum=High"`
}

var summarySchema = llm.SchemaFor[generated]()

// Options tunes a Generator. Zero values select defaults.
type Options struct {
	Policy retry.Policy
	Hooks  llm.Hooks
}

// Generator implements cases.Generator on a text llm.Provider.
type Generator struct {
	provider llm.Provider
	logger   log.Logger
	policy   retry.Policy
	hooks    llm.Hooks
}

// New creates a Generator around provider.
func New(provider llm.Provider, logger log.Logger, opts Options) *Generator {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.DefaultPolicy
	}
	return &Generator{
		provider: llm.Traced(provider, stage),
		logger:   logger,
		policy:   opts.Policy,
		hooks:    opts.Hooks,
	}
}

// Generate asks the model for a triage summary. Exhausted retries return
// Fallback with degraded set and a nil error.
func (g *Generator) Generate(ctx context.Context, obs cases.Observations, answers map[string]any) (*cases.TriageSummary, bool, error) {
	L := g.logger.With("stage", stage)

	prompt, err := buildPrompt(obs, answers)
	if err != nil {
		return nil, false, err
	}

	req := &llm.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		SchemaName:  schemaName,
		Schema:      summarySchema,
		MaxTokens:   responseTokens,
		Temperature: llm.Temp(temperature),
	}

	res, attempts, err := retry.Do(ctx, g.policy, func(ctx context.Context) (*cases.TriageSummary, error) {
		resp, err := g.provider.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		g.hooks.Used(resp.Model, resp.Usage)
		return parse(resp.Content)
	})

	for _, at := range attempts {
		g.hooks.Attempt(stage, string(at.Outcome), at.Duration.Seconds())
		if at.Err != nil {
			L.Warn(ctx, "triage attempt failed", "attempt", at.Number, "outcome", string(at.Outcome), "error", at.Err)
		}
	}

	out, degraded := retry.OrFallback(res, err, Fallback)
	if degraded {
		L.Error(ctx, err, "triage generation failed, using fallback summary", "attempts", len(attempts))
		g.hooks.Fallback(stage)
	} else {
		L.Info(ctx, "triage generation succeeded", "attempts", len(attempts), "urgency", out.UrgencyLevel)
	}
	return out, degraded, nil
}

func buildPrompt(obs cases.Observations, answers map[string]any) (string, error) {
	o, err := json.Marshal(obs)
	if err != nil {
		return "", fmt.Errorf("encode observations: %w", err)
	}
	if answers == nil {
		answers = map[string]any{}
	}
	a, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}
	return fmt.Sprintf(promptTemplate, o, a), nil
}

func parse(content string) (*cases.TriageSummary, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyResponse
	}

	var g generated
	if err := json.Unmarshal([]byte(content), &g); err != nil {
		return nil, fmt.Errorf("decode triage: %w", err)
	}
	if strings.TrimSpace(g.Summary) == "" {
		return nil, ErrEmptySummary
	}
	urgency := cases.Urgency(g.UrgencyLevel)
	if !urgency.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUrgency, g.UrgencyLevel)
	}

	return &cases.TriageSummary{
		Summary:            g.Summary,
		PossibleCauses:     nonNil(g.PossibleCauses),
		RecommendedActions: nonNil(g.RecommendedActions),
		UrgencyLevel:       urgency,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Fallback returns the fixed summary used when the model is unavailable.
func Fallback() *cases.TriageSummary {
	return &cases.TriageSummary{
		Summary:        fallbackSummary,
		PossibleCauses: []string{"Unable to determine at this time"},
		RecommendedActions: []string{
			"Monitor your dog's hydration and appetite",
			"Contact a veterinarian if symptoms persist beyond 48 hours",
			"Seek immediate veterinary care if symptoms worsen",
		},
		UrgencyLevel: cases.UrgencyModerate,
		Meta:         &cases.TriageMeta{Error: true},
	}
}
