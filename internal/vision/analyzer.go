// Package vision reads a stored stool image with a vision model and returns
// structured observations plus the follow-up questions for the owner.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/dogtor/internal/cases"
	"github.com/linnemanlabs/dogtor/internal/llm"
	"github.com/linnemanlabs/dogtor/internal/retry"
)

const (
	stage = "analysis"

	toolName         = "record_observations"
	responseTokens   = 1024
	defaultMaxBytes  = 20 << 20
	fetchTimeout     = 15 * time.Second

	fallbackNotes = "Vision unavailable; using defaults."
)

var (
	// ErrEmptyResponse is returned when the model answered with no content.
	ErrEmptyResponse = errors.New("vision: empty model response")

	// ErrInvalidObservations is returned when an enumerated field is out of range.
	ErrInvalidObservations = errors.New("vision: observation value out of range")

	// ErrImageTooLarge is returned when the fetched image exceeds the byte cap.
	ErrImageTooLarge = errors.New("vision: image exceeds size limit")

	// ErrUnsupportedImage is returned when the fetched bytes are not a JPEG,
	// PNG, GIF or WebP image.
	ErrUnsupportedImage = errors.New("vision: unsupported image format")
)

// FetchError is returned when the stored image could not be downloaded.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch image %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch image %s: status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

var observationSchema = llm.SchemaFor[cases.ObservationResult]()

// Options tunes an Analyzer. Zero values select defaults.
type Options struct {
	Policy        retry.Policy
	Hooks         llm.Hooks
	HTTPClient    *http.Client
	MaxImageBytes int64
}

// Analyzer implements cases.Analyzer on a vision-capable llm.Provider.
type Analyzer struct {
	provider llm.Provider
	logger   log.Logger
	policy   retry.Policy
	hooks    llm.Hooks
	client   *http.Client
	maxBytes int64
}

// New creates an Analyzer around provider.
func New(provider llm.Provider, logger log.Logger, opts Options) *Analyzer {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.DefaultPolicy
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: fetchTimeout}
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = defaultMaxBytes
	}
	return &Analyzer{
		provider: llm.Traced(provider, stage),
		logger:   logger,
		policy:   opts.Policy,
		hooks:    opts.Hooks,
		client:   opts.HTTPClient,
		maxBytes: opts.MaxImageBytes,
	}
}

// Analyze fetches the image and asks the model for observations. A failed
// fetch or exhausted retries return Fallback with degraded set and a nil error.
func (a *Analyzer) Analyze(ctx context.Context, imageURL string) (*cases.ObservationResult, bool, error) {
	L := a.logger.With("stage", stage, "image_url", imageURL)

	img, err := a.fetch(ctx, imageURL)
	if err != nil {
		L.Error(ctx, err, "image fetch failed, using fallback observations")
		a.hooks.Fallback(stage)
		return Fallback(), true, nil
	}

	req := &llm.Request{
		System:     systemPrompt,
		Prompt:     userPrompt,
		Images:     []llm.Image{img},
		SchemaName: toolName,
		Schema:     observationSchema,
		MaxTokens:  responseTokens,
	}

	res, attempts, err := retry.Do(ctx, a.policy, func(ctx context.Context) (*cases.ObservationResult, error) {
		resp, err := a.provider.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		a.hooks.Used(resp.Model, resp.Usage)
		return a.parse(ctx, L, resp.Content)
	})

	for _, at := range attempts {
		a.hooks.Attempt(stage, string(at.Outcome), at.Duration.Seconds())
		if at.Err != nil {
			L.Warn(ctx, "vision attempt failed", "attempt", at.Number, "outcome", string(at.Outcome), "error", at.Err)
		}
	}

	out, degraded := retry.OrFallback(res, err, Fallback)
	if degraded {
		L.Error(ctx, err, "vision analysis failed, using fallback observations", "attempts", len(attempts))
		a.hooks.Fallback(stage)
	} else {
		L.Info(ctx, "vision analysis succeeded", "attempts", len(attempts))
	}
	return out, degraded, nil
}

func (a *Analyzer) parse(ctx context.Context, L log.Logger, content string) (*cases.ObservationResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyResponse
	}

	var res cases.ObservationResult
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		return nil, fmt.Errorf("decode observations: %w", err)
	}
	if !res.Observations.Valid() {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidObservations, res.Observations)
	}
	if !cases.HasCanonicalQuestions(res.Questions) {
		L.Warn(ctx, "model returned non-canonical questions, replacing", "count", len(res.Questions))
		res.Questions = cases.CanonicalQuestions()
	}
	return &res, nil
}

func (a *Analyzer) fetch(ctx context.Context, imageURL string) (llm.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return llm.Image{}, &FetchError{URL: imageURL, Err: err}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return llm.Image{}, &FetchError{URL: imageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return llm.Image{}, &FetchError{URL: imageURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBytes+1))
	if err != nil {
		return llm.Image{}, &FetchError{URL: imageURL, StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(data)) > a.maxBytes {
		return llm.Image{}, &FetchError{URL: imageURL, StatusCode: resp.StatusCode, Err: ErrImageTooLarge}
	}
	if len(data) == 0 {
		return llm.Image{}, &FetchError{URL: imageURL, StatusCode: resp.StatusCode, Err: io.ErrUnexpectedEOF}
	}

	mt, ok := mediaType(data)
	if !ok {
		return llm.Image{}, &FetchError{URL: imageURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %s", ErrUnsupportedImage, mt)}
	}
	return llm.Image{MediaType: mt, Data: data}, nil
}

// mediaType sniffs the image format. ok is false for anything the vision
// model does not accept.
func mediaType(data []byte) (string, bool) {
	ct := http.DetectContentType(data)
	switch ct {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return ct, true
	}
	return ct, false
}

// Fallback returns the fixed observations used when the model is unavailable.
func Fallback() *cases.ObservationResult {
	return &cases.ObservationResult{
		Observations: cases.Observations{
			Consistency:     "unknown",
			Color:           "unknown",
			Mucus:           false,
			Blood:           "none",
			ForeignMaterial: "unknown",
			Notes:           fallbackNotes,
		},
		Questions: cases.CanonicalQuestions(),
	}
}
