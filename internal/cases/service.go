package cases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Analyzer turns a stored image into observations and follow-up questions.
// degraded reports that the fixed fallback payload was returned.
type Analyzer interface {
	Analyze(ctx context.Context, imageURL string) (result *ObservationResult, degraded bool, err error)
}

// Generator turns observations and owner answers into a triage summary.
// degraded reports that the fixed fallback payload was returned.
type Generator interface {
	Generate(ctx context.Context, obs Observations, answers map[string]any) (summary *TriageSummary, degraded bool, err error)
}

// BlobStore persists uploaded image bytes and returns a retrievable URL.
type BlobStore interface {
	Put(ctx context.Context, data []byte, filenameHint string) (string, error)
}

// Notifier is told about cases that just closed.
type Notifier interface {
	Send(ctx context.Context, c *Case) error
}

// Upload is an image submitted by a client.
type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
}

// storedBasename prefixes the storage hint; only its extension reaches the blob name.
const storedBasename = "image."

// Service sequences the case lifecycle: upload, analysis, answers, triage.
type Service struct {
	store     Store
	blobs     BlobStore
	analyzer  Analyzer
	generator Generator
	logger    log.Logger
	metrics   *Metrics
	notifier  Notifier
	now       func() time.Time
}

// NewService creates a new case service. metrics and notifier may be nil.
func NewService(store Store, blobs BlobStore, analyzer Analyzer, generator Generator, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:     store,
		blobs:     blobs,
		analyzer:  analyzer,
		generator: generator,
		logger:    logger,
		metrics:   metrics,
		notifier:  notifier,
		now:       time.Now,
	}
}

// Create validates the upload, stores the image and opens a new case.
func (s *Service) Create(ctx context.Context, up Upload) (*Case, error) {
	start := time.Now()

	// validation happens before anything is written
	if !strings.HasPrefix(up.ContentType, "image/") {
		s.metrics.stage("upload", "invalid", start)
		return nil, &ValidationError{Reason: "file must be an image"}
	}
	if len(up.Data) == 0 {
		s.metrics.stage("upload", "invalid", start)
		return nil, &ValidationError{Reason: "empty file"}
	}

	ext, ok := sniffImage(up.Data)
	if !ok {
		s.metrics.stage("upload", "invalid", start)
		return nil, &ValidationError{Reason: "file must be a JPEG, PNG, GIF or WebP image"}
	}

	// a dropped client connection must not leave a stored blob without its case
	ctx = context.WithoutCancel(ctx)

	url, err := s.blobs.Put(ctx, up.Data, storedBasename+ext)
	if err != nil {
		s.metrics.stage("upload", "error", start)
		return nil, stageErr(CodeUploadFailed, fmt.Errorf("store image: %w", err))
	}

	c := &Case{
		ID:        ulid.Make().String(),
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
		ImageURL:  url,
		Status:    StatusOpen,
	}
	if err := s.store.Create(ctx, c); err != nil {
		s.metrics.stage("upload", "error", start)
		return nil, stageErr(CodeUploadFailed, fmt.Errorf("create case: %w", err))
	}

	s.metrics.upload(len(up.Data))
	s.metrics.stage("upload", "success", start)
	s.logger.Info(ctx, "case created", "case_id", c.ID, "image_url", url, "bytes", len(up.Data), "filename", up.Filename)
	return c, nil
}

// RunAnalysis reads the case image with the analyzer and stores the result.
// A fallback result is stored the same way as a real one.
func (s *Service) RunAnalysis(ctx context.Context, id string) (*ObservationResult, error) {
	start := time.Now()
	L := s.logger.With("case_id", id)

	c, err := s.mustGet(ctx, id, CodeAnalysisFailed)
	if err != nil {
		s.metrics.stage("analysis", outcomeOf(err), start)
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)

	res, degraded, err := s.analyzer.Analyze(ctx, c.ImageURL)
	if err != nil {
		s.metrics.stage("analysis", "error", start)
		return nil, stageErr(CodeAnalysisFailed, fmt.Errorf("analyze image: %w", err))
	}

	if _, err := s.store.SetObservations(ctx, id, res); err != nil {
		s.metrics.stage("analysis", outcomeOf(err), start)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, stageErr(CodeAnalysisFailed, fmt.Errorf("store observations: %w", err))
	}

	if degraded {
		L.Warn(ctx, "stored fallback observations")
	}
	s.metrics.stage("analysis", "success", start)
	L.Info(ctx, "observations stored", "degraded", degraded, "questions", len(res.Questions))
	return res, nil
}

// SubmitAnswers replaces the owner's answers. Answers are not checked against
// the question list.
func (s *Service) SubmitAnswers(ctx context.Context, id string, answers map[string]any) (*Case, error) {
	start := time.Now()

	if answers == nil {
		s.metrics.stage("answers", "invalid", start)
		return nil, &ValidationError{Reason: "answers must be a JSON object"}
	}

	c, err := s.store.SetAnswers(context.WithoutCancel(ctx), id, answers)
	if err != nil {
		s.metrics.stage("answers", outcomeOf(err), start)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, stageErr(CodeAnswersFailed, fmt.Errorf("store answers: %w", err))
	}

	s.metrics.stage("answers", "success", start)
	s.logger.Info(ctx, "answers stored", "case_id", id, "answers", len(answers))
	return c, nil
}

// RunTriage generates the triage summary and closes the case. Both
// observations and answers must already be stored. Running it again on a
// closed case generates and stores a new summary.
func (s *Service) RunTriage(ctx context.Context, id string) (*TriageSummary, error) {
	start := time.Now()
	L := s.logger.With("case_id", id)

	c, err := s.mustGet(ctx, id, CodeTriageFailed)
	if err != nil {
		s.metrics.stage("triage", outcomeOf(err), start)
		return nil, err
	}
	if c.Observations == nil || c.UserAnswers == nil {
		s.metrics.stage("triage", "precondition", start)
		return nil, ErrPrecondition
	}
	if c.Status == StatusClosed {
		L.Info(ctx, "regenerating triage for closed case")
	}

	ctx = context.WithoutCancel(ctx)

	summary, degraded, err := s.generator.Generate(ctx, c.Observations.Observations, c.UserAnswers)
	if err != nil {
		s.metrics.stage("triage", "error", start)
		return nil, stageErr(CodeTriageFailed, fmt.Errorf("generate triage: %w", err))
	}

	closed, err := s.store.SetTriage(ctx, id, summary)
	if err != nil {
		s.metrics.stage("triage", outcomeOf(err), start)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, stageErr(CodeTriageFailed, fmt.Errorf("store triage: %w", err))
	}

	if degraded {
		L.Warn(ctx, "stored fallback triage summary")
	}
	s.metrics.stage("triage", "success", start)
	s.metrics.urgency(summary.UrgencyLevel)
	L.Info(ctx, "triage stored", "degraded", degraded, "urgency", summary.UrgencyLevel)

	if s.notifier != nil {
		if err := s.notifier.Send(ctx, closed); err != nil {
			L.Error(ctx, err, "failed to send triage notification")
		}
	}

	return summary, nil
}

// List returns the summaries of all cases, newest first.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, stageErr(CodeListFailed, fmt.Errorf("list cases: %w", err))
	}
	out := make([]Summary, 0, len(all))
	for _, c := range all {
		out = append(out, Summarize(c))
	}
	return out, nil
}

// Get retrieves a case by id.
func (s *Service) Get(ctx context.Context, id string) (*Case, error) {
	return s.mustGet(ctx, id, CodeGetCaseFailed)
}

func (s *Service) mustGet(ctx context.Context, id, code string) (*Case, error) {
	c, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, stageErr(code, fmt.Errorf("get case: %w", err))
	}
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func outcomeOf(err error) string {
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}
	return "error"
}
