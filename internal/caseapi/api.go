// Package caseapi exposes the case workflow over HTTP under /api.
package caseapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/dogtor/internal/cases"
)

const (
	defaultMaxUpload = 25 << 20
	maxAnswersBytes  = 1 << 20
	formMemory       = 8 << 20
)

// CaseService defines the business operations caseapi needs.
type CaseService interface {
	Create(ctx context.Context, up cases.Upload) (*cases.Case, error)
	RunAnalysis(ctx context.Context, id string) (*cases.ObservationResult, error)
	SubmitAnswers(ctx context.Context, id string, answers map[string]any) (*cases.Case, error)
	RunTriage(ctx context.Context, id string) (*cases.TriageSummary, error)
	List(ctx context.Context) ([]cases.Summary, error)
	Get(ctx context.Context, id string) (*cases.Case, error)
}

// Options tunes the API. Zero values select defaults.
type Options struct {
	// MaxUploadBytes caps the multipart request body.
	MaxUploadBytes int64

	// OnPanic is called after a handler panic has been turned into a 500.
	OnPanic func()

	// Middlewares run on /api routes only, after panic recovery.
	Middlewares []func(http.Handler) http.Handler
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	svc       CaseService
	maxUpload int64
	onPanic   func()
	mws       []func(http.Handler) http.Handler
}

// New creates a new API handler.
func New(logger log.Logger, svc CaseService, opts Options) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("case service is required"))
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	return &API{
		logger:    logger,
		svc:       svc,
		maxUpload: opts.MaxUploadBytes,
		onPanic:   opts.OnPanic,
		mws:       opts.Middlewares,
	}
}

// RegisterRoutes attaches the /api endpoints and /health to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/health", handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Use(a.recoverJSON, dbStats)
		r.Use(a.mws...)
		r.Post("/cases/upload", a.handleUpload)
		r.Get("/cases", a.handleList)
		r.Get("/cases/{id}", a.handleGet)
		r.Post("/cases/{id}/observations", a.handleObservations)
		r.Post("/cases/{id}/answers", a.handleAnswers)
		r.Post("/cases/{id}/triage", a.handleTriage)
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "Dogtor is running",
	})
}

type uploadResponse struct {
	CaseID   string `json:"case_id"`
	ImageURL string `json:"image_url"`
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)

	file, hdr, err := r.FormFile("file")
	if err != nil {
		a.writeErr(w, r, uploadFormError(err), cases.CodeUploadFailed)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		a.writeErr(w, r, uploadFormError(err), cases.CodeUploadFailed)
		return
	}

	c, err := a.svc.Create(r.Context(), cases.Upload{
		Data:        data,
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
	})
	if err != nil {
		a.writeErr(w, r, err, cases.CodeUploadFailed)
		return
	}

	setCaseAttrs(r.Context(), c.ID, c.Status)
	writeJSON(w, http.StatusOK, uploadResponse{CaseID: c.ID, ImageURL: c.ImageURL})
}

func uploadFormError(err error) error {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return &cases.ValidationError{Reason: "file is required"}
	case errors.As(err, &tooBig):
		return &cases.ValidationError{Reason: "file too large"}
	case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
		return &cases.ValidationError{Reason: "request must be multipart/form-data"}
	}
	return &cases.ValidationError{Reason: "malformed upload"}
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.List(r.Context())
	if err != nil {
		a.writeErr(w, r, err, cases.CodeListFailed)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := caseID(r)

	c, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeErr(w, r, err, cases.CodeGetCaseFailed)
		return
	}

	setCaseAttrs(r.Context(), c.ID, c.Status)
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleObservations(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.RunAnalysis(r.Context(), caseID(r))
	if err != nil {
		a.writeErr(w, r, err, cases.CodeAnalysisFailed)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleAnswers(w http.ResponseWriter, r *http.Request) {
	id := caseID(r)

	var answers map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnswersBytes))
	if err := dec.Decode(&answers); err != nil || !atEOF(dec) {
		a.writeErr(w, r, &cases.ValidationError{Reason: "answers must be a JSON object"}, cases.CodeAnswersFailed)
		return
	}

	c, err := a.svc.SubmitAnswers(r.Context(), id, answers)
	if err != nil {
		a.writeErr(w, r, err, cases.CodeAnswersFailed)
		return
	}

	setCaseAttrs(r.Context(), c.ID, c.Status)
	writeJSON(w, http.StatusOK, c)
}

// atEOF reports whether dec has nothing left but whitespace.
func atEOF(dec *json.Decoder) bool {
	var extra json.RawMessage
	return errors.Is(dec.Decode(&extra), io.EOF)
}

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	id := caseID(r)

	summary, err := a.svc.RunTriage(r.Context(), id)
	if err != nil {
		a.writeErr(w, r, err, cases.CodeTriageFailed)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("dogtor.triage.urgency", string(summary.UrgencyLevel)))
	writeJSON(w, http.StatusOK, summary)
}

func caseID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("dogtor.case.id", id))
	return id
}

func setCaseAttrs(ctx context.Context, id string, status cases.Status) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("dogtor.case.id", id),
		attribute.String("dogtor.case.status", string(status)),
	)
}
