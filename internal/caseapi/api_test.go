package caseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/dogtor/internal/cases"
)

// fakeService implements CaseService with canned results.
type fakeService struct {
	created   cases.Upload
	createErr error
	analyze   *cases.ObservationResult
	stageErr  error
	answers   map[string]any
	summary   *cases.TriageSummary
	list      []cases.Summary
	panicMsg  string
}

func (f *fakeService) Create(_ context.Context, up cases.Upload) (*cases.Case, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = up
	return &cases.Case{ID: "01CASE", ImageURL: "http://localhost:8000/uploads/x.jpg", Status: cases.StatusOpen}, nil
}

func (f *fakeService) RunAnalysis(context.Context, string) (*cases.ObservationResult, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.analyze, f.stageErr
}

func (f *fakeService) SubmitAnswers(_ context.Context, id string, answers map[string]any) (*cases.Case, error) {
	if answers == nil {
		return nil, &cases.ValidationError{Reason: "answers must be a JSON object"}
	}
	if f.stageErr != nil {
		return nil, f.stageErr
	}
	f.answers = answers
	return &cases.Case{ID: id, UserAnswers: answers, Status: cases.StatusOpen}, nil
}

func (f *fakeService) RunTriage(context.Context, string) (*cases.TriageSummary, error) {
	return f.summary, f.stageErr
}

func (f *fakeService) List(context.Context) ([]cases.Summary, error) {
	return f.list, f.stageErr
}

func (f *fakeService) Get(_ context.Context, id string) (*cases.Case, error) {
	if f.stageErr != nil {
		return nil, f.stageErr
	}
	return &cases.Case{ID: id, Status: cases.StatusClosed}, nil
}

func newTestRouter(t *testing.T, svc *fakeService, opts Options) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	New(log.Nop(), svc, opts).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body.Error
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, &fakeService{}, Options{})
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
	if api.maxUpload != defaultMaxUpload {
		t.Errorf("maxUpload = %d, want default", api.maxUpload)
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic")
		}
	}()
	New(nil, nil, Options{})
}

//  Upload

func TestUpload_Success(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	r := newTestRouter(t, svc, Options{})

	body, ct := multipartBody(t, "file", "dog.jpg", "image/jpeg", []byte{0xff, 0xd8, 0xff})
	req := httptest.NewRequest(http.MethodPost, "/api/cases/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, r, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got uploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.CaseID != "01CASE" || got.ImageURL == "" {
		t.Errorf("response = %+v", got)
	}
	if svc.created.Filename != "dog.jpg" || svc.created.ContentType != "image/jpeg" || len(svc.created.Data) != 3 {
		t.Errorf("upload passed to service = %+v", svc.created)
	}
}

func TestUpload_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		build      func(t *testing.T) (*bytes.Buffer, string)
		opts       Options
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{
			name: "missing file field",
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "photo", "a.jpg", "image/jpeg", []byte{1})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   cases.CodeValidation,
		},
		{
			name: "not multipart",
			build: func(*testing.T) (*bytes.Buffer, string) {
				return bytes.NewBufferString(`{"file":"x"}`), "application/json"
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   cases.CodeValidation,
		},
		{
			name: "too large",
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "file", "a.jpg", "image/jpeg", make([]byte, 4096))
			},
			opts:       Options{MaxUploadBytes: 512},
			wantStatus: http.StatusBadRequest,
			wantCode:   cases.CodeValidation,
		},
		{
			name: "service validation",
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "file", "a.txt", "text/plain", []byte("hi"))
			},
			svcErr:     &cases.ValidationError{Reason: "file must be an image"},
			wantStatus: http.StatusBadRequest,
			wantCode:   cases.CodeValidation,
		},
		{
			name: "storage failure",
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "file", "a.jpg", "image/jpeg", []byte{1})
			},
			svcErr:     &cases.StageError{Code: cases.CodeUploadFailed, Err: errors.New("disk full")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   cases.CodeUploadFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newTestRouter(t, &fakeService{createErr: tt.svcErr}, tt.opts)
			body, ct := tt.build(t)
			req := httptest.NewRequest(http.MethodPost, "/api/cases/upload", body)
			req.Header.Set("Content-Type", ct)
			rec := do(t, r, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := decodeError(t, rec); got.Code != tt.wantCode || got.Message == "" {
				t.Errorf("error = %+v, want code %s", got, tt.wantCode)
			}
		})
	}
}

//  Stage endpoints

func TestStageEndpoints_ErrorMapping(t *testing.T) {
	t.Parallel()

	storage := errors.New("db down")

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"observations not found", http.MethodPost, "/api/cases/x/observations", "", cases.ErrNotFound, 404, cases.CodeNotFound, "Case not found"},
		{"observations storage", http.MethodPost, "/api/cases/x/observations", "", &cases.StageError{Code: cases.CodeAnalysisFailed, Err: storage}, 500, cases.CodeAnalysisFailed, "Failed to analyze image"},
		{"answers not found", http.MethodPost, "/api/cases/x/answers", `{}`, cases.ErrNotFound, 404, cases.CodeNotFound, "Case not found"},
		{"answers storage", http.MethodPost, "/api/cases/x/answers", `{}`, &cases.StageError{Code: cases.CodeAnswersFailed, Err: storage}, 500, cases.CodeAnswersFailed, "Failed to submit answers"},
		{"triage precondition", http.MethodPost, "/api/cases/x/triage", "", cases.ErrPrecondition, 400, cases.CodePrecondition, "Case missing observations or answers"},
		{"triage not found", http.MethodPost, "/api/cases/x/triage", "", cases.ErrNotFound, 404, cases.CodeNotFound, "Case not found"},
		{"triage storage", http.MethodPost, "/api/cases/x/triage", "", &cases.StageError{Code: cases.CodeTriageFailed, Err: storage}, 500, cases.CodeTriageFailed, "Failed to generate triage summary"},
		{"list storage", http.MethodGet, "/api/cases", "", &cases.StageError{Code: cases.CodeListFailed, Err: storage}, 500, cases.CodeListFailed, "Failed to list cases"},
		{"get not found", http.MethodGet, "/api/cases/x", "", cases.ErrNotFound, 404, cases.CodeNotFound, "Case not found"},
		{"get storage", http.MethodGet, "/api/cases/x", "", &cases.StageError{Code: cases.CodeGetCaseFailed, Err: storage}, 500, cases.CodeGetCaseFailed, "Failed to retrieve case"},
		{"uncoded error uses stage code", http.MethodPost, "/api/cases/x/triage", "", storage, 500, cases.CodeTriageFailed, "Failed to generate triage summary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newTestRouter(t, &fakeService{stageErr: tt.err}, Options{})
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := do(t, r, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			got := decodeError(t, rec)
			if got.Code != tt.wantCode || got.Message != tt.wantMsg {
				t.Errorf("error = %+v, want {%s %s}", got, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestAnswers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"object", `{"duration":3,"energy":"Low"}`, http.StatusOK},
		{"empty object", `{}`, http.StatusOK},
		{"array", `[1,2]`, http.StatusBadRequest},
		{"string", `"hi"`, http.StatusBadRequest},
		{"null", `null`, http.StatusBadRequest},
		{"malformed", `{bad`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"trailing whitespace", "{\"energy\":\"Low\"}\n  ", http.StatusOK},
		{"second object", `{"a":1}{"b":2}`, http.StatusBadRequest},
		{"trailing junk", `{"a":1} junk`, http.StatusBadRequest},
		{"trailing brace", `{"a":1}}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeService{}
			r := newTestRouter(t, svc, Options{})
			req := httptest.NewRequest(http.MethodPost, "/api/cases/abc/answers", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := do(t, r, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				if got := decodeError(t, rec); got.Code != cases.CodeValidation {
					t.Errorf("code = %q, want VALIDATION_ERROR", got.Code)
				}
				return
			}
			var c cases.Case
			if err := json.NewDecoder(rec.Body).Decode(&c); err != nil {
				t.Fatal(err)
			}
			if c.ID != "abc" || c.UserAnswers == nil {
				t.Errorf("case = %+v", c)
			}
		})
	}
}

func TestObservationsAndTriage_Success(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		analyze: &cases.ObservationResult{Observations: cases.Observations{Consistency: "formed"}, Questions: cases.CanonicalQuestions()},
		summary: &cases.TriageSummary{Summary: "ok", UrgencyLevel: cases.UrgencyLow, PossibleCauses: []string{}, RecommendedActions: []string{}},
	}
	r := newTestRouter(t, svc, Options{})

	rec := do(t, r, httptest.NewRequest(http.MethodPost, "/api/cases/abc/observations", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("observations status = %d", rec.Code)
	}
	var obs cases.ObservationResult
	if err := json.NewDecoder(rec.Body).Decode(&obs); err != nil {
		t.Fatal(err)
	}
	if obs.Observations.Consistency != "formed" || len(obs.Questions) != 5 {
		t.Errorf("observations = %+v", obs)
	}

	rec = do(t, r, httptest.NewRequest(http.MethodPost, "/api/cases/abc/triage", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("triage status = %d", rec.Code)
	}
	var raw map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if raw["triage_summary"] != "ok" || raw["urgency_level"] != "Low" {
		t.Errorf("triage body = %v", raw)
	}
	if _, ok := raw["meta"]; ok {
		t.Error("meta should be omitted when unset")
	}
}

func TestListAndGet(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &fakeService{list: []cases.Summary{
		{ID: "b", Timestamp: ts, Status: cases.StatusOpen, SummaryLine: "Analysis pending"},
		{ID: "a", Timestamp: ts.Add(-time.Hour), Status: cases.StatusClosed, SummaryLine: "done"},
	}}
	r := newTestRouter(t, svc, Options{})

	rec := do(t, r, httptest.NewRequest(http.MethodGet, "/api/cases", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0]["case_id"] != "b" || list[0]["summary_line"] != "Analysis pending" {
		t.Errorf("list = %v", list)
	}
	if list[0]["timestamp"] != "2026-01-02T03:04:05Z" {
		t.Errorf("timestamp = %v", list[0]["timestamp"])
	}

	rec = do(t, r, httptest.NewRequest(http.MethodGet, "/api/cases/xyz", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var c map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&c); err != nil {
		t.Fatal(err)
	}
	if c["case_id"] != "xyz" || c["status"] != "closed" {
		t.Errorf("case = %v", c)
	}
	// absent AI fields are explicit nulls
	for _, k := range []string{"observations", "user_answers", "triage_summary"} {
		if v, ok := c[k]; !ok || v != nil {
			t.Errorf("%s = %v, present=%v; want null", k, v, ok)
		}
	}
}

func TestEmptyListIsArray(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeService{list: []cases.Summary{}}, Options{})
	rec := do(t, r, httptest.NewRequest(http.MethodGet, "/api/cases", http.NoBody))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

//  Middleware and routing

func TestRecover_InternalError(t *testing.T) {
	t.Parallel()

	panics := 0
	r := newTestRouter(t, &fakeService{panicMsg: "kaboom"}, Options{OnPanic: func() { panics++ }})
	rec := do(t, r, httptest.NewRequest(http.MethodPost, "/api/cases/x/observations", http.NoBody))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeError(t, rec)
	if got.Code != cases.CodeInternal || got.Message != "An unexpected error occurred" {
		t.Errorf("error = %+v", got)
	}
	if panics != 1 {
		t.Errorf("OnPanic calls = %d, want 1", panics)
	}
}

func TestRoutes_MethodsAndHealth(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeService{list: []cases.Summary{}}, Options{})

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/api/cases/upload", http.StatusOK}, // matches /cases/{id}
		{http.MethodDelete, "/api/cases/x", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/cases/x/triage", http.StatusMethodNotAllowed},
		{http.MethodPut, "/api/cases", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, httptest.NewRequest(tt.method, tt.path, http.NoBody))
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestMountUploads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("jpegdata"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	MountUploads(r, dir)

	tests := []struct {
		path string
		want int
	}{
		{"/uploads/a.jpg", http.StatusOK},
		{"/uploads/missing.jpg", http.StatusNotFound},
		{"/uploads/sub/", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := do(t, r, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}

	rec := do(t, r, httptest.NewRequest(http.MethodGet, "/uploads/a.jpg", http.NoBody))
	if rec.Body.String() != "jpegdata" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestMiddlewares_APIOnly(t *testing.T) {
	t.Parallel()

	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	r := newTestRouter(t, &fakeService{list: []cases.Summary{}}, Options{
		Middlewares: []func(http.Handler) http.Handler{deny},
	})

	if rec := do(t, r, httptest.NewRequest(http.MethodGet, "/api/cases", http.NoBody)); rec.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/cases = %d, want 401", rec.Code)
	}
	if rec := do(t, r, httptest.NewRequest(http.MethodGet, "/health", http.NoBody)); rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rec.Code)
	}
}
