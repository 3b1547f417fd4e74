package caseapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/linnemanlabs/dogtor/internal/cases"
)

// messages are the client-facing texts per error code.
var messages = map[string]string{
	cases.CodeUploadFailed:   "Failed to upload image",
	cases.CodeAnalysisFailed: "Failed to analyze image",
	cases.CodeAnswersFailed:  "Failed to submit answers",
	cases.CodeTriageFailed:   "Failed to generate triage summary",
	cases.CodeListFailed:     "Failed to list cases",
	cases.CodeGetCaseFailed:  "Failed to retrieve case",
	cases.CodeInternal:       "An unexpected error occurred",
	cases.CodeNotFound:       "Case not found",
	cases.CodePrecondition:   "Case missing observations or answers",
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps a service error to status, code and message. stageCode is
// used for storage failures that carry no code of their own.
func classify(err error, stageCode string) (int, string, string) {
	var ve *cases.ValidationError
	var se *cases.StageError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, cases.CodeValidation, ve.Reason
	case errors.Is(err, cases.ErrNotFound):
		return http.StatusNotFound, cases.CodeNotFound, messages[cases.CodeNotFound]
	case errors.Is(err, cases.ErrPrecondition):
		return http.StatusBadRequest, cases.CodePrecondition, messages[cases.CodePrecondition]
	case errors.As(err, &se):
		return http.StatusInternalServerError, se.Code, messages[se.Code]
	}
	if stageCode == "" {
		stageCode = cases.CodeInternal
	}
	return http.StatusInternalServerError, stageCode, messages[stageCode]
}

func (a *API) writeErr(w http.ResponseWriter, r *http.Request, err error, stageCode string) {
	status, code, msg := classify(err, stageCode)
	if status >= http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, "request failed", "code", code, "route", r.URL.Path)
	}
	writeError(w, status, code, msg)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}
