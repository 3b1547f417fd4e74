package caseapi

import (
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/dogtor/internal/cases"
	"github.com/linnemanlabs/dogtor/internal/postgres"
)

// recoverJSON turns handler panics into a 500 INTERNAL_ERROR envelope.
func (a *API) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			a.logger.Error(r.Context(), fmt.Errorf("panic: %v", rec), "handler panicked", "route", r.URL.Path)
			if a.onPanic != nil {
				a.onPanic()
			}
			writeError(w, http.StatusInternalServerError, cases.CodeInternal, messages[cases.CodeInternal])
		}()
		next.ServeHTTP(w, r)
	})
}

// dbStats attaches per-request query accounting read by the postgres tracer
// and reports the totals on the request span.
func dbStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := postgres.NewReqDBStatsContext(r.Context())
		ctx = postgres.WithHTTPMethod(ctx, r.Method)

		next.ServeHTTP(w, r.WithContext(ctx))

		stats, _ := postgres.ReqDBStatsFromContext(ctx)
		count, total, errs := stats.Snapshot()
		if count == 0 {
			return
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("db.query_count", count),
			attribute.Float64("db.total_duration_s", total.Seconds()),
			attribute.Int("db.error_count", errs),
		)
	})
}
