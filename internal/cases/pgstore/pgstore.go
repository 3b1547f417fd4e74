// Package pgstore provides a PostgreSQL implementation of cases.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/dogtor/internal/cases"
)

var tracer = otel.Tracer("github.com/linnemanlabs/dogtor/internal/cases/pgstore")

//go:embed schema.sql
var schema string

const caseColumns = `id, created_at, image_url, observations, user_answers, triage_summary, status, vet_shared`

// Store persists cases in PostgreSQL. Each update writes only its own
// column, so stages running concurrently on one case do not clobber each other.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Create inserts a new case row.
func (s *Store) Create(ctx context.Context, c *cases.Case) error {
	ctx, span := startSpan(ctx, "pgstore.Create", "INSERT")
	defer span.End()
	span.SetAttributes(attribute.String("dogtor.case.id", c.ID))

	obs, answers, summary, err := marshalFields(c)
	if err != nil {
		return fail(span, err)
	}

	status := c.Status
	if status == "" {
		status = cases.StatusOpen
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO cases (`+caseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.CreatedAt, c.ImageURL, obs, answers, summary, string(status), c.VetShared,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert case: %w", err))
	}
	return nil
}

// Get retrieves a case by ID.
func (s *Store) Get(ctx context.Context, id string) (*cases.Case, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()
	span.SetAttributes(attribute.String("dogtor.case.id", id))

	c, err := scanCase(s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if errors.Is(err, cases.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err)
	}
	return c, true, nil
}

// List returns every case, newest first.
func (s *Store) List(ctx context.Context) ([]*cases.Case, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+caseColumns+` FROM cases ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query cases: %w", err))
	}
	defer rows.Close()

	var out []*cases.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate cases: %w", err))
	}

	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// SetObservations replaces the observations column.
func (s *Store) SetObservations(ctx context.Context, id string, obs *cases.ObservationResult) (*cases.Case, error) {
	return s.updateJSON(ctx, "pgstore.SetObservations", id,
		`UPDATE cases SET observations = $2 WHERE id = $1 RETURNING `+caseColumns, obs)
}

// SetAnswers replaces the user_answers column.
func (s *Store) SetAnswers(ctx context.Context, id string, answers map[string]any) (*cases.Case, error) {
	return s.updateJSON(ctx, "pgstore.SetAnswers", id,
		`UPDATE cases SET user_answers = $2 WHERE id = $1 RETURNING `+caseColumns, answers)
}

// SetTriage replaces the triage_summary column and closes the case in the
// same statement.
func (s *Store) SetTriage(ctx context.Context, id string, summary *cases.TriageSummary) (*cases.Case, error) {
	return s.updateJSON(ctx, "pgstore.SetTriage", id,
		`UPDATE cases SET triage_summary = $2, status = 'closed' WHERE id = $1 RETURNING `+caseColumns, summary)
}

func (s *Store) updateJSON(ctx context.Context, name, id, query string, v any) (*cases.Case, error) {
	ctx, span := startSpan(ctx, name, "UPDATE")
	defer span.End()
	span.SetAttributes(attribute.String("dogtor.case.id", id))

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fail(span, fmt.Errorf("marshal: %w", err))
	}

	c, err := scanCase(s.pool.QueryRow(ctx, query, id, raw))
	if errors.Is(err, cases.ErrNotFound) {
		return nil, cases.ErrNotFound
	}
	if err != nil {
		return nil, fail(span, err)
	}
	return c, nil
}

func marshalFields(c *cases.Case) (obs, answers, summary []byte, err error) {
	if c.Observations != nil {
		if obs, err = json.Marshal(c.Observations); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal observations: %w", err)
		}
	}
	if c.UserAnswers != nil {
		if answers, err = json.Marshal(c.UserAnswers); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal answers: %w", err)
		}
	}
	if c.TriageSummary != nil {
		if summary, err = json.Marshal(c.TriageSummary); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal triage summary: %w", err)
		}
	}
	return obs, answers, summary, nil
}

// scanCase reads one row. A missing row is reported as cases.ErrNotFound.
func scanCase(row pgx.Row) (*cases.Case, error) {
	var (
		c                     cases.Case
		status                string
		obs, answers, summary []byte
	)

	err := row.Scan(&c.ID, &c.CreatedAt, &c.ImageURL, &obs, &answers, &summary, &status, &c.VetShared)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cases.ErrNotFound
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	c.Status = cases.Status(status)
	c.CreatedAt = c.CreatedAt.UTC()

	if obs != nil {
		c.Observations = &cases.ObservationResult{}
		if err := json.Unmarshal(obs, c.Observations); err != nil {
			return nil, fmt.Errorf("unmarshal observations: %w", err)
		}
	}
	if answers != nil {
		if err := json.Unmarshal(answers, &c.UserAnswers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
	}
	if summary != nil {
		c.TriageSummary = &cases.TriageSummary{}
		if err := json.Unmarshal(summary, c.TriageSummary); err != nil {
			return nil, fmt.Errorf("unmarshal triage summary: %w", err)
		}
	}

	return &c, nil
}
