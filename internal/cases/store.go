package cases

import "context"

// Store is the persistence interface for cases. Update methods touch only
// their own fields and return ErrNotFound for unknown ids.
type Store interface {
	Create(ctx context.Context, c *Case) error
	Get(ctx context.Context, id string) (*Case, bool, error)
	// List returns every case, newest first.
	List(ctx context.Context) ([]*Case, error)
	SetObservations(ctx context.Context, id string, obs *ObservationResult) (*Case, error)
	SetAnswers(ctx context.Context, id string, answers map[string]any) (*Case, error)
	// SetTriage stores the summary and closes the case in one write.
	SetTriage(ctx context.Context, id string, summary *TriageSummary) (*Case, error)
}
