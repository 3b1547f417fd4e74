package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/dogtor/internal/cases"
)

func newCase(id string, at time.Time) *cases.Case {
	return &cases.Case{ID: id, CreatedAt: at, ImageURL: "http://img/" + id, Status: cases.StatusOpen}
}

func TestStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newCase("c-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok, err := s.Get(ctx, "c-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected case to be found")
	}
	if got.ImageURL != "http://img/c-1" {
		t.Errorf("ImageURL = %q", got.ImageURL)
	}
	if got.Status != cases.StatusOpen {
		t.Errorf("Status = %q, want open", got.Status)
	}
	if got.Observations != nil || got.UserAnswers != nil || got.TriageSummary != nil {
		t.Error("AI fields should be absent on a new case")
	}
}

func TestStore_CreateDuplicate(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newCase("c-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, newCase("c-1", time.Now())); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	_, ok, err := New().Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"b", "c", "a"} {
		if err := s.Create(ctx, newCase(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"a", "c", "b"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, got[i].ID, want[i])
		}
	}
}

func TestStore_UpdatesTouchOnlyTheirField(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newCase("c-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	obs := &cases.ObservationResult{
		Observations: cases.Observations{Consistency: "formed", Color: "brown", Blood: "none", ForeignMaterial: "none"},
		Questions:    cases.CanonicalQuestions(),
	}
	if _, err := s.SetObservations(ctx, "c-1", obs); err != nil {
		t.Fatalf("SetObservations: %v", err)
	}
	if _, err := s.SetAnswers(ctx, "c-1", map[string]any{"duration": 2}); err != nil {
		t.Fatalf("SetAnswers: %v", err)
	}
	got, err := s.SetAnswers(ctx, "c-1", map[string]any{"energy": "Low"})
	if err != nil {
		t.Fatalf("SetAnswers: %v", err)
	}

	if got.Observations == nil || got.Observations.Observations.Color != "brown" {
		t.Error("observations should survive answer updates")
	}
	if _, ok := got.UserAnswers["duration"]; ok {
		t.Error("second SetAnswers should fully replace the first")
	}
	if got.UserAnswers["energy"] != "Low" {
		t.Errorf("answers = %v", got.UserAnswers)
	}
	if got.Status != cases.StatusOpen {
		t.Errorf("Status = %q, want open before triage", got.Status)
	}

	closed, err := s.SetTriage(ctx, "c-1", &cases.TriageSummary{Summary: "ok", UrgencyLevel: cases.UrgencyLow})
	if err != nil {
		t.Fatalf("SetTriage: %v", err)
	}
	if closed.Status != cases.StatusClosed {
		t.Errorf("Status = %q, want closed", closed.Status)
	}
	if closed.UserAnswers["energy"] != "Low" || closed.Observations == nil {
		t.Error("triage should not clobber other fields")
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"observations", func() error { _, err := s.SetObservations(ctx, "nope", &cases.ObservationResult{}); return err }},
		{"answers", func() error { _, err := s.SetAnswers(ctx, "nope", map[string]any{}); return err }},
		{"triage", func() error { _, err := s.SetTriage(ctx, "nope", &cases.TriageSummary{}); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.fn(); !errors.Is(err, cases.ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newCase("c-1", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}
	answers := map[string]any{"duration": 1}
	if _, err := s.SetAnswers(ctx, "c-1", answers); err != nil {
		t.Fatalf("SetAnswers: %v", err)
	}

	answers["duration"] = 99
	got, _, _ := s.Get(ctx, "c-1")
	got.UserAnswers["vomiting"] = "Once"

	again, _, _ := s.Get(ctx, "c-1")
	if again.UserAnswers["duration"] != 1 {
		t.Errorf("stored answers changed through caller map: %v", again.UserAnswers)
	}
	if _, ok := again.UserAnswers["vomiting"]; ok {
		t.Error("stored answers changed through returned case")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("c-%d", n)
			_ = s.Create(ctx, newCase(id, time.Now()))
			_, _ = s.SetAnswers(ctx, id, map[string]any{"duration": n})
			_, _, _ = s.Get(ctx, id)
			_, _ = s.List(ctx)
		}(i)
	}

	wg.Wait()

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 50 {
		t.Errorf("len = %d, want 50", len(all))
	}
}
