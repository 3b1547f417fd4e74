package cases

import (
	"maps"
	"slices"
	"time"
)

// Status tracks where a case is in its lifecycle.
type Status string

const (
	// StatusOpen means the case is still collecting observations or answers
	StatusOpen Status = "open"

	// StatusClosed means a triage summary has been produced
	StatusClosed Status = "closed"
)

// Urgency is the triage urgency level.
type Urgency string

const (
	UrgencyLow      Urgency = "Low"
	UrgencyModerate Urgency = "Moderate"
	UrgencyHigh     Urgency = "High"
)

// Valid reports whether u is one of the known levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyModerate, UrgencyHigh:
		return true
	}
	return false
}

// Observations are the structured fields read from the image.
type Observations struct {
	Consistency     string `json:"consistency" jsonschema:"enum=loose,enum=formed,enum=hard,enum=watery,enum=unknown"`
	Color           string `json:"color" jsonschema:"enum=brown,enum=yellow,enum=green,enum=black,enum=red,enum=tan,enum=unknown"`
	Mucus           bool   `json:"mucus"`
	Blood           string `json:"blood" jsonschema:"enum=none,enum=specks,enum=streaks,enum=visible"`
	ForeignMaterial string `json:"foreign_material" jsonschema:"enum=none,enum=grass,enum=plastic,enum=undigested_food,enum=unknown"`
	Notes           string `json:"notes" jsonschema:"description=Detailed description of what is visible in the image"`
}

var (
	consistencies    = []string{"loose", "formed", "hard", "watery", "unknown"}
	colors           = []string{"brown", "yellow", "green", "black", "red", "tan", "unknown"}
	bloodLevels      = []string{"none", "specks", "streaks", "visible"}
	foreignMaterials = []string{"none", "grass", "plastic", "undigested_food", "unknown"}
	questionTypes    = []string{"number", "select", "text"}
)

// Valid reports whether every enumerated field holds a known value.
func (o Observations) Valid() bool {
	return slices.Contains(consistencies, o.Consistency) &&
		slices.Contains(colors, o.Color) &&
		slices.Contains(bloodLevels, o.Blood) &&
		slices.Contains(foreignMaterials, o.ForeignMaterial)
}

// Question is a follow-up question shown to the owner.
type Question struct {
	ID       string   `json:"id"`
	Type     string   `json:"type" jsonschema:"enum=number,enum=select,enum=text"`
	Label    string   `json:"label"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

// ObservationResult is the output of the analysis stage.
type ObservationResult struct {
	Observations Observations `json:"observations"`
	Questions    []Question   `json:"questions"`
}

// TriageMeta marks generated content. Error is set on the fallback payload.
type TriageMeta struct {
	Error bool `json:"error"`
}

// TriageSummary is the output of the triage stage.
type TriageSummary struct {
	Summary            string      `json:"triage_summary"`
	PossibleCauses     []string    `json:"possible_causes"`
	RecommendedActions []string    `json:"recommended_actions"`
	UrgencyLevel       Urgency     `json:"urgency_level"`
	Meta               *TriageMeta `json:"meta,omitempty"`
}

// Case is one submitted image and its pipeline state.
type Case struct {
	ID            string             `json:"case_id"`
	CreatedAt     time.Time          `json:"timestamp"`
	ImageURL      string             `json:"image_url"`
	Observations  *ObservationResult `json:"observations"`
	UserAnswers   map[string]any     `json:"user_answers"`
	TriageSummary *TriageSummary     `json:"triage_summary"`
	Status        Status             `json:"status"`
	VetShared     bool               `json:"vet_shared"`
}

// Clone returns a deep copy of r.
func (r *ObservationResult) Clone() *ObservationResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Questions = slices.Clone(r.Questions)
	for i := range cp.Questions {
		cp.Questions[i].Options = slices.Clone(cp.Questions[i].Options)
	}
	return &cp
}

// Clone returns a deep copy of t.
func (t *TriageSummary) Clone() *TriageSummary {
	if t == nil {
		return nil
	}
	cp := *t
	cp.PossibleCauses = slices.Clone(t.PossibleCauses)
	cp.RecommendedActions = slices.Clone(t.RecommendedActions)
	if t.Meta != nil {
		m := *t.Meta
		cp.Meta = &m
	}
	return &cp
}

// Clone returns a copy that shares no mutable top-level state with c.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Observations = c.Observations.Clone()
	cp.TriageSummary = c.TriageSummary.Clone()
	if c.UserAnswers != nil {
		cp.UserAnswers = maps.Clone(c.UserAnswers)
	}
	return &cp
}

// Summary is the list view of a case.
type Summary struct {
	ID          string    `json:"case_id"`
	Timestamp   time.Time `json:"timestamp"`
	ImageURL    string    `json:"image_url"`
	Status      Status    `json:"status"`
	SummaryLine string    `json:"summary_line"`
}

const (
	summaryLineLimit = 100
	summaryPending   = "Analysis pending"
	summaryComplete  = "Analysis complete"
)

// Summarize builds the list view for c.
func Summarize(c *Case) Summary {
	line := summaryPending
	if c.TriageSummary != nil {
		line = c.TriageSummary.Summary
		if line == "" {
			line = summaryComplete
		}
		if r := []rune(line); len(r) > summaryLineLimit {
			line = string(r[:summaryLineLimit])
		}
	}

	status := c.Status
	if status == "" {
		status = StatusOpen
	}

	return Summary{
		ID:          c.ID,
		Timestamp:   c.CreatedAt,
		ImageURL:    c.ImageURL,
		Status:      status,
		SummaryLine: line,
	}
}
