package risk

import (
	"context"
	"regexp"

	"github.com/labreview/labreview/internal/domain/reference"
)

// InteractionDetector finds medications in the patient's free-text list that
// interfere with a parameter's measurement.
type InteractionDetector struct {
	store reference.Store
}

func NewInteractionDetector(store reference.Store) *InteractionDetector {
	return &InteractionDetector{store: store}
}

// Detect returns the interaction rules whose medication term appears as a
// whole word in medications, ignoring case. Store failures are returned.
func (d *InteractionDetector) Detect(ctx context.Context, canonical, medications string) ([]reference.InteractionRule, error) {
	if medications == "" {
		return nil, nil
	}
	rules, err := d.store.Interactions(ctx, canonical)
	if err != nil {
		return nil, err
	}

	var hits []reference.InteractionRule
	for _, r := range rules {
		if r.MedicationTerm == "" {
			continue
		}
		if wholeWord(r.MedicationTerm).MatchString(medications) {
			hits = append(hits, r)
		}
	}
	return hits, nil
}

func wholeWord(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[^\pL\pN])` + regexp.QuoteMeta(term) + `($|[^\pL\pN])`)
}
