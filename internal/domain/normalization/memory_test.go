package normalization

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/labreview/labreview/pkg/labmodels"
)

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mk := func(id string, canonical string, day int) *labmodels.NormalizedParameter {
		return &labmodels.NormalizedParameter{
			ID:                  uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)),
			OriginalParameterID: id,
			UserID:              "u1",
			CanonicalName:       canonical,
			ObservedAt:          base.AddDate(0, 0, day),
		}
	}

	for _, p := range []*labmodels.NormalizedParameter{
		mk("c", "hemoglobin", 20),
		mk("a", "hemoglobin", 1),
		mk("b", "hemoglobin", 10),
		mk("x", "creatinine", 5),
	} {
		inserted, err := repo.Insert(ctx, p)
		if err != nil || !inserted {
			t.Fatalf("insert %s: inserted=%v err=%v", p.OriginalParameterID, inserted, err)
		}
	}

	inserted, err := repo.Insert(ctx, mk("a", "hemoglobin", 1))
	if err != nil || inserted {
		t.Errorf("duplicate insert should be a no-op, got inserted=%v err=%v", inserted, err)
	}
	if repo.Len() != 4 {
		t.Errorf("expected 4 records, got %d", repo.Len())
	}

	hist, err := repo.History(ctx, "u1", "hemoglobin", base.AddDate(0, 0, 5))
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].OriginalParameterID != "b" || hist[1].OriginalParameterID != "c" {
		t.Errorf("unexpected history: %+v", hist)
	}
}
