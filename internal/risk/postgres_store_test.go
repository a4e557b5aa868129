package risk

import (
	"context"
	"testing"
	"time"

	"github.com/MIRACULOUS65/sentinel-risk/internal/testutil"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	at := time.Unix(1_700_000_000, 0).UTC()
	a := &Assessment{
		ID:            "risk_pg_roundtrip",
		Wallet:        "0xabc",
		Score:         85,
		Decision:      DecisionFreeze,
		Reason:        "dust spam activity",
		PatternScore:  100,
		ModelScore:    50,
		PatternReason: "dust spam activity",
		PatternScores: map[string]int{"dust": 100, "circular": 0},
		Features:      map[string]float64{"dust_tx_ratio": 1, "mean_amount": 0.005},
		TxCount:       10,
		UsingNeural:   true,
		AssessedAt:    at,
	}
	if err := store.Record(ctx, a); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := store.ListByWallet(ctx, "0xabc", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d assessments, want 1", len(got))
	}

	r := got[0]
	if r.ID != a.ID || r.Score != a.Score || r.Decision != a.Decision {
		t.Errorf("got %s/%d/%s, want %s/%d/%s", r.ID, r.Score, r.Decision, a.ID, a.Score, a.Decision)
	}
	if r.Reason != a.Reason || r.PatternReason != a.PatternReason {
		t.Errorf("reasons differ: %q / %q", r.Reason, r.PatternReason)
	}
	if r.PatternScore != 100 || r.ModelScore != 50 || r.TxCount != 10 || !r.UsingNeural {
		t.Errorf("component fields differ: %+v", r)
	}
	if r.PatternScores["dust"] != 100 {
		t.Errorf("pattern scores did not survive JSONB: %v", r.PatternScores)
	}
	if r.Features["dust_tx_ratio"] != 1 {
		t.Errorf("features did not survive JSONB: %v", r.Features)
	}
	if !r.AssessedAt.Equal(at) {
		t.Errorf("assessedAt = %v, want %v", r.AssessedAt, at)
	}
}

func TestPostgresStoreListOrderAndLimit(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	base := time.Unix(1_700_000_000, 0).UTC()
	for i := 0; i < 5; i++ {
		a := sampleAssessment("risk_pg_order_"+string(rune('a'+i)), "0xdef", i*10, base.Add(time.Duration(i)*time.Minute))
		if err := store.Record(ctx, a); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	got, err := store.ListByWallet(ctx, "0xdef", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d assessments, want 2", len(got))
	}
	if got[0].ID != "risk_pg_order_e" || got[1].ID != "risk_pg_order_d" {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}

	none, err := store.ListByWallet(ctx, "0xmissing", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no rows, got %d", len(none))
	}
}
