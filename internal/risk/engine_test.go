package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MIRACULOUS65/sentinel-risk/internal/features"
	"github.com/MIRACULOUS65/sentinel-risk/internal/history"
	"github.com/MIRACULOUS65/sentinel-risk/internal/neural"
	"github.com/MIRACULOUS65/sentinel-risk/internal/patterns"
)

var testBase = time.Unix(1_700_000_000, 0)

// seedUniformWallets fills the store with n wallets that share the
// exact same behavioral profile: 6 transfers of 25 units, ten minutes
// apart, spread over 3 recipients. Identical rows make trained scores
// fully deterministic.
func seedUniformWallets(store *history.Store, n int) {
	for i := 0; i < n; i++ {
		sender := fmt.Sprintf("0xwallet%02d", i)
		for j := 0; j < 6; j++ {
			store.Add(history.Transaction{
				Hash:       fmt.Sprintf("h%02d_%d", i, j),
				Timestamp:  testBase.Add(time.Duration(j) * 10 * time.Minute),
				FromWallet: sender,
				ToWallet:   fmt.Sprintf("0xpeer%02d_%d", i, j%3),
				Amount:     25,
				AssetType:  "native",
			})
		}
	}
}

func trainedEngine(t *testing.T, store *history.Store) *Engine {
	t.Helper()
	e := NewEngine()
	if _, err := e.Train(context.Background(), store); err != nil {
		t.Fatalf("train: %v", err)
	}
	return e
}

func TestUntrainedEngineSoftFails(t *testing.T) {
	e := NewEngine()
	a := e.Assess(context.Background(), history.NewStore(), "0xsomeone", time.Time{})

	if a.Score != 0 {
		t.Errorf("untrained engine score = %d, want 0", a.Score)
	}
	if a.Reason != "model not trained" {
		t.Errorf("unexpected reason %q", a.Reason)
	}
	if a.Decision != DecisionAllow {
		t.Errorf("expected allow, got %s", a.Decision)
	}
}

func TestTrainRequiresSenderHistory(t *testing.T) {
	store := history.NewStore()
	// A busy receiver with no sent transactions is not trainable.
	for j := 0; j < 50; j++ {
		store.Add(history.Transaction{
			Hash:       fmt.Sprintf("in%d", j),
			Timestamp:  testBase.Add(time.Duration(j) * time.Minute),
			FromWallet: fmt.Sprintf("0xpayer%d", j),
			ToWallet:   "0xsink",
			Amount:     10,
		})
	}

	e := NewEngine()
	_, err := e.Train(context.Background(), store)
	if !errors.Is(err, ErrNoTrainingData) {
		t.Fatalf("expected ErrNoTrainingData, got %v", err)
	}
	if e.Fitted() {
		t.Error("engine should not be fitted after failed training")
	}
}

func TestInsufficientHistorySoftFails(t *testing.T) {
	store := history.NewStore()
	seedUniformWallets(store, 12)
	store.Add(history.Transaction{
		Hash: "solo", Timestamp: testBase,
		FromWallet: "0xnewcomer", ToWallet: "0xpeer", Amount: 5,
	})

	e := trainedEngine(t, store)
	a := e.Assess(context.Background(), store, "0xnewcomer", time.Time{})

	if a.Score != 0 {
		t.Errorf("score = %d, want 0", a.Score)
	}
	if a.Reason != "insufficient transaction history" {
		t.Errorf("unexpected reason %q", a.Reason)
	}
	if a.TxCount != 1 {
		t.Errorf("txCount = %d, want 1", a.TxCount)
	}
}

func TestTypicalWalletScoresLow(t *testing.T) {
	store := history.NewStore()
	seedUniformWallets(store, 12)

	e := trainedEngine(t, store)
	if !e.Fitted() {
		t.Fatal("engine should be fitted")
	}

	a := e.Assess(context.Background(), store, "0xwallet03", time.Time{})

	// A wallet identical to the whole training population: zero
	// pattern signal, mid anomaly fallback, blended 0.7/0.3.
	if a.PatternScore != 0 {
		t.Errorf("patternScore = %d, want 0", a.PatternScore)
	}
	if a.ModelScore != 50 {
		t.Errorf("modelScore = %d, want 50", a.ModelScore)
	}
	if a.Score != 15 {
		t.Errorf("score = %d, want 15", a.Score)
	}
	if a.Decision != DecisionAllow {
		t.Errorf("expected allow, got %s", a.Decision)
	}
	if a.Reason != patterns.NormalReason {
		t.Errorf("unexpected reason %q", a.Reason)
	}
	if a.UsingNeural {
		t.Error("neural should not participate by default")
	}
	if a.TxCount != 6 {
		t.Errorf("txCount = %d, want 6", a.TxCount)
	}
}

func TestDustingWalletFreezes(t *testing.T) {
	store := history.NewStore()
	seedUniformWallets(store, 12)
	e := trainedEngine(t, store)

	// Dust spray lands after training: 10 tiny transfers to 10 fresh
	// recipients in 90 seconds.
	for j := 0; j < 10; j++ {
		store.Add(history.Transaction{
			Hash:       fmt.Sprintf("dust%d", j),
			Timestamp:  testBase.Add(time.Duration(j) * 10 * time.Second),
			FromWallet: "0xsprayer",
			ToWallet:   fmt.Sprintf("0xmark%d", j),
			Amount:     0.005,
		})
	}

	a := e.Assess(context.Background(), store, "0xsprayer", time.Time{})

	if a.Decision != DecisionFreeze {
		t.Fatalf("expected freeze, got %s (score %d, reason %q)", a.Decision, a.Score, a.Reason)
	}
	if a.Score != 85 {
		t.Errorf("score = %d, want 85", a.Score)
	}
	if a.PatternScores["dust"] != 100 {
		t.Errorf("dust pattern = %d, want 100", a.PatternScores["dust"])
	}
	if a.Reason != a.PatternReason || a.Reason == patterns.NormalReason {
		t.Errorf("freeze should carry the pattern reason, got %q", a.Reason)
	}
}

func TestZeroRefAnchorsToLatestSent(t *testing.T) {
	store := history.NewStore()
	seedUniformWallets(store, 12)
	e := trainedEngine(t, store)

	implicit := e.Assess(context.Background(), store, "0xwallet05", time.Time{})
	explicit := e.Assess(context.Background(), store, "0xwallet05", testBase.Add(50*time.Minute))

	if implicit.Score != explicit.Score {
		t.Errorf("scores differ: %d vs %d", implicit.Score, explicit.Score)
	}
	for name, v := range explicit.Features {
		if implicit.Features[name] != v {
			t.Errorf("feature %s differs: %v vs %v", name, implicit.Features[name], v)
		}
	}
}

func TestNeuralEnsembleBlend(t *testing.T) {
	store := history.NewStore()
	seedUniformWallets(store, 12)
	e := trainedEngine(t, store)
	e.AttachNeural(neural.NewNetwork(features.Count))

	if !e.UsingNeural() {
		t.Fatal("neural should be active after attach")
	}

	a := e.Assess(context.Background(), store, "0xwallet01", time.Time{})
	if !a.UsingNeural {
		t.Error("assessment should record neural participation")
	}
	// The uniform population normalizes to an all-zero vector, which a
	// zero-bias network maps to exactly 0.5.
	if a.ModelScore != 50 {
		t.Errorf("modelScore = %d, want 50", a.ModelScore)
	}
	if a.Score != 25 {
		t.Errorf("score = %d, want 25", a.Score)
	}

	e.AttachNeural(nil)
	if e.UsingNeural() {
		t.Error("neural should be detached")
	}
}

func TestNeuralFailureFallsBackToPatternScore(t *testing.T) {
	store := history.NewStore()
	seedUniformWallets(store, 12)
	e := trainedEngine(t, store)
	// Wrong input width makes every neural prediction fail.
	e.AttachNeural(neural.NewNetwork(3))

	a := e.Assess(context.Background(), store, "0xwallet01", time.Time{})
	if a.ModelScore != a.PatternScore {
		t.Errorf("fallback modelScore = %d, want pattern score %d", a.ModelScore, a.PatternScore)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := history.NewStore()
	seedUniformWallets(store, 12)
	e := trainedEngine(t, store)

	dir := t.TempDir()
	if err := e.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := NewEngine()
	if err := loaded.Load(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Fitted() {
		t.Fatal("loaded engine should be fitted")
	}

	want := e.Assess(context.Background(), store, "0xwallet07", time.Time{})
	got := loaded.Assess(context.Background(), store, "0xwallet07", time.Time{})
	if got.Score != want.Score || got.Reason != want.Reason {
		t.Errorf("loaded engine scored %d (%q), want %d (%q)", got.Score, got.Reason, want.Score, want.Reason)
	}
}

func TestSaveUntrainedFails(t *testing.T) {
	e := NewEngine()
	if err := e.Save(t.TempDir()); err == nil {
		t.Fatal("expected error saving untrained engine")
	}
}

func TestLoadDegradesWithoutNeuralArtifact(t *testing.T) {
	store := history.NewStore()
	seedUniformWallets(store, 12)
	e := trainedEngine(t, store)
	e.AttachNeural(neural.NewNetwork(features.Count))

	// Save records useNeural=true but writes no neural artifact; that
	// is the neural pipeline's job.
	dir := t.TempDir()
	if err := e.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := NewEngine()
	if err := loaded.Load(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.UsingNeural() {
		t.Error("loaded engine should degrade to pattern+anomaly scoring")
	}
	if !loaded.Fitted() {
		t.Error("loaded engine should still be fitted")
	}
}

func TestAssessmentsAreAudited(t *testing.T) {
	store := history.NewStore()
	seedUniformWallets(store, 12)
	audit := NewMemoryStore()
	e := trainedEngine(t, store).WithAuditStore(audit)

	a := e.Assess(context.Background(), store, "0xwallet02", time.Time{})

	// The audit write is async and best-effort.
	deadline := time.Now().Add(2 * time.Second)
	for {
		recorded, err := audit.ListByWallet(context.Background(), "0xwallet02", 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(recorded) == 1 {
			if recorded[0].ID != a.ID || recorded[0].Score != a.Score {
				t.Errorf("recorded %+v, want id %s score %d", recorded[0], a.ID, a.Score)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("audit record never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// flakyStore fails the first N Record calls, then accepts.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	recorded []*Assessment
}

func (s *flakyStore) Record(ctx context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("audit store unavailable")
	}
	s.recorded = append(s.recorded, a)
	return nil
}

func (s *flakyStore) ListByWallet(ctx context.Context, wallet string, limit int) ([]*Assessment, error) {
	return nil, nil
}

func TestAuditWriteRetriesTransientFailures(t *testing.T) {
	store := history.NewStore()
	seedUniformWallets(store, 12)
	audit := &flakyStore{failures: 2}
	e := trainedEngine(t, store).WithAuditStore(audit)

	a := e.Assess(context.Background(), store, "0xwallet03", time.Time{})

	deadline := time.Now().Add(3 * time.Second)
	for {
		audit.mu.Lock()
		recorded := len(audit.recorded)
		calls := audit.calls
		audit.mu.Unlock()
		if recorded == 1 {
			if calls != 3 {
				t.Errorf("Record called %d times, want 3", calls)
			}
			audit.mu.Lock()
			if audit.recorded[0].ID != a.ID {
				t.Errorf("recorded id %s, want %s", audit.recorded[0].ID, a.ID)
			}
			audit.mu.Unlock()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit record never arrived after retries (calls %d)", calls)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDecisionBands(t *testing.T) {
	tests := []struct {
		score int
		want  Decision
	}{
		{0, DecisionAllow},
		{30, DecisionAllow},
		{31, DecisionLimit},
		{69, DecisionLimit},
		{70, DecisionFreeze},
		{100, DecisionFreeze},
	}
	for _, tt := range tests {
		if got := DecisionFor(tt.score); got != tt.want {
			t.Errorf("DecisionFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestFinalReason(t *testing.T) {
	tests := []struct {
		name          string
		score         int
		patternReason string
		want          string
	}{
		{"freeze keeps pattern reason", 85, "dust spam activity", "dust spam activity"},
		{"freeze without pattern signal", 85, patterns.NormalReason, "high-risk behavioral pattern"},
		{"freeze with empty reason", 85, "", "high-risk behavioral pattern"},
		{"limit names last word", 50, "sudden transaction burst", "moderate burst signals"},
		{"limit with empty reason", 45, "", "elevated risk signals"},
		{"allow", 20, "dust spam activity", patterns.NormalReason},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := finalReason(tt.score, tt.patternReason); got != tt.want {
				t.Errorf("finalReason(%d, %q) = %q, want %q", tt.score, tt.patternReason, got, tt.want)
			}
		})
	}
}

func TestEnsembleWeightsSumToOne(t *testing.T) {
	sums := map[string]float64{
		"pattern+neural":  defaultPatternWeight + defaultNeuralWeight,
		"pattern+anomaly": anomalyPatternWeight + anomalyModelWeight,
	}
	for mode, s := range sums {
		if math.Abs(s-1) > 1e-12 {
			t.Errorf("%s weights sum to %v, want 1", mode, s)
		}
	}
}

func TestNormalizeHandlesFlatColumns(t *testing.T) {
	e := NewEngine()
	e.featureMins = []float64{0, 5}
	e.featureMaxs = []float64{10, 5}

	out := e.normalize([]float64{5, 9})
	if out[0] != 0.5 {
		t.Errorf("normalized[0] = %v, want 0.5", out[0])
	}
	// Flat training column: divisor falls back to 1.
	if out[1] != 4 {
		t.Errorf("normalized[1] = %v, want 4", out[1])
	}
}

func TestAssessServesDuringRetrain(t *testing.T) {
	store := history.NewStore()
	seedUniformWallets(store, 12)
	e := trainedEngine(t, store)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				a := e.Assess(context.Background(), store, "0xwallet00", time.Time{})
				if a.Score < 0 || a.Score > 100 {
					t.Errorf("score out of range during retrain: %d", a.Score)
					return
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		if _, err := e.Train(context.Background(), store); err != nil {
			t.Errorf("retrain %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()

	if !e.Fitted() {
		t.Fatal("engine should remain fitted after retrains")
	}
}
