package risk

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MIRACULOUS65/sentinel-risk/internal/anomaly"
	"github.com/MIRACULOUS65/sentinel-risk/internal/features"
	"github.com/MIRACULOUS65/sentinel-risk/internal/history"
	"github.com/MIRACULOUS65/sentinel-risk/internal/idgen"
	"github.com/MIRACULOUS65/sentinel-risk/internal/logging"
	"github.com/MIRACULOUS65/sentinel-risk/internal/metrics"
	"github.com/MIRACULOUS65/sentinel-risk/internal/neural"
	"github.com/MIRACULOUS65/sentinel-risk/internal/patterns"
	"github.com/MIRACULOUS65/sentinel-risk/internal/retry"
	"github.com/MIRACULOUS65/sentinel-risk/internal/traces"
)

const (
	// minTrainTxs is the sent-transaction floor for a wallet to count
	// as a training example.
	minTrainTxs = 5
	// minAssessTxs is the sent-transaction floor below which a wallet
	// cannot be scored.
	minAssessTxs = 2

	defaultPatternWeight = 0.5
	defaultNeuralWeight  = 0.5

	// Blend used when no neural network participates.
	anomalyPatternWeight = 0.7
	anomalyModelWeight   = 0.3

	// Audit writes retry transient store failures inside the record
	// deadline.
	auditAttempts = 3
	auditBackoff  = 100 * time.Millisecond
)

// Engine combines the pattern scorer, the isolation forest and an
// optional neural network into one wallet assessment. Training swaps
// in freshly fitted components under a short write lock, so serving
// continues during retrains.
type Engine struct {
	mu       sync.RWMutex
	scorer   *patterns.Scorer
	detector *anomaly.Detector
	network  *neural.Network

	patternWeight float64
	neuralWeight  float64
	featureMins   []float64
	featureMaxs   []float64
	useNeural     bool
	fitted        bool

	store Store
	log   *slog.Logger
}

// TrainStats summarizes a completed training run.
type TrainStats struct {
	Wallets  int
	Duration time.Duration
}

// NewEngine creates an untrained risk engine.
func NewEngine() *Engine {
	return &Engine{
		scorer:        patterns.NewScorer(),
		detector:      anomaly.NewDetector(),
		patternWeight: defaultPatternWeight,
		neuralWeight:  defaultNeuralWeight,
		log:           slog.Default(),
	}
}

// WithAuditStore records every full assessment to the given store.
func (e *Engine) WithAuditStore(s Store) *Engine {
	e.store = s
	return e
}

// WithLogger overrides the default logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.log = l
	return e
}

// WithWeights overrides the pattern/neural ensemble weights.
func (e *Engine) WithWeights(pattern, neural float64) *Engine {
	e.patternWeight = pattern
	e.neuralWeight = neural
	return e
}

// AttachNeural adds a trained network to the scoring ensemble. Passing
// nil detaches it.
func (e *Engine) AttachNeural(n *neural.Network) *Engine {
	e.mu.Lock()
	e.network = n
	e.useNeural = n != nil
	fitted := e.fitted
	useNeural := e.useNeural
	e.mu.Unlock()
	metrics.SetModelState(fitted, useNeural)
	return e
}

// Fitted reports whether the engine has been trained or loaded.
func (e *Engine) Fitted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fitted
}

// UsingNeural reports whether the neural stage participates in scores.
func (e *Engine) UsingNeural() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.useNeural && e.network != nil
}

// Train fits the pattern baselines and the isolation forest over every
// wallet with enough sent history. Each wallet's features are computed
// relative to its own latest transaction, so stale wallets do not all
// collapse to zero activity.
func (e *Engine) Train(ctx context.Context, store *history.Store) (TrainStats, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "risk.Train")
	defer span.End()

	var wallets []string
	for _, w := range store.SenderWallets() {
		if store.SenderCount(w) >= minTrainTxs {
			wallets = append(wallets, w)
		}
	}
	if len(wallets) == 0 {
		span.RecordError(ErrNoTrainingData)
		metrics.ObserveTraining("error", time.Since(start))
		return TrainStats{}, ErrNoTrainingData
	}
	span.SetAttributes(traces.WalletCount(len(wallets)))

	matrix := make([][]float64, len(wallets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, w := range wallets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sent := store.Sent(w, 0, time.Time{})
			received := store.Received(w, 0, time.Time{})
			matrix[i] = features.Extract(sent, received, latestTimestamp(sent))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		metrics.ObserveTraining("error", time.Since(start))
		return TrainStats{}, err
	}

	mins, maxs := columnRanges(matrix)

	scorer := patterns.NewScorer()
	if err := scorer.Fit(matrix, features.Names); err != nil {
		span.RecordError(err)
		metrics.ObserveTraining("error", time.Since(start))
		return TrainStats{}, err
	}
	detector := anomaly.NewDetector()
	if err := detector.Fit(matrix); err != nil {
		span.RecordError(err)
		metrics.ObserveTraining("error", time.Since(start))
		return TrainStats{}, err
	}

	e.mu.Lock()
	e.scorer = scorer
	e.detector = detector
	e.featureMins = mins
	e.featureMaxs = maxs
	e.fitted = true
	neuralActive := e.useNeural && e.network != nil
	e.mu.Unlock()

	dur := time.Since(start)
	metrics.ObserveTraining("ok", dur)
	metrics.SetModelState(true, neuralActive)
	metrics.WalletsTracked.Set(float64(store.WalletCount()))
	e.log.Info("risk model trained",
		"wallets", len(wallets),
		"features", features.Count,
		"neural", neuralActive,
		"duration", dur)
	return TrainStats{Wallets: len(wallets), Duration: dur}, nil
}

// Assess scores one wallet. ref anchors the time windows; zero means
// the wallet's latest sent transaction. Untrained engines and wallets
// with fewer than two sent transactions produce a zero-score
// assessment with an explanatory reason.
func (e *Engine) Assess(ctx context.Context, store *history.Store, wallet string, ref time.Time) *Assessment {
	ctx, span := traces.StartSpan(ctx, "risk.Assess", traces.Wallet(wallet))
	defer span.End()

	e.mu.RLock()
	defer e.mu.RUnlock()

	now := time.Now()
	if !e.fitted {
		return &Assessment{
			ID:         idgen.WithPrefix("risk_"),
			Wallet:     wallet,
			Decision:   DecisionAllow,
			Reason:     "model not trained",
			AssessedAt: now,
		}
	}

	sent := store.Sent(wallet, 0, time.Time{})
	if len(sent) < minAssessTxs {
		return &Assessment{
			ID:         idgen.WithPrefix("risk_"),
			Wallet:     wallet,
			Decision:   DecisionAllow,
			Reason:     "insufficient transaction history",
			TxCount:    len(sent),
			AssessedAt: now,
		}
	}
	if ref.IsZero() {
		ref = latestTimestamp(sent)
	}
	received := store.Received(wallet, 0, time.Time{})

	vec := features.Extract(sent, received, ref)
	fmap := vec.Map()

	patternScore, patternReason, patternScores := e.scorer.Assess(fmap)

	usingNeural := e.useNeural && e.network != nil
	var modelScore int
	if usingNeural {
		score, err := e.network.Predict(e.normalize(vec))
		if err != nil {
			logging.L(ctx).Warn("neural scoring failed, using pattern score", "error", err)
			score = patternScore
		}
		modelScore = score
	} else {
		modelScore = e.detector.Score(vec)
	}

	var final int
	if usingNeural {
		final = int(e.patternWeight*float64(patternScore) + e.neuralWeight*float64(modelScore))
	} else {
		final = int(anomalyPatternWeight*float64(patternScore) + anomalyModelWeight*float64(modelScore))
	}
	if final > 100 {
		final = 100
	} else if final < 0 {
		final = 0
	}

	a := &Assessment{
		ID:            idgen.WithPrefix("risk_"),
		Wallet:        wallet,
		Score:         final,
		Decision:      DecisionFor(final),
		Reason:        finalReason(final, patternReason),
		PatternScore:  patternScore,
		ModelScore:    modelScore,
		PatternReason: patternReason,
		PatternScores: patternScores,
		Features:      fmap,
		TxCount:       len(sent),
		UsingNeural:   usingNeural,
		AssessedAt:    now,
	}

	span.SetAttributes(traces.Score(a.Score))
	metrics.ObserveAssessment(string(a.Decision), a.Score)

	// Persist asynchronously (best-effort audit trail)
	if e.store != nil {
		go func() {
			recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := retry.Do(recordCtx, auditAttempts, auditBackoff, func() error {
				return e.store.Record(recordCtx, a)
			})
			if err != nil {
				metrics.AuditWritesTotal.WithLabelValues("error").Inc()
				e.log.Warn("audit write failed", "wallet", a.Wallet, "error", err)
				return
			}
			metrics.AuditWritesTotal.WithLabelValues("ok").Inc()
		}()
	}

	return a
}

// finalReason phrases the assessment. High final scores keep the
// pattern's own reason unless no pattern actually fired.
func finalReason(score int, patternReason string) string {
	switch {
	case score >= FreezeThreshold:
		if patternReason != "" && !strings.Contains(patternReason, "normal") {
			return patternReason
		}
		return "high-risk behavioral pattern"
	case score >= LimitThreshold:
		if patternReason == "" {
			return "elevated risk signals"
		}
		words := strings.Fields(patternReason)
		return "moderate " + words[len(words)-1] + " signals"
	default:
		return patterns.NormalReason
	}
}

// normalize rescales a raw feature vector onto [0, 1] per feature
// using the ranges captured at training time.
func (e *Engine) normalize(vec []float64) []float64 {
	out := make([]float64, len(vec))
	for j, v := range vec {
		span := e.featureMaxs[j] - e.featureMins[j]
		if span == 0 {
			span = 1
		}
		out[j] = (v - e.featureMins[j]) / span
	}
	return out
}

func columnRanges(matrix [][]float64) (mins, maxs []float64) {
	mins = append([]float64(nil), matrix[0]...)
	maxs = append([]float64(nil), matrix[0]...)
	for _, row := range matrix[1:] {
		for j, v := range row {
			if v < mins[j] {
				mins[j] = v
			}
			if v > maxs[j] {
				maxs[j] = v
			}
		}
	}
	return mins, maxs
}

func latestTimestamp(txs []history.Transaction) time.Time {
	var latest time.Time
	for _, tx := range txs {
		if tx.Timestamp.After(latest) {
			latest = tx.Timestamp
		}
	}
	return latest
}
