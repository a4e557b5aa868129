// Package train orchestrates the offline training pipeline: dataset
// loading, ensemble fitting, the neural stage, validation scoring, and
// artifact persistence.
package train

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/MIRACULOUS65/sentinel-risk/internal/features"
	"github.com/MIRACULOUS65/sentinel-risk/internal/history"
	"github.com/MIRACULOUS65/sentinel-risk/internal/ingest"
	"github.com/MIRACULOUS65/sentinel-risk/internal/logging"
	"github.com/MIRACULOUS65/sentinel-risk/internal/neural"
	"github.com/MIRACULOUS65/sentinel-risk/internal/patterns"
	"github.com/MIRACULOUS65/sentinel-risk/internal/risk"
	"github.com/MIRACULOUS65/sentinel-risk/internal/traces"
)

// Label sources for the neural stage.
const (
	// LabelsPattern derives labels from the fitted pattern scorer, so
	// the network learns to approximate and smooth the rule ensemble.
	LabelsPattern = "pattern"

	// LabelsHeuristic derives labels from fixed feature thresholds.
	LabelsHeuristic = "heuristic"
)

// TrainingHistoryFile is written next to the model artifacts after a
// successful neural stage.
const TrainingHistoryFile = "training_history.json"

// maxValidationWallets caps how many wallets the post-training
// validation pass scores.
const maxValidationWallets = 200

// Config holds the pipeline knobs. Zero values fall back to defaults.
type Config struct {
	MinWalletTxs  int
	ValSplit      float64
	TestSplit     float64
	Epochs        int
	BatchSize     int
	LearningRate  float64
	Patience      int
	Labels        string
	Seed          uint64
	NeuralEnabled bool
}

func (c Config) withDefaults() Config {
	if c.MinWalletTxs <= 0 {
		c.MinWalletTxs = 5
	}
	if c.ValSplit <= 0 || c.ValSplit >= 1 {
		c.ValSplit = 0.2
	}
	if c.TestSplit <= 0 || c.TestSplit >= 1 {
		c.TestSplit = 0.1
	}
	if c.Epochs <= 0 {
		c.Epochs = neural.DefaultEpochs
	}
	if c.BatchSize <= 0 {
		c.BatchSize = neural.DefaultBatchSize
	}
	if c.LearningRate <= 0 {
		c.LearningRate = neural.DefaultLearningRate
	}
	if c.Patience <= 0 {
		c.Patience = neural.DefaultPatience
	}
	if c.Labels == "" {
		c.Labels = LabelsPattern
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	return c
}

// Summary reports what a pipeline run produced.
type Summary struct {
	Transactions int
	Wallets      int
	Neural       *NeuralSummary
	Validation   *Distribution
	Duration     time.Duration
}

// NeuralSummary reports the neural stage outcome.
type NeuralSummary struct {
	Samples      int
	Epochs       int
	BestValLoss  float64
	TestMAE      float64
	TestRMSE     float64
	TestAccuracy float64
}

// Distribution buckets validation scores by decision band.
type Distribution struct {
	Wallets int
	Freeze  int
	Limit   int
	Allow   int
	Min     int
	Max     int
	Mean    float64
	Std     float64
}

// Pipeline wires dataset ingestion, the risk engine, and the neural
// stage into one training run.
type Pipeline struct {
	cfg    Config
	log    *slog.Logger
	engine *risk.Engine
	store  *history.Store
}

// New creates a pipeline with a fresh engine and history store.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		cfg:    cfg.withDefaults(),
		log:    slog.Default(),
		engine: risk.NewEngine(),
		store:  history.NewStore(),
	}
}

// WithLogger sets the pipeline logger, shared with the engine.
func (p *Pipeline) WithLogger(log *slog.Logger) *Pipeline {
	p.log = log
	p.engine.WithLogger(log)
	return p
}

// WithEngine replaces the engine, keeping any audit store or weights
// already configured on it.
func (p *Pipeline) WithEngine(e *risk.Engine) *Pipeline {
	p.engine = e
	return p
}

// WithStore replaces the history store, keeping its retention settings.
func (p *Pipeline) WithStore(s *history.Store) *Pipeline {
	p.store = s
	return p
}

// Engine returns the engine, trained after a successful Run.
func (p *Pipeline) Engine() *risk.Engine {
	return p.engine
}

// Store returns the history store backing the pipeline.
func (p *Pipeline) Store() *history.Store {
	return p.store
}

// Run trains the full ensemble from a dataset file and persists the
// artifacts under modelDir. The dataset is split in stream order: the
// leading (1 - ValSplit) share trains the models, the tail is scored
// for the validation distribution. A failed neural stage degrades to
// the pattern+anomaly ensemble instead of failing the run.
func (p *Pipeline) Run(ctx context.Context, datasetPath, modelDir string) (*Summary, error) {
	start := time.Now()
	ctx = logging.WithLogger(ctx, p.log)
	ctx, span := traces.StartSpan(ctx, "train.Run", traces.Dataset(datasetPath))
	defer span.End()

	txs, err := ingest.ReadFile(datasetPath)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("train: dataset %s has no transactions", datasetPath)
	}

	split := int(float64(len(txs)) * (1 - p.cfg.ValSplit))
	trainTxs, valTxs := txs[:split], txs[split:]
	p.log.Info("dataset loaded",
		"path", datasetPath,
		"transactions", len(txs),
		"train", len(trainTxs),
		"validation", len(valTxs))

	ingest.LoadInto(p.store, trainTxs)
	stats, err := p.engine.Train(ctx, p.store)
	if err != nil {
		return nil, err
	}

	var neuralSum *NeuralSummary
	if p.cfg.NeuralEnabled {
		net, ns, err := p.neuralStage(ctx)
		if err != nil {
			p.log.Warn("neural stage failed, continuing with pattern+anomaly ensemble", "error", err)
		} else {
			p.engine.AttachNeural(net)
			if err := net.Save(filepath.Join(modelDir, risk.NeuralModelFile)); err != nil {
				return nil, fmt.Errorf("train: save neural model: %w", err)
			}
			if err := writeTrainingHistory(modelDir, net.History(), ns); err != nil {
				return nil, err
			}
			neuralSum = ns
		}
	}

	ingest.LoadInto(p.store, valTxs)
	dist := p.validate(ctx, valTxs)

	if err := p.engine.Save(modelDir); err != nil {
		return nil, err
	}

	summary := &Summary{
		Transactions: len(txs),
		Wallets:      stats.Wallets,
		Neural:       neuralSum,
		Validation:   dist,
		Duration:     time.Since(start),
	}
	p.log.Info("training complete",
		"wallets", summary.Wallets,
		"neural", neuralSum != nil,
		"duration", summary.Duration)
	return summary, nil
}

// neuralStage fits the network on per-wallet feature rows labeled by
// the configured label source.
func (p *Pipeline) neuralStage(ctx context.Context) (*neural.Network, *NeuralSummary, error) {
	_, span := traces.StartSpan(ctx, "train.neuralStage")
	defer span.End()

	X, err := p.featureMatrix()
	if err != nil {
		return nil, nil, err
	}

	y, err := p.labels(X)
	if err != nil {
		return nil, nil, err
	}

	n := len(X)
	testSize := int(float64(n) * p.cfg.TestSplit)
	valSize := int(float64(n) * p.cfg.ValSplit)
	trainSize := n - testSize - valSize
	if trainSize < 1 || valSize < 1 {
		return nil, nil, fmt.Errorf("train: %d wallets is not enough for a %.0f%%/%.0f%% validation/test split",
			n, p.cfg.ValSplit*100, p.cfg.TestSplit*100)
	}

	Xn := normalizeColumns(X)

	rng := rand.New(rand.NewPCG(p.cfg.Seed, p.cfg.Seed))
	perm := rng.Perm(n)
	testIdx := perm[:testSize]
	valIdx := perm[testSize : testSize+valSize]
	trainIdx := perm[testSize+valSize:]

	trainX, trainY := gather(Xn, y, trainIdx)
	valX, valY := gather(Xn, y, valIdx)
	testX, testY := gather(Xn, y, testIdx)

	p.log.Info("neural stage",
		"samples", n,
		"train", len(trainX),
		"validation", len(valX),
		"test", len(testX),
		"labels", p.cfg.Labels)

	net := neural.NewNetwork(features.Count).
		WithLearningRate(p.cfg.LearningRate).
		WithSeed(p.cfg.Seed)
	hist, err := net.Fit(trainX, trainY, valX, valY, neural.FitConfig{
		Epochs:    p.cfg.Epochs,
		BatchSize: p.cfg.BatchSize,
		Patience:  p.cfg.Patience,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("train: neural fit: %w", err)
	}

	summary := &NeuralSummary{
		Samples:     n,
		Epochs:      hist.EpochsTrained,
		BestValLoss: hist.BestValLoss,
	}
	if len(testX) > 0 {
		if err := evaluate(net, testX, testY, summary); err != nil {
			return nil, nil, err
		}
		p.log.Info("neural test evaluation",
			"mae", summary.TestMAE,
			"rmse", summary.TestRMSE,
			"categoryAccuracy", summary.TestAccuracy)
	}
	return net, summary, nil
}

// featureMatrix extracts one raw feature row per wallet with enough
// sent history, each relative to that wallet's latest transaction.
func (p *Pipeline) featureMatrix() ([][]float64, error) {
	var matrix [][]float64
	for _, wallet := range p.store.SenderWallets() {
		if p.store.SenderCount(wallet) < p.cfg.MinWalletTxs {
			continue
		}
		sent := p.store.Sent(wallet, 0, time.Time{})
		received := p.store.Received(wallet, 0, time.Time{})
		matrix = append(matrix, features.Extract(sent, received, latestTimestamp(sent)))
	}
	if len(matrix) == 0 {
		return nil, fmt.Errorf("train: no wallets with at least %d transactions", p.cfg.MinWalletTxs)
	}
	return matrix, nil
}

// labels produces one 0..1 label per feature row.
func (p *Pipeline) labels(X [][]float64) ([]float64, error) {
	switch p.cfg.Labels {
	case LabelsHeuristic:
		return SyntheticLabels(X), nil
	case LabelsPattern:
		scorer := patterns.NewScorer()
		if err := scorer.Fit(X, features.Names); err != nil {
			return nil, fmt.Errorf("train: fit label scorer: %w", err)
		}
		y := make([]float64, len(X))
		for i, row := range X {
			m := make(map[string]float64, len(features.Names))
			for j, name := range features.Names {
				m[name] = row[j]
			}
			score, _, _ := scorer.Assess(m)
			y[i] = float64(score) / 100
		}
		return y, nil
	default:
		return nil, fmt.Errorf("train: unknown label source %q", p.cfg.Labels)
	}
}

// validate scores the wallets seen in the validation slice and buckets
// their scores by decision band.
func (p *Pipeline) validate(ctx context.Context, valTxs []history.Transaction) *Distribution {
	seen := make(map[string]struct{}, len(valTxs))
	var wallets []string
	for _, tx := range valTxs {
		if _, ok := seen[tx.FromWallet]; !ok {
			seen[tx.FromWallet] = struct{}{}
			wallets = append(wallets, tx.FromWallet)
		}
	}
	sort.Strings(wallets)
	if len(wallets) > maxValidationWallets {
		wallets = wallets[:maxValidationWallets]
	}

	dist := &Distribution{}
	var scores []float64
	for _, wallet := range wallets {
		if p.store.SenderCount(wallet) < p.cfg.MinWalletTxs {
			continue
		}
		a := p.engine.Assess(logging.WithWallet(ctx, wallet), p.store, wallet, time.Time{})
		switch {
		case a.Score >= risk.FreezeThreshold:
			dist.Freeze++
		case a.Score >= risk.LimitThreshold:
			dist.Limit++
		default:
			dist.Allow++
		}
		if len(scores) == 0 || a.Score < dist.Min {
			dist.Min = a.Score
		}
		if a.Score > dist.Max {
			dist.Max = a.Score
		}
		scores = append(scores, float64(a.Score))
	}

	dist.Wallets = len(scores)
	if len(scores) > 0 {
		dist.Mean = mean(scores)
		dist.Std = stddev(scores, dist.Mean)
	}
	p.log.Info("validation distribution",
		"wallets", dist.Wallets,
		"freeze", dist.Freeze,
		"limit", dist.Limit,
		"allow", dist.Allow,
		"min", dist.Min,
		"max", dist.Max,
		"mean", dist.Mean,
		"std", dist.Std)
	return dist
}

// evaluate fills the test metrics on the summary.
func evaluate(net *neural.Network, X [][]float64, y []float64, s *NeuralSummary) error {
	var absSum, sqSum float64
	var catHits int
	for i, row := range X {
		pred, err := net.Predict(row)
		if err != nil {
			return fmt.Errorf("train: test predict: %w", err)
		}
		truth := int(y[i] * 100)
		diff := float64(pred - truth)
		absSum += math.Abs(diff)
		sqSum += diff * diff
		if riskCategory(pred) == riskCategory(truth) {
			catHits++
		}
	}
	n := float64(len(X))
	s.TestMAE = absSum / n
	s.TestRMSE = math.Sqrt(sqSum / n)
	s.TestAccuracy = float64(catHits) / n
	return nil
}

func riskCategory(score int) int {
	switch {
	case score < risk.LimitThreshold:
		return 0
	case score < risk.FreezeThreshold:
		return 1
	default:
		return 2
	}
}

// trainingHistory is the on-disk summary written after the neural
// stage, one flat JSON object.
type trainingHistory struct {
	EpochsTrained  int     `json:"epochs_trained"`
	FinalTrainLoss float64 `json:"final_train_loss"`
	FinalValLoss   float64 `json:"final_val_loss"`
	BestValLoss    float64 `json:"best_val_loss"`
	TestMAE        float64 `json:"test_mae"`
	TestRMSE       float64 `json:"test_rmse"`
	TestAccuracy   float64 `json:"test_accuracy"`
}

func writeTrainingHistory(modelDir string, hist neural.History, s *NeuralSummary) error {
	th := trainingHistory{
		EpochsTrained: hist.EpochsTrained,
		BestValLoss:   hist.BestValLoss,
		TestMAE:       s.TestMAE,
		TestRMSE:      s.TestRMSE,
		TestAccuracy:  s.TestAccuracy,
	}
	if n := len(hist.TrainLosses); n > 0 {
		th.FinalTrainLoss = hist.TrainLosses[n-1]
	}
	if n := len(hist.ValLosses); n > 0 {
		th.FinalValLoss = hist.ValLosses[n-1]
	}

	raw, err := json.MarshalIndent(th, "", "  ")
	if err != nil {
		return fmt.Errorf("train: marshal history: %w", err)
	}
	path := filepath.Join(modelDir, TrainingHistoryFile)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("train: write history: %w", err)
	}
	return nil
}

// normalizeColumns min-max scales each column to 0..1. Columns with no
// spread become all zeros.
func normalizeColumns(X [][]float64) [][]float64 {
	if len(X) == 0 {
		return nil
	}
	dims := len(X[0])
	mins := make([]float64, dims)
	maxs := make([]float64, dims)
	copy(mins, X[0])
	copy(maxs, X[0])
	for _, row := range X[1:] {
		for j, v := range row {
			if v < mins[j] {
				mins[j] = v
			}
			if v > maxs[j] {
				maxs[j] = v
			}
		}
	}

	out := make([][]float64, len(X))
	for i, row := range X {
		r := make([]float64, dims)
		for j, v := range row {
			if span := maxs[j] - mins[j]; span > 0 {
				r[j] = (v - mins[j]) / span
			}
		}
		out[i] = r
	}
	return out
}

func gather(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	gx := make([][]float64, 0, len(idx))
	gy := make([]float64, 0, len(idx))
	for _, i := range idx {
		gx = append(gx, X[i])
		gy = append(gy, y[i])
	}
	return gx, gy
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

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
