package patterns

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/MIRACULOUS65/sentinel-risk/internal/artifact"
)

const (
	artifactComponent = "pattern_scorer"
	artifactVersion   = 1
)

// Baseline holds the per-feature statistics fitted from training data.
// Std carries a small floor so z-scores never divide by zero.
type Baseline struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	P25  float64 `json:"p25"`
	P75  float64 `json:"p75"`
	P90  float64 `json:"p90"`
}

// Scorer turns a feature map into per-pattern scores on a 0-100 scale.
// Zero value is unfitted and scores everything as 0.
type Scorer struct {
	baselines map[string]Baseline
	fitted    bool
}

func NewScorer() *Scorer {
	return &Scorer{baselines: make(map[string]Baseline)}
}

// Fitted reports whether baselines have been computed or loaded.
func (s *Scorer) Fitted() bool { return s.fitted }

// Baseline returns the fitted statistics for one feature.
func (s *Scorer) Baseline(feature string) (Baseline, bool) {
	b, ok := s.baselines[feature]
	return b, ok
}

// Fit computes per-feature baselines over a feature matrix. Rows are
// wallets, columns follow names.
func (s *Scorer) Fit(matrix [][]float64, names []string) error {
	if len(matrix) == 0 {
		return errors.New("patterns: empty feature matrix")
	}
	for i, row := range matrix {
		if len(row) != len(names) {
			return fmt.Errorf("patterns: row %d has %d columns, want %d", i, len(row), len(names))
		}
	}
	baselines := make(map[string]Baseline, len(names))
	col := make([]float64, len(matrix))
	for j, name := range names {
		for i := range matrix {
			col[i] = matrix[i][j]
		}
		baselines[name] = Baseline{
			Mean: mean(col),
			Std:  stddev(col) + 1e-9,
			P25:  percentile(col, 25),
			P75:  percentile(col, 75),
			P90:  percentile(col, 90),
		}
	}
	s.baselines = baselines
	s.fitted = true
	return nil
}

func (s *Scorer) zscore(feature string, value float64) float64 {
	b, ok := s.baselines[feature]
	if !ok {
		return 0
	}
	return (value - b.Mean) / b.Std
}

// ScorePattern evaluates one pattern against a feature map. It returns
// the weighted z-score and its banded 0-100 score. Features missing
// from the map are skipped and their weight does not count toward the
// normalizer. Unfitted scorers and unknown patterns score 0.
func (s *Scorer) ScorePattern(name string, features map[string]float64) (float64, int) {
	if !s.fitted {
		return 0, 0
	}
	def, ok := Definitions[name]
	if !ok {
		return 0, 0
	}
	var weightedZ, totalWeight float64
	for i, feat := range def.Features {
		v, ok := features[feat]
		if !ok {
			continue
		}
		weightedZ += def.Weights[i] * s.zscore(feat, v)
		totalWeight += math.Abs(def.Weights[i])
	}
	if totalWeight == 0 {
		return 0, 0
	}
	weightedZ /= totalWeight
	return weightedZ, bandScore(weightedZ, def.Threshold)
}

// bandScore maps a weighted z-score to 0-100 through piecewise-linear
// bands anchored at multiples of the pattern threshold. The mapping is
// continuous and non-decreasing.
func bandScore(wz, threshold float64) int {
	t := threshold
	var score float64
	switch {
	case wz >= 2*t:
		score = 80 + math.Min(20, (wz-2*t)*10)
	case wz >= 1.5*t:
		score = 60 + (wz-1.5*t)/(0.5*t)*20
	case wz >= t:
		score = 35 + (wz-t)/(0.5*t)*25
	case wz >= 0.5*t:
		score = 15 + (wz-0.5*t)/(0.5*t)*20
	case wz > 0:
		score = wz / (0.5 * t) * 15
	}
	n := int(score)
	if n > 100 {
		n = 100
	}
	if n < 0 {
		n = 0
	}
	return n
}

// ScoreAll scores every pattern.
func (s *Scorer) ScoreAll(features map[string]float64) map[string]int {
	scores := make(map[string]int, len(Order))
	for _, name := range Order {
		_, score := s.ScorePattern(name, features)
		scores[name] = score
	}
	return scores
}

// Assess returns the dominant pattern score, a human-readable reason
// and the full per-pattern score map. Ties resolve to the first
// pattern in Order.
func (s *Scorer) Assess(features map[string]float64) (int, string, map[string]int) {
	scores := s.ScoreAll(features)
	best := ""
	bestScore := -1
	for _, name := range Order {
		if scores[name] > bestScore {
			best = name
			bestScore = scores[name]
		}
	}
	var reason string
	switch {
	case bestScore >= 70:
		reason = Definitions[best].Reason
	case bestScore >= 35:
		reason = fmt.Sprintf("moderate %s signals", best)
	default:
		reason = NormalReason
	}
	return bestScore, reason, scores
}

type scorerState struct {
	Baselines map[string]Baseline `json:"baselines"`
}

// Save persists the fitted baselines. It fails if the scorer has not
// been fitted.
func (s *Scorer) Save(path string) error {
	if !s.fitted {
		return errors.New("patterns: scorer not fitted")
	}
	return artifact.Save(path, artifactComponent, artifactVersion, scorerState{Baselines: s.baselines})
}

// Load restores baselines saved by Save.
func (s *Scorer) Load(path string) error {
	var state scorerState
	if err := artifact.Load(path, artifactComponent, artifactVersion, &state); err != nil {
		return err
	}
	s.baselines = state.Baselines
	s.fitted = true
	return nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// percentile interpolates linearly between closest ranks, matching how
// the training tooling computed the saved baselines.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
