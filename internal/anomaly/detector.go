// Package anomaly flags wallets whose feature vectors do not resemble
// the training population, using an isolation forest. The forest
// carries its own calibration so decisions are comparable across
// retrains.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/MIRACULOUS65/sentinel-risk/internal/artifact"
)

const (
	artifactComponent = "isolation_forest"
	artifactVersion   = 1

	// DefaultTrees is the forest size used in production training.
	DefaultTrees = 300
	// DefaultContamination is the fraction of training wallets the
	// calibration treats as anomalous.
	DefaultContamination = 0.1

	maxSubSample = 256
	defaultSeed  = 42
)

// Detector scores feature vectors by how easily random splits isolate
// them. Zero value is unfitted and scores everything as 0.
type Detector struct {
	trees         int
	contamination float64
	seed          uint64

	forest    []*node
	subSample int
	dims      int
	offset    float64
	calib     calibration
	fitted    bool
}

// calibration summarizes training-set decision values so scores can be
// normalized onto 0-100.
type calibration struct {
	P5   float64 `json:"p5"`
	P95  float64 `json:"p95"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

func NewDetector() *Detector {
	return &Detector{
		trees:         DefaultTrees,
		contamination: DefaultContamination,
		seed:          defaultSeed,
	}
}

// WithTrees overrides the forest size.
func (d *Detector) WithTrees(n int) *Detector {
	d.trees = n
	return d
}

// WithContamination overrides the calibration fraction.
func (d *Detector) WithContamination(c float64) *Detector {
	d.contamination = c
	return d
}

// WithSeed overrides the sampling seed. Fits are deterministic for a
// given seed and training matrix.
func (d *Detector) WithSeed(seed uint64) *Detector {
	d.seed = seed
	return d
}

// Fitted reports whether the forest has been trained or loaded.
func (d *Detector) Fitted() bool { return d.fitted }

// Fit grows the forest over a feature matrix and calibrates decision
// values on the same matrix. Each tree sees a random subsample of at
// most 256 rows.
func (d *Detector) Fit(X [][]float64) error {
	if len(X) == 0 {
		return errors.New("anomaly: empty training matrix")
	}
	dims := len(X[0])
	if dims == 0 {
		return errors.New("anomaly: zero-width training matrix")
	}
	for i, row := range X {
		if len(row) != dims {
			return fmt.Errorf("anomaly: row %d has %d columns, want %d", i, len(row), dims)
		}
	}

	sub := maxSubSample
	if len(X) < sub {
		sub = len(X)
	}
	var limit int
	if sub > 1 {
		limit = int(math.Ceil(math.Log2(float64(sub))))
	}

	rng := rand.New(rand.NewPCG(d.seed, d.seed))
	forest := make([]*node, d.trees)
	for t := range forest {
		idx := rng.Perm(len(X))[:sub]
		forest[t] = buildTree(X, idx, 0, limit, rng)
	}

	d.forest = forest
	d.subSample = sub
	d.dims = dims

	// Anchor the zero line so the contamination fraction of training
	// rows lands below it.
	scores := make([]float64, len(X))
	for i, row := range X {
		scores[i] = d.rawScore(row)
	}
	d.offset = percentile(scores, d.contamination*100)

	decisions := make([]float64, len(scores))
	for i, s := range scores {
		decisions[i] = s - d.offset
	}
	d.calib = calibration{
		P5:   percentile(decisions, 5),
		P95:  percentile(decisions, 95),
		Mean: mean(decisions),
		Std:  stddev(decisions),
	}
	d.fitted = true
	return nil
}

// rawScore is the negated anomaly score, in [-1, 0). Lower means the
// sample isolates in fewer splits.
func (d *Detector) rawScore(x []float64) float64 {
	var total float64
	for _, tree := range d.forest {
		total += pathLength(tree, x)
	}
	avg := total / float64(len(d.forest))
	norm := avgPathLength(d.subSample)
	if norm == 0 {
		return -1
	}
	return -math.Pow(2, -avg/norm)
}

// Decision returns the calibrated anomaly decision for one sample.
// Negative values are anomalous relative to the training population.
// Unfitted detectors return 0. x must have the dimensionality of the
// training matrix.
func (d *Detector) Decision(x []float64) float64 {
	if !d.fitted {
		return 0
	}
	return d.rawScore(x) - d.offset
}

// Score maps the decision onto 0-100 using the training calibration
// percentiles. Higher means more anomalous. Unfitted detectors return
// 0.
func (d *Detector) Score(x []float64) int {
	if !d.fitted {
		return 0
	}
	raw := d.Decision(x)
	if d.calib.P95 > d.calib.P5 {
		n := (d.calib.P95 - raw) / (d.calib.P95 - d.calib.P5)
		return clamp(int(n*100), 0, 100)
	}
	return clamp(int((0.5-raw)*100), 0, 100)
}

type detectorState struct {
	Trees         []*node     `json:"trees"`
	SubSample     int         `json:"subSample"`
	Dims          int         `json:"dims"`
	Contamination float64     `json:"contamination"`
	Offset        float64     `json:"offset"`
	Calibration   calibration `json:"calibration"`
}

// Save persists the forest and its calibration. It fails if the
// detector has not been fitted.
func (d *Detector) Save(path string) error {
	if !d.fitted {
		return errors.New("anomaly: detector not fitted")
	}
	return artifact.Save(path, artifactComponent, artifactVersion, detectorState{
		Trees:         d.forest,
		SubSample:     d.subSample,
		Dims:          d.dims,
		Contamination: d.contamination,
		Offset:        d.offset,
		Calibration:   d.calib,
	})
}

// Load restores a forest saved by Save.
func (d *Detector) Load(path string) error {
	var state detectorState
	if err := artifact.Load(path, artifactComponent, artifactVersion, &state); err != nil {
		return err
	}
	d.forest = state.Trees
	d.subSample = state.SubSample
	d.dims = state.Dims
	d.contamination = state.Contamination
	d.offset = state.Offset
	d.calib = state.Calibration
	d.trees = len(state.Trees)
	d.fitted = true
	return nil
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
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

// percentile interpolates linearly between closest ranks.
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
