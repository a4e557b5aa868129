// Package neural trains a small feed-forward network that refines
// pattern-derived risk labels. It is an optional scoring stage: the
// risk engine degrades to pattern plus anomaly scoring when no trained
// network is available.
package neural

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/MIRACULOUS65/sentinel-risk/internal/artifact"
)

const (
	artifactComponent = "neural_model"
	artifactVersion   = 1

	// DefaultLearningRate and friends mirror the production training
	// configuration.
	DefaultLearningRate = 0.001
	DefaultDropout      = 0.2
	DefaultEpochs       = 100
	DefaultBatchSize    = 32
	DefaultPatience     = 15

	defaultSeed = 42
)

// DefaultHidden is the production hidden-layer layout.
var DefaultHidden = []int{64, 32, 16}

// Network is a fully connected net with ReLU hidden layers and a
// sigmoid output in [0, 1]. Weights initialize lazily on first use so
// the chainable configuration can settle first.
type Network struct {
	inputDim int
	hidden   []int
	lr       float64
	dropout  float64
	seed     uint64

	weights [][][]float64 // weights[l][in][out]
	biases  [][]float64
	rng     *rand.Rand

	history History
}

// History records per-epoch training progress.
type History struct {
	TrainLosses     []float64 `json:"trainLosses"`
	ValLosses       []float64 `json:"valLosses"`
	TrainAccuracies []float64 `json:"trainAccuracies"`
	ValAccuracies   []float64 `json:"valAccuracies"`
	BestValLoss     float64   `json:"bestValLoss"`
	EpochsTrained   int       `json:"epochsTrained"`
}

// FitConfig controls a training run. Zero values fall back to the
// defaults above.
type FitConfig struct {
	Epochs    int
	BatchSize int
	Patience  int
}

func (c FitConfig) withDefaults() FitConfig {
	if c.Epochs <= 0 {
		c.Epochs = DefaultEpochs
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Patience <= 0 {
		c.Patience = DefaultPatience
	}
	return c
}

func NewNetwork(inputDim int) *Network {
	return &Network{
		inputDim: inputDim,
		hidden:   append([]int(nil), DefaultHidden...),
		lr:       DefaultLearningRate,
		dropout:  DefaultDropout,
		seed:     defaultSeed,
	}
}

// WithHidden overrides the hidden-layer sizes.
func (n *Network) WithHidden(sizes ...int) *Network {
	n.hidden = append([]int(nil), sizes...)
	return n
}

// WithLearningRate overrides the gradient step size.
func (n *Network) WithLearningRate(lr float64) *Network {
	n.lr = lr
	return n
}

// WithDropout overrides the hidden-layer dropout rate.
func (n *Network) WithDropout(rate float64) *Network {
	n.dropout = rate
	return n
}

// WithSeed overrides the seed for weight init, shuffles and dropout.
func (n *Network) WithSeed(seed uint64) *Network {
	n.seed = seed
	return n
}

// InputDim returns the expected feature vector width.
func (n *Network) InputDim() int { return n.inputDim }

// History returns the record of the most recent Fit.
func (n *Network) History() History { return n.history }

func (n *Network) layerSizes() []int {
	sizes := make([]int, 0, len(n.hidden)+2)
	sizes = append(sizes, n.inputDim)
	sizes = append(sizes, n.hidden...)
	return append(sizes, 1)
}

// ensureInit builds He-scaled random weights once.
func (n *Network) ensureInit() {
	if n.rng == nil {
		n.rng = rand.New(rand.NewPCG(n.seed, n.seed))
	}
	if n.weights != nil {
		return
	}
	sizes := n.layerSizes()
	n.weights = make([][][]float64, len(sizes)-1)
	n.biases = make([][]float64, len(sizes)-1)
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		scale := math.Sqrt(2 / float64(in))
		W := make([][]float64, in)
		for i := range W {
			row := make([]float64, out)
			for j := range row {
				row[j] = n.rng.NormFloat64() * scale
			}
			W[i] = row
		}
		n.weights[l] = W
		n.biases[l] = make([]float64, out)
	}
}

// forward runs a batch through the network and returns all layer
// activations, input first, output last. Hidden activations are stored
// after dropout so backprop masks dropped units.
func (n *Network) forward(X [][]float64, training bool) [][][]float64 {
	acts := make([][][]float64, 0, len(n.weights)+1)
	acts = append(acts, X)
	a := X
	last := len(n.weights) - 1
	for l, W := range n.weights {
		z := addBias(matMul(a, W), n.biases[l])
		if l == last {
			a = applyFunc(z, sigmoid)
		} else {
			a = applyFunc(z, relu)
			if training && n.dropout > 0 {
				n.applyDropout(a)
			}
		}
		acts = append(acts, a)
	}
	return acts
}

// applyDropout zeroes units with probability dropout and rescales the
// survivors so expected activation is unchanged.
func (n *Network) applyDropout(a [][]float64) {
	keep := 1 - n.dropout
	for i := range a {
		for j := range a[i] {
			if n.rng.Float64() < keep {
				a[i][j] /= keep
			} else {
				a[i][j] = 0
			}
		}
	}
}

// backward computes gradients for one batch from stored activations.
func (n *Network) backward(acts [][][]float64, y []float64) (wGrads [][][]float64, bGrads [][]float64) {
	m := float64(len(y))
	out := acts[len(acts)-1]
	delta := make([][]float64, len(y))
	for i := range delta {
		delta[i] = []float64{out[i][0] - y[i]}
	}
	L := len(n.weights)
	wGrads = make([][][]float64, L)
	bGrads = make([][]float64, L)
	for l := L - 1; l >= 0; l-- {
		wg := matMulT1(acts[l], delta)
		for i := range wg {
			for j := range wg[i] {
				wg[i][j] /= m
			}
		}
		wGrads[l] = wg
		bGrads[l] = colMeans(delta)
		if l > 0 {
			delta = matMulT2(delta, n.weights[l])
			for i := range delta {
				for j := range delta[i] {
					if acts[l][i][j] <= 0 {
						delta[i][j] = 0
					}
				}
			}
		}
	}
	return wGrads, bGrads
}

func (n *Network) applyGradients(wGrads [][][]float64, bGrads [][]float64) {
	for l := range n.weights {
		for i := range n.weights[l] {
			for j := range n.weights[l][i] {
				n.weights[l][i][j] -= n.lr * wGrads[l][i][j]
			}
		}
		for j := range n.biases[l] {
			n.biases[l][j] -= n.lr * bGrads[l][j]
		}
	}
}

// bceLoss is binary cross-entropy with clipped predictions.
func bceLoss(preds [][]float64, y []float64) float64 {
	const eps = 1e-7
	var sum float64
	for i := range y {
		p := preds[i][0]
		if p < eps {
			p = eps
		} else if p > 1-eps {
			p = 1 - eps
		}
		sum += y[i]*math.Log(p) + (1-y[i])*math.Log(1-p)
	}
	return -sum / float64(len(y))
}

// riskBand buckets a 0-1 score the same way the risk engine buckets
// 0-100 scores into allow, limit and freeze.
func riskBand(p float64) int {
	switch {
	case p < 0.31:
		return 0
	case p < 0.70:
		return 1
	default:
		return 2
	}
}

func bandAccuracy(preds [][]float64, y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	hits := 0
	for i := range y {
		if riskBand(preds[i][0]) == riskBand(y[i]) {
			hits++
		}
	}
	return float64(hits) / float64(len(y))
}

// Fit trains with mini-batch gradient descent and early stopping on
// validation loss. Labels on a 0-100 scale are rescaled to 0-1. The
// weights that scored the best validation loss are restored before
// returning.
func (n *Network) Fit(X [][]float64, y []float64, valX [][]float64, valY []float64, cfg FitConfig) (History, error) {
	if len(X) == 0 || len(X) != len(y) {
		return History{}, fmt.Errorf("neural: %d training rows for %d labels", len(X), len(y))
	}
	if len(valX) == 0 || len(valX) != len(valY) {
		return History{}, fmt.Errorf("neural: %d validation rows for %d labels", len(valX), len(valY))
	}
	for _, row := range X {
		if len(row) != n.inputDim {
			return History{}, fmt.Errorf("neural: row width %d, want %d", len(row), n.inputDim)
		}
	}
	for _, row := range valX {
		if len(row) != n.inputDim {
			return History{}, fmt.Errorf("neural: validation row width %d, want %d", len(row), n.inputDim)
		}
	}
	cfg = cfg.withDefaults()
	n.ensureInit()

	if maxOf(y) > 1 || maxOf(valY) > 1 {
		y = rescaleLabels(y)
		valY = rescaleLabels(valY)
	}

	nSamples := len(X)
	nBatches := nSamples / cfg.BatchSize
	if nBatches < 1 {
		nBatches = 1
	}

	hist := History{BestValLoss: math.Inf(1)}
	var bestW [][][]float64
	var bestB [][]float64
	badEpochs := 0

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		perm := n.rng.Perm(nSamples)
		var epochLoss float64
		for b := 0; b < nBatches; b++ {
			start := b * cfg.BatchSize
			end := start + cfg.BatchSize
			if end > nSamples {
				end = nSamples
			}
			bx := make([][]float64, 0, end-start)
			by := make([]float64, 0, end-start)
			for _, i := range perm[start:end] {
				bx = append(bx, X[i])
				by = append(by, y[i])
			}
			acts := n.forward(bx, true)
			wGrads, bGrads := n.backward(acts, by)
			n.applyGradients(wGrads, bGrads)
			epochLoss += bceLoss(acts[len(acts)-1], by)
		}
		hist.TrainLosses = append(hist.TrainLosses, epochLoss/float64(nBatches))

		trainOut := n.forward(X, false)
		hist.TrainAccuracies = append(hist.TrainAccuracies, bandAccuracy(trainOut[len(trainOut)-1], y))

		valOut := n.forward(valX, false)
		valLoss := bceLoss(valOut[len(valOut)-1], valY)
		hist.ValLosses = append(hist.ValLosses, valLoss)
		hist.ValAccuracies = append(hist.ValAccuracies, bandAccuracy(valOut[len(valOut)-1], valY))

		if valLoss < hist.BestValLoss {
			hist.BestValLoss = valLoss
			bestW = cloneMats(n.weights)
			bestB = cloneMat(n.biases)
			badEpochs = 0
		} else {
			badEpochs++
			if badEpochs >= cfg.Patience {
				break
			}
		}
	}

	if bestW != nil {
		n.weights = bestW
		n.biases = bestB
	}
	hist.EpochsTrained = len(hist.TrainLosses)
	n.history = hist
	return hist, nil
}

// rescaleLabels maps 0-100 labels onto clamped 0-1.
func rescaleLabels(y []float64) []float64 {
	scaled := make([]float64, len(y))
	for i, v := range y {
		v /= 100
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		scaled[i] = v
	}
	return scaled
}

func maxOf(xs []float64) float64 {
	m := math.Inf(-1)
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

// Predict returns a 0-100 risk score for one normalized feature
// vector.
func (n *Network) Predict(x []float64) (int, error) {
	if len(x) != n.inputDim {
		return 0, fmt.Errorf("neural: vector width %d, want %d", len(x), n.inputDim)
	}
	n.ensureInit()
	acts := n.forward([][]float64{x}, false)
	p := acts[len(acts)-1][0][0]
	return int(p * 100), nil
}

type networkState struct {
	InputDim    int           `json:"inputDim"`
	Hidden      []int         `json:"hidden"`
	Weights     [][][]float64 `json:"weights"`
	Biases      [][]float64   `json:"biases"`
	TrainLosses []float64     `json:"trainLosses"`
	ValLosses   []float64     `json:"valLosses"`
	BestValLoss float64       `json:"bestValLoss"`
}

// Save persists weights, layout and training history.
func (n *Network) Save(path string) error {
	n.ensureInit()
	best := n.history.BestValLoss
	if math.IsInf(best, 1) {
		best = 0
	}
	return artifact.Save(path, artifactComponent, artifactVersion, networkState{
		InputDim:    n.inputDim,
		Hidden:      n.hidden,
		Weights:     n.weights,
		Biases:      n.biases,
		TrainLosses: n.history.TrainLosses,
		ValLosses:   n.history.ValLosses,
		BestValLoss: best,
	})
}

// Load restores a network saved by Save.
func (n *Network) Load(path string) error {
	var state networkState
	if err := artifact.Load(path, artifactComponent, artifactVersion, &state); err != nil {
		return err
	}
	if len(state.Weights) == 0 || len(state.Weights) != len(state.Biases) {
		return fmt.Errorf("%w: inconsistent layer shapes", artifact.ErrCorrupt)
	}
	n.inputDim = state.InputDim
	n.hidden = state.Hidden
	n.weights = state.Weights
	n.biases = state.Biases
	n.history = History{
		TrainLosses: state.TrainLosses,
		ValLosses:   state.ValLosses,
		BestValLoss: state.BestValLoss,
	}
	return nil
}
