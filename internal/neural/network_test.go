package neural

import (
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIRACULOUS65/sentinel-risk/internal/artifact"
)

// thresholdSet labels points by the sign of their first coordinate.
func thresholdSet(n int, seed uint64) ([][]float64, []float64) {
	rng := rand.New(rand.NewPCG(seed, seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		x0 := rng.Float64()*2 - 1
		x1 := rng.Float64()*2 - 1
		X[i] = []float64{x0, x1}
		if x0 > 0 {
			y[i] = 1
		}
	}
	return X, y
}

func TestPredictStaysInRange(t *testing.T) {
	n := NewNetwork(4)
	for _, probe := range [][]float64{
		{0, 0, 0, 0},
		{1, 1, 1, 1},
		{-50, 50, -50, 50},
	} {
		score, err := n.Predict(probe)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, 0)
		assert.LessOrEqual(t, score, 100)
	}

	_, err := n.Predict([]float64{1, 2})
	assert.Error(t, err)
}

func TestInitIsDeterministicForSeed(t *testing.T) {
	probe := []float64{0.3, -0.7, 0.1, 0.9}

	n1 := NewNetwork(4)
	n2 := NewNetwork(4)
	n1.ensureInit()
	n2.ensureInit()
	out1 := n1.forward([][]float64{probe}, false)
	out2 := n2.forward([][]float64{probe}, false)
	assert.Equal(t, out1[len(out1)-1][0][0], out2[len(out2)-1][0][0])

	n3 := NewNetwork(4).WithSeed(99)
	n3.ensureInit()
	out3 := n3.forward([][]float64{probe}, false)
	assert.NotEqual(t, out1[len(out1)-1][0][0], out3[len(out3)-1][0][0])
}

func TestForwardActivationShapes(t *testing.T) {
	n := NewNetwork(4).WithHidden(8, 3)
	n.ensureInit()

	batch := [][]float64{{1, 2, 3, 4}, {5, 6, 7, 8}}
	acts := n.forward(batch, false)
	require.Len(t, acts, 4)
	assert.Len(t, acts[1][0], 8)
	assert.Len(t, acts[2][0], 3)
	assert.Len(t, acts[3][0], 1)
}

func TestFitRejectsBadShapes(t *testing.T) {
	n := NewNetwork(2)
	X, y := thresholdSet(20, 1)

	_, err := n.Fit(nil, nil, X, y, FitConfig{})
	assert.Error(t, err)
	_, err = n.Fit(X, y[:10], X, y, FitConfig{})
	assert.Error(t, err)
	_, err = n.Fit(X, y, nil, nil, FitConfig{})
	assert.Error(t, err)
	_, err = n.Fit([][]float64{{1, 2, 3}}, []float64{1}, X, y, FitConfig{})
	assert.Error(t, err)
}

func TestFitHistoryShape(t *testing.T) {
	X, y := thresholdSet(100, 3)
	n := NewNetwork(2).WithHidden(4).WithDropout(0)

	hist, err := n.Fit(X[:80], y[:80], X[80:], y[80:], FitConfig{Epochs: 5, BatchSize: 16, Patience: 10})
	require.NoError(t, err)

	assert.Len(t, hist.TrainLosses, 5)
	assert.Len(t, hist.ValLosses, 5)
	assert.Len(t, hist.TrainAccuracies, 5)
	assert.Len(t, hist.ValAccuracies, 5)
	assert.Equal(t, 5, hist.EpochsTrained)

	minVal := hist.ValLosses[0]
	for _, v := range hist.ValLosses {
		if v < minVal {
			minVal = v
		}
	}
	assert.Equal(t, minVal, hist.BestValLoss)
	assert.Equal(t, hist, n.History())
}

func TestEarlyStoppingOnFlatValidation(t *testing.T) {
	X, y := thresholdSet(100, 5)

	// Zero learning rate freezes the weights, so validation loss never
	// improves after the first epoch and patience must trip.
	n := NewNetwork(2).WithHidden(4).WithDropout(0).WithLearningRate(0)
	hist, err := n.Fit(X[:80], y[:80], X[80:], y[80:], FitConfig{Epochs: 50, BatchSize: 16, Patience: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, hist.EpochsTrained)
}

func TestBestWeightsRestoredAfterFit(t *testing.T) {
	X, y := thresholdSet(200, 7)
	trainX, trainY := X[:160], y[:160]
	valX, valY := X[160:], y[160:]

	n := NewNetwork(2).WithHidden(8).WithDropout(0).WithLearningRate(0.05)
	hist, err := n.Fit(trainX, trainY, valX, valY, FitConfig{Epochs: 40, BatchSize: 32, Patience: 40})
	require.NoError(t, err)

	out := n.forward(valX, false)
	assert.Equal(t, hist.BestValLoss, bceLoss(out[len(out)-1], valY))
}

func TestTrainingReducesLoss(t *testing.T) {
	X, y := thresholdSet(200, 9)
	n := NewNetwork(2).WithHidden(8).WithDropout(0).WithLearningRate(0.05)

	hist, err := n.Fit(X[:160], y[:160], X[160:], y[160:], FitConfig{Epochs: 60, BatchSize: 32, Patience: 60})
	require.NoError(t, err)
	require.GreaterOrEqual(t, hist.EpochsTrained, 2)
	assert.Less(t, hist.TrainLosses[hist.EpochsTrained-1], hist.TrainLosses[0])

	high, err := n.Predict([]float64{0.9, 0})
	require.NoError(t, err)
	low, err := n.Predict([]float64{-0.9, 0})
	require.NoError(t, err)
	assert.Greater(t, high, low)
}

func TestLabelRescaling(t *testing.T) {
	scaled := rescaleLabels([]float64{150, 100, 50, 0, -10})
	assert.Equal(t, []float64{1, 1, 0.5, 0, 0}, scaled)
}

func TestRiskBandBuckets(t *testing.T) {
	assert.Equal(t, 0, riskBand(0))
	assert.Equal(t, 0, riskBand(0.30))
	assert.Equal(t, 1, riskBand(0.31))
	assert.Equal(t, 1, riskBand(0.69))
	assert.Equal(t, 2, riskBand(0.70))
	assert.Equal(t, 2, riskBand(1))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "neural_model.json")

	X, y := thresholdSet(100, 11)
	n := NewNetwork(2).WithHidden(4).WithDropout(0)
	_, err := n.Fit(X[:80], y[:80], X[80:], y[80:], FitConfig{Epochs: 5, BatchSize: 16})
	require.NoError(t, err)
	require.NoError(t, n.Save(path))

	loaded := NewNetwork(2)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, 2, loaded.InputDim())

	for _, probe := range [][]float64{{0.5, 0.5}, {-0.25, 1}, {0, 0}} {
		want, err := n.Predict(probe)
		require.NoError(t, err)
		got, err := loaded.Predict(probe)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	n := NewNetwork(2)
	err := n.Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, artifact.ErrMissing)
}
