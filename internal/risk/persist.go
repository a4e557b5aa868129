package risk

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/MIRACULOUS65/sentinel-risk/internal/anomaly"
	"github.com/MIRACULOUS65/sentinel-risk/internal/artifact"
	"github.com/MIRACULOUS65/sentinel-risk/internal/features"
	"github.com/MIRACULOUS65/sentinel-risk/internal/metrics"
	"github.com/MIRACULOUS65/sentinel-risk/internal/neural"
	"github.com/MIRACULOUS65/sentinel-risk/internal/patterns"
)

// Artifact file names inside a model directory.
const (
	PatternScorerFile = "pattern_scorer.json"
	AnomalyModelFile  = "anomaly_model.json"
	NeuralModelFile   = "neural_model.json"
	EngineFile        = "engine.json"
)

type engineState struct {
	Fitted        bool      `json:"fitted"`
	PatternWeight float64   `json:"patternWeight"`
	NeuralWeight  float64   `json:"neuralWeight"`
	FeatureMins   []float64 `json:"featureMins"`
	FeatureMaxs   []float64 `json:"featureMaxs"`
	UseNeural     bool      `json:"useNeural"`
}

// Save writes the fitted scorer, forest and engine state into dir. The
// neural network is trained and saved by its own pipeline; Save only
// records whether it should participate.
func (e *Engine) Save(dir string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.fitted {
		return errors.New("risk: engine not trained")
	}
	if err := e.scorer.Save(filepath.Join(dir, PatternScorerFile)); err != nil {
		return fmt.Errorf("save pattern scorer: %w", err)
	}
	if err := e.detector.Save(filepath.Join(dir, AnomalyModelFile)); err != nil {
		return fmt.Errorf("save anomaly model: %w", err)
	}
	state := engineState{
		Fitted:        e.fitted,
		PatternWeight: e.patternWeight,
		NeuralWeight:  e.neuralWeight,
		FeatureMins:   e.featureMins,
		FeatureMaxs:   e.featureMaxs,
		UseNeural:     e.useNeural,
	}
	if err := artifact.Save(filepath.Join(dir, EngineFile), "risk_engine", 1, state); err != nil {
		return fmt.Errorf("save engine state: %w", err)
	}
	e.log.Info("risk model saved", "dir", dir)
	return nil
}

// Load restores a trained engine from dir. The scorer, forest and
// engine state are required. A missing or unreadable neural model is
// not fatal: the engine degrades to pattern plus anomaly scoring.
func (e *Engine) Load(dir string) error {
	scorer := patterns.NewScorer()
	if err := scorer.Load(filepath.Join(dir, PatternScorerFile)); err != nil {
		return fmt.Errorf("load pattern scorer: %w", err)
	}
	detector := anomaly.NewDetector()
	if err := detector.Load(filepath.Join(dir, AnomalyModelFile)); err != nil {
		return fmt.Errorf("load anomaly model: %w", err)
	}
	var state engineState
	if err := artifact.Load(filepath.Join(dir, EngineFile), "risk_engine", 1, &state); err != nil {
		return fmt.Errorf("load engine state: %w", err)
	}

	var network *neural.Network
	useNeural := false
	if state.UseNeural {
		n := neural.NewNetwork(features.Count)
		switch err := n.Load(filepath.Join(dir, NeuralModelFile)); {
		case err == nil:
			network = n
			useNeural = true
		case errors.Is(err, artifact.ErrMissing):
			e.log.Warn("neural model artifact missing, scoring without it", "dir", dir)
		default:
			e.log.Warn("neural model failed to load, scoring without it", "error", err)
		}
	}

	e.mu.Lock()
	e.scorer = scorer
	e.detector = detector
	e.patternWeight = state.PatternWeight
	e.neuralWeight = state.NeuralWeight
	e.featureMins = state.FeatureMins
	e.featureMaxs = state.FeatureMaxs
	e.network = network
	e.useNeural = useNeural
	e.fitted = state.Fitted
	e.mu.Unlock()

	metrics.SetModelState(state.Fitted, useNeural)
	e.log.Info("risk model loaded", "dir", dir, "neural", useNeural)
	return nil
}
