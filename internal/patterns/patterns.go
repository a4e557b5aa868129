// Package patterns scores wallets against hand-authored abuse
// archetypes. Each pattern names a feature subset with signed weights
// and a z-score threshold; baselines fitted offline over a training
// feature matrix anchor the z-scores at inference time.
package patterns

// Pattern is one abuse archetype: which features it reads, how each is
// weighted, and the weighted z-score at which it starts to fire.
// A negative weight means a LOW value is suspicious.
type Pattern struct {
	Features  []string
	Weights   []float64
	Threshold float64
	Reason    string
}

// Order fixes pattern iteration so the dominant pattern is chosen
// deterministically on ties.
var Order = []string{"circular", "bot", "burst", "fan_out", "layering", "dust"}

// Definitions holds the six fixed patterns.
var Definitions = map[string]Pattern{
	"circular": {
		Features:  []string{"return_ratio", "self_transfer_ratio"},
		Weights:   []float64{0.6, 0.4},
		Threshold: 2.0,
		Reason:    "circular transfer pattern detected",
	},
	"bot": {
		// Bots send constantly to few targets with near-identical
		// amounts: high count, low fan-out, low amount variance.
		Features:  []string{"tx_count_1h", "fan_out_score", "std_amount"},
		Weights:   []float64{0.3, -0.4, -0.3},
		Threshold: 2.5,
		Reason:    "automated bot-like behavior",
	},
	"burst": {
		Features:  []string{"tx_velocity", "tx_count_10m", "tx_count_1m"},
		Weights:   []float64{0.4, 0.3, 0.3},
		Threshold: 2.0,
		Reason:    "sudden transaction burst",
	},
	"fan_out": {
		Features:  []string{"unique_recipients_1h", "fan_out_score", "tx_count_1h"},
		Weights:   []float64{0.4, 0.3, 0.3},
		Threshold: 2.0,
		Reason:    "high fan-out distribution",
	},
	"layering": {
		Features:  []string{"tx_velocity", "avg_interval", "tx_count_10m"},
		Weights:   []float64{0.3, -0.4, 0.3},
		Threshold: 2.5,
		Reason:    "rapid fund layering",
	},
	"dust": {
		Features:  []string{"dust_tx_ratio", "mean_amount"},
		Weights:   []float64{0.7, -0.3},
		Threshold: 1.5,
		Reason:    "dust spam activity",
	},
}

// NormalReason is returned when no pattern scores high enough to name.
const NormalReason = "normal transaction pattern"
