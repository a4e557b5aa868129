package train

import "github.com/MIRACULOUS65/sentinel-risk/internal/features"

// SyntheticLabels assigns a heuristic risk label in 0..1 to each raw
// feature row. Every row starts from a low base and accumulates bumps
// for volume, dust spam, fixed-amount loops, wide fan-out, circular
// flows, and bursts. Used when no fitted pattern scorer should bias
// the labels.
func SyntheticLabels(X [][]float64) []float64 {
	y := make([]float64, len(X))
	for i, row := range X {
		score := 0.10

		txCount1h := row[features.IdxTxCount1h]
		switch {
		case txCount1h > 100:
			score += 0.30
		case txCount1h > 50:
			score += 0.20
		case txCount1h > 20:
			score += 0.10
		}

		switch dust := row[features.IdxDustTxRatio]; {
		case dust > 0.8:
			score += 0.35
		case dust > 0.5:
			score += 0.20
		case dust > 0.2:
			score += 0.10
		}

		if row[features.IdxStdAmount] < 1 && txCount1h > 10 {
			score += 0.15
		}

		switch unique := row[features.IdxUniqueRecipients1h]; {
		case unique > 100:
			score += 0.25
		case unique > 50:
			score += 0.15
		}

		if row[features.IdxSameRecipientRatio] > 0.95 && txCount1h > 10 {
			score += 0.20
		}

		switch self := row[features.IdxSelfTransferRatio]; {
		case self > 0.5:
			score += 0.25
		case self > 0.2:
			score += 0.10
		}

		if row[features.IdxReturnRatio] > 0.5 {
			score += 0.20
		}

		if row[features.IdxBurstinessIndex] > 0.5 {
			score += 0.15
		}

		if score > 1 {
			score = 1
		}
		if score < 0 {
			score = 0
		}
		y[i] = score
	}
	return y
}
