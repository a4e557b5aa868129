// Package risk implements behavioral risk scoring for wallets.
//
// Every wallet is evaluated by an ensemble: hand-authored behavioral
// patterns anchored to fitted baselines, an isolation forest over the
// same 16 features, and optionally a small neural network trained on
// pattern-derived labels. Scores range from 0 (safe) to 100 (high
// risk) and map onto allow, limit and freeze decisions.
package risk

import (
	"context"
	"errors"
	"time"
)

// Decision represents the engine's verdict on a wallet.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionLimit  Decision = "limit"
	DecisionFreeze Decision = "freeze"
)

// Score thresholds for risk decisions.
const (
	FreezeThreshold = 70
	LimitThreshold  = 31
)

// DecisionFor maps a 0-100 score onto a decision band.
func DecisionFor(score int) Decision {
	switch {
	case score >= FreezeThreshold:
		return DecisionFreeze
	case score >= LimitThreshold:
		return DecisionLimit
	default:
		return DecisionAllow
	}
}

// ErrNoTrainingData means no wallet in the history store has enough
// sent transactions to train on.
var ErrNoTrainingData = errors.New("no wallets with sufficient transaction history")

// Assessment is the result of evaluating a single wallet.
type Assessment struct {
	ID            string             `json:"id"`
	Wallet        string             `json:"wallet"`
	Score         int                `json:"score"`
	Decision      Decision           `json:"decision"`
	Reason        string             `json:"reason"`
	PatternScore  int                `json:"patternScore"`
	ModelScore    int                `json:"modelScore"`
	PatternReason string             `json:"patternReason,omitempty"`
	PatternScores map[string]int     `json:"patternScores,omitempty"`
	Features      map[string]float64 `json:"features,omitempty"`
	TxCount       int                `json:"txCount"`
	UsingNeural   bool               `json:"usingNeural"`
	AssessedAt    time.Time          `json:"assessedAt"`
}

// Store persists risk assessments for audit trail.
type Store interface {
	Record(ctx context.Context, assessment *Assessment) error
	ListByWallet(ctx context.Context, wallet string, limit int) ([]*Assessment, error)
}
