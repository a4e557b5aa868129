package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MIRACULOUS65/sentinel-risk/internal/retry"
)

// PostgresStore persists risk assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed risk assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_assessments table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_assessments (
			id             VARCHAR(36) PRIMARY KEY,
			wallet         TEXT NOT NULL,
			score          SMALLINT NOT NULL CHECK (score >= 0 AND score <= 100),
			decision       VARCHAR(10) NOT NULL CHECK (decision IN ('allow', 'limit', 'freeze')),
			reason         TEXT NOT NULL,
			pattern_score  SMALLINT NOT NULL DEFAULT 0,
			model_score    SMALLINT NOT NULL DEFAULT 0,
			pattern_reason TEXT NOT NULL DEFAULT '',
			pattern_scores JSONB NOT NULL DEFAULT '{}',
			features       JSONB NOT NULL DEFAULT '{}',
			tx_count       INTEGER NOT NULL DEFAULT 0,
			using_neural   BOOLEAN NOT NULL DEFAULT FALSE,
			assessed_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_wallet
			ON risk_assessments (wallet, assessed_at DESC);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_freezes
			ON risk_assessments (assessed_at DESC) WHERE decision = 'freeze';
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, assessment *Assessment) error {
	patternJSON, err := json.Marshal(assessment.PatternScores)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to marshal pattern scores: %w", err))
	}
	featuresJSON, err := json.Marshal(assessment.Features)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to marshal features: %w", err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (
			id, wallet, score, decision, reason,
			pattern_score, model_score, pattern_reason, pattern_scores, features,
			tx_count, using_neural, assessed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		assessment.ID,
		assessment.Wallet,
		assessment.Score,
		string(assessment.Decision),
		assessment.Reason,
		assessment.PatternScore,
		assessment.ModelScore,
		assessment.PatternReason,
		patternJSON,
		featuresJSON,
		assessment.TxCount,
		assessment.UsingNeural,
		assessment.AssessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByWallet(ctx context.Context, wallet string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet, score, decision, reason,
		       pattern_score, model_score, pattern_reason, pattern_scores, features,
		       tx_count, using_neural, assessed_at
		FROM risk_assessments
		WHERE wallet = $1
		ORDER BY assessed_at DESC
		LIMIT $2
	`, wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var patternJSON, featuresJSON []byte
		var assessedAt time.Time

		if err := rows.Scan(
			&a.ID, &a.Wallet, &a.Score, &a.Decision, &a.Reason,
			&a.PatternScore, &a.ModelScore, &a.PatternReason, &patternJSON, &featuresJSON,
			&a.TxCount, &a.UsingNeural, &assessedAt,
		); err != nil {
			continue
		}
		a.AssessedAt = assessedAt
		a.PatternScores = make(map[string]int)
		_ = json.Unmarshal(patternJSON, &a.PatternScores)
		a.Features = make(map[string]float64)
		_ = json.Unmarshal(featuresJSON, &a.Features)
		result = append(result, &a)
	}
	return result, rows.Err()
}
