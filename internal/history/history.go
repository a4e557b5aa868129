// Package history maintains bounded, rolling per-wallet transaction
// histories in two roles (sender and receiver) for behavioral feature
// extraction. Every transaction is indexed under both wallets it touches;
// retained history is truncated per wallet by periodic compaction.
package history

import (
	"encoding/json"
	"math"
	"time"
)

// Trailing windows used to bound which transactions contribute to a feature.
const (
	WindowMinute = time.Minute
	Window10Min  = 10 * time.Minute
	WindowHour   = time.Hour
	WindowDay    = 24 * time.Hour
)

const (
	// DefaultMaxHistory is the per-wallet, per-role retention cap.
	DefaultMaxHistory = 10000

	// DefaultCompactInterval is the number of insertions between
	// compaction passes.
	DefaultCompactInterval = 1000
)

// Transaction is a single transfer between two wallets.
// Immutable once ingested.
type Transaction struct {
	Hash       string
	Timestamp  time.Time
	FromWallet string
	ToWallet   string
	Amount     float64
	AssetType  string
}

// txJSON is the wire form: timestamps travel as Unix seconds
// (fractional allowed), matching the line-delimited dataset format.
type txJSON struct {
	Hash       string  `json:"hash"`
	Timestamp  float64 `json:"timestamp"`
	FromWallet string  `json:"from_wallet"`
	ToWallet   string  `json:"to_wallet"`
	Amount     float64 `json:"amount"`
	AssetType  string  `json:"asset_type,omitempty"`
}

// MarshalJSON encodes the transaction with its timestamp as Unix seconds.
func (t Transaction) MarshalJSON() ([]byte, error) {
	ts := float64(t.Timestamp.Unix()) + float64(t.Timestamp.Nanosecond())/1e9
	return json.Marshal(txJSON{
		Hash:       t.Hash,
		Timestamp:  ts,
		FromWallet: t.FromWallet,
		ToWallet:   t.ToWallet,
		Amount:     t.Amount,
		AssetType:  t.AssetType,
	})
}

// UnmarshalJSON decodes a transaction whose timestamp is Unix seconds.
// Seconds and the fractional part are split before conversion so that
// nanosecond precision survives the float round trip.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var raw txJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sec := math.Floor(raw.Timestamp)
	frac := raw.Timestamp - sec
	t.Hash = raw.Hash
	t.Timestamp = time.Unix(int64(sec), int64(math.Round(frac*1e9)))
	t.FromWallet = raw.FromWallet
	t.ToWallet = raw.ToWallet
	t.Amount = raw.Amount
	t.AssetType = raw.AssetType
	return nil
}
