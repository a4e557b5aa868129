// Package ingest loads line-delimited transaction datasets into the
// rolling history store.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MIRACULOUS65/sentinel-risk/internal/history"
	"github.com/MIRACULOUS65/sentinel-risk/internal/metrics"
)

// maxLineBytes caps a single dataset line. Transactions are small; a
// line this long means the file is not line-delimited JSON.
const maxLineBytes = 1 << 20

// Read parses line-delimited JSON transactions from r. Blank lines are
// skipped. The first malformed or invalid record aborts the read with
// an error naming its line number.
func Read(r io.Reader) ([]history.Transaction, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var txs []history.Transaction
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var tx history.Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			metrics.IngestErrors.Inc()
			return nil, fmt.Errorf("ingest: line %d: %w", line, err)
		}
		if err := validate(tx); err != nil {
			metrics.IngestErrors.Inc()
			return nil, fmt.Errorf("ingest: line %d: %w", line, err)
		}

		tx.FromWallet = CanonicalWallet(tx.FromWallet)
		tx.ToWallet = CanonicalWallet(tx.ToWallet)
		txs = append(txs, tx)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingest: read: %w", err)
	}
	return txs, nil
}

// ReadFile loads a whole dataset file.
func ReadFile(path string) ([]history.Transaction, error) {
	f, err := os.Open(path) // #nosec G304 -- dataset path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	defer func() { _ = f.Close() }()

	txs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return txs, nil
}

// LoadInto adds every transaction to the store and returns how many
// were added.
func LoadInto(store *history.Store, txs []history.Transaction) int {
	for _, tx := range txs {
		store.Add(tx)
		metrics.TransactionsIngested.Inc()
	}
	metrics.WalletsTracked.Set(float64(store.WalletCount()))
	return len(txs)
}

// CanonicalWallet normalizes EVM-style hex addresses to their checksum
// form so that mixed-case duplicates collapse to one wallet key. Other
// address schemes pass through untouched.
func CanonicalWallet(addr string) string {
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}

func validate(tx history.Transaction) error {
	if tx.FromWallet == "" {
		return fmt.Errorf("missing from_wallet")
	}
	if tx.ToWallet == "" {
		return fmt.Errorf("missing to_wallet")
	}
	if tx.Amount < 0 {
		return fmt.Errorf("negative amount %v", tx.Amount)
	}
	if tx.Timestamp.Unix() <= 0 {
		return fmt.Errorf("missing or invalid timestamp")
	}
	return nil
}
