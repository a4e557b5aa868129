package history

import (
	"sort"
	"sync"
	"time"
)

// Store holds rolling transaction histories keyed by wallet.
//
// Reads are safe to run concurrently; writers are serialized by the
// store lock, so at most one insertion touches a wallet's history at a
// time. Memory is bounded per wallet by the retention cap, not globally:
// the set of distinct wallets may grow without limit.
type Store struct {
	mu       sync.RWMutex
	sender   map[string][]Transaction
	receiver map[string][]Transaction
	wallets  map[string]struct{}
	total    int

	maxHistory   int
	compactEvery int
}

// NewStore creates an empty store with default retention settings.
func NewStore() *Store {
	return &Store{
		sender:       make(map[string][]Transaction),
		receiver:     make(map[string][]Transaction),
		wallets:      make(map[string]struct{}),
		maxHistory:   DefaultMaxHistory,
		compactEvery: DefaultCompactInterval,
	}
}

// WithMaxHistory sets the per-wallet retention cap.
func (s *Store) WithMaxHistory(n int) *Store {
	if n > 0 {
		s.maxHistory = n
	}
	return s
}

// WithCompactInterval sets how many insertions pass between compactions.
func (s *Store) WithCompactInterval(n int) *Store {
	if n > 0 {
		s.compactEvery = n
	}
	return s
}

// Add indexes tx under both its sender and receiver wallets and
// registers both wallets as seen. Every compactEvery insertions the
// store truncates each wallet's histories to the retention cap.
func (s *Store) Add(tx Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wallets[tx.FromWallet] = struct{}{}
	s.wallets[tx.ToWallet] = struct{}{}

	s.sender[tx.FromWallet] = append(s.sender[tx.FromWallet], tx)
	s.receiver[tx.ToWallet] = append(s.receiver[tx.ToWallet], tx)

	s.total++
	if s.total%s.compactEvery == 0 {
		s.compact()
	}
}

// compact drops the oldest entries beyond the retention cap.
// Caller must hold the write lock.
func (s *Store) compact() {
	for wallet, txs := range s.sender {
		if len(txs) > s.maxHistory {
			s.sender[wallet] = append([]Transaction(nil), txs[len(txs)-s.maxHistory:]...)
		}
	}
	for wallet, txs := range s.receiver {
		if len(txs) > s.maxHistory {
			s.receiver[wallet] = append([]Transaction(nil), txs[len(txs)-s.maxHistory:]...)
		}
	}
}

// Sent returns transactions where wallet is the sender. A window <= 0
// returns the full retained history; otherwise only transactions with
// Timestamp >= ref-window are kept. A zero ref means now.
// The returned slice is a copy.
func (s *Store) Sent(wallet string, window time.Duration, ref time.Time) []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterWindow(s.sender[wallet], window, ref)
}

// Received returns transactions where wallet is the receiver, with the
// same window semantics as Sent.
func (s *Store) Received(wallet string, window time.Duration, ref time.Time) []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterWindow(s.receiver[wallet], window, ref)
}

func filterWindow(txs []Transaction, window time.Duration, ref time.Time) []Transaction {
	if window <= 0 {
		return append([]Transaction(nil), txs...)
	}
	if ref.IsZero() {
		ref = time.Now()
	}
	cutoff := ref.Add(-window)
	out := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if !tx.Timestamp.Before(cutoff) {
			out = append(out, tx)
		}
	}
	return out
}

// SenderCount returns how many retained transactions wallet has sent.
func (s *Store) SenderCount(wallet string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sender[wallet])
}

// SenderWallets returns all wallets with at least one sent transaction,
// sorted for deterministic iteration.
func (s *Store) SenderWallets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sender))
	for w := range s.sender {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// WalletCount returns the number of distinct wallets seen in either role.
func (s *Store) WalletCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wallets)
}

// TransactionCount returns the total number of insertions.
func (s *Store) TransactionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Reset drops all histories and counters.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = make(map[string][]Transaction)
	s.receiver = make(map[string][]Transaction)
	s.wallets = make(map[string]struct{})
	s.total = 0
}
