package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]*Assessment // wallet → assessments
}

// NewMemoryStore creates an in-memory risk assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[string][]*Assessment),
	}
}

func (s *MemoryStore) Record(ctx context.Context, assessment *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := copyAssessment(assessment)
	s.assessments[assessment.Wallet] = append(s.assessments[assessment.Wallet], a)
	return nil
}

func (s *MemoryStore) ListByWallet(ctx context.Context, wallet string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.assessments[wallet]
	if len(all) == 0 {
		return nil, nil
	}

	// Return most recent first, up to limit
	start := len(all) - limit
	if start < 0 {
		start = 0
	}

	result := make([]*Assessment, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		result = append(result, copyAssessment(all[i]))
	}
	return result, nil
}

// copyAssessment deep-copies the map fields so callers cannot mutate
// stored state.
func copyAssessment(in *Assessment) *Assessment {
	a := *in
	if in.PatternScores != nil {
		a.PatternScores = make(map[string]int, len(in.PatternScores))
		for k, v := range in.PatternScores {
			a.PatternScores[k] = v
		}
	}
	if in.Features != nil {
		a.Features = make(map[string]float64, len(in.Features))
		for k, v := range in.Features {
			a.Features[k] = v
		}
	}
	return &a
}
