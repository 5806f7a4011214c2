package memory

import (
	"context"
	"sync"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

var (
	_ checkout.Journal       = (*Journal)(nil)
	_ checkout.AttemptLister = (*Journal)(nil)
)

// Journal keeps checkout attempts in memory.
type Journal struct {
	mu       sync.Mutex
	attempts []checkout.Attempt
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Record appends a.
func (j *Journal) Record(_ context.Context, a checkout.Attempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, a)
	return nil
}

// List returns up to limit attempts with the given outcome, newest first.
func (j *Journal) List(_ context.Context, outcome checkout.Outcome, limit int) ([]checkout.Attempt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]checkout.Attempt, 0, min(limit, len(j.attempts)))
	for i := len(j.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if outcome == "" || j.attempts[i].Outcome == outcome {
			out = append(out, j.attempts[i])
		}
	}
	return out, nil
}
