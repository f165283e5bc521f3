// Package remap is the permanent ledger mapping retired recipient ids to
// their survivors. It is authoritative and persisted; the recipient cache is
// a derived layer on top and is invalidated separately.
package remap

import (
	"context"
	"sync"

	"rolodex/pkg/domain"
	"rolodex/pkg/platform/sentinel"
)

// Ledger records and resolves merge outcomes. Record must run inside the
// merge transaction; when an existing entry points at the id being retired,
// implementations retarget it so every entry maps directly to a live record.
type Ledger interface {
	Record(ctx context.Context, retired, survivor domain.RecipientID) error
	// Resolve returns the surviving id for a retired one, or ErrNotFound when
	// the id was never retired.
	Resolve(ctx context.Context, id domain.RecipientID) (domain.RecipientID, error)
	All(ctx context.Context) (map[domain.RecipientID]domain.RecipientID, error)
}

// InMemoryLedger backs unit tests and serves as the process-lifetime read
// cache over the persisted ledger. It only updates from post-commit hooks.
type InMemoryLedger struct {
	mu      sync.RWMutex
	entries map[domain.RecipientID]domain.RecipientID
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{entries: make(map[domain.RecipientID]domain.RecipientID)}
}

func (l *InMemoryLedger) Record(_ context.Context, retired, survivor domain.RecipientID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for old, target := range l.entries {
		if target == retired {
			l.entries[old] = survivor
		}
	}
	l.entries[retired] = survivor
	return nil
}

func (l *InMemoryLedger) Resolve(_ context.Context, id domain.RecipientID) (domain.RecipientID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if survivor, ok := l.entries[id]; ok {
		return survivor, nil
	}
	return domain.UnknownRecipient, sentinel.ErrNotFound
}

func (l *InMemoryLedger) All(_ context.Context) (map[domain.RecipientID]domain.RecipientID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[domain.RecipientID]domain.RecipientID, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out, nil
}
