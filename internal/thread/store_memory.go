package thread

import (
	"context"
	"sync"

	"rolodex/pkg/domain"
)

type InMemoryStore struct {
	mu          sync.Mutex
	nextID      ThreadID
	byRecipient map[domain.RecipientID]ThreadID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		nextID:      1,
		byRecipient: make(map[domain.RecipientID]ThreadID),
	}
}

func (s *InMemoryStore) GetOrCreate(_ context.Context, id domain.RecipientID) (ThreadID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tid, ok := s.byRecipient[id]; ok {
		return tid, nil
	}
	tid := s.nextID
	s.nextID++
	s.byRecipient[id] = tid
	return tid, nil
}

func (s *InMemoryStore) Find(_ context.Context, id domain.RecipientID) (ThreadID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tid, ok := s.byRecipient[id]
	return tid, ok, nil
}

func (s *InMemoryStore) Merge(_ context.Context, primary, secondary domain.RecipientID) (MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	priThread, priOK := s.byRecipient[primary]
	secThread, secOK := s.byRecipient[secondary]

	switch {
	case !priOK && !secOK:
		return MergeResult{}, nil
	case !priOK:
		// Only the secondary had a thread; the primary adopts it.
		delete(s.byRecipient, secondary)
		s.byRecipient[primary] = secThread
		return MergeResult{ThreadID: secThread}, nil
	case !secOK:
		return MergeResult{ThreadID: priThread}, nil
	default:
		delete(s.byRecipient, secondary)
		return MergeResult{ThreadID: priThread, NeededMerge: priThread != secThread}, nil
	}
}
