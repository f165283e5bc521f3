package session

import (
	"context"
	"sync"

	"rolodex/pkg/domain"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]Session)}
}

func (s *InMemoryStore) Put(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ServiceID.String()] = sess
	return nil
}

func (s *InMemoryStore) HasActiveSession(_ context.Context, sid domain.ServiceID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sid.String()]
	return ok, nil
}

func (s *InMemoryStore) IdentityKey(_ context.Context, sid domain.ServiceID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[sid.String()]; ok {
		return sess.IdentityKey, nil
	}
	return nil, nil
}

func (s *InMemoryStore) DeleteByServiceID(_ context.Context, sid domain.ServiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sid.String())
	return nil
}

func (s *InMemoryStore) DeleteByE164(_ context.Context, e164 domain.E164) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped int64
	for key, sess := range s.sessions {
		if !e164.IsNil() && sess.E164 == e164 {
			delete(s.sessions, key)
			dropped++
		}
	}
	return dropped, nil
}

func (s *InMemoryStore) ActiveSessionCount(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.sessions)), nil
}
