package store

import (
	"context"
	"sync"

	"rolodex/internal/recipient/models"
	"rolodex/pkg/domain"
	"rolodex/pkg/platform/sentinel"
)

// InMemoryStore keeps the recipient table in maps, enforcing the same
// unique-constraint semantics as the Postgres implementation. It favors
// clarity over performance and backs the unit tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  domain.RecipientID
	records map[domain.RecipientID]models.Record
	byE164  map[domain.E164]domain.RecipientID
	byPNI   map[domain.PNI]domain.RecipientID
	byACI   map[domain.ACI]domain.RecipientID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		nextID:  1,
		records: make(map[domain.RecipientID]models.Record),
		byE164:  make(map[domain.E164]domain.RecipientID),
		byPNI:   make(map[domain.PNI]domain.RecipientID),
		byACI:   make(map[domain.ACI]domain.RecipientID),
	}
}

func (s *InMemoryStore) Get(_ context.Context, id domain.RecipientID) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[id]; ok {
		return rec, nil
	}
	return models.Record{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ByE164(_ context.Context, e164 domain.E164) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e164.IsNil() {
		return models.Record{}, sentinel.ErrNotFound
	}
	if id, ok := s.byE164[e164]; ok {
		return s.records[id], nil
	}
	return models.Record{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ByPNI(_ context.Context, pni domain.PNI) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pni.IsNil() {
		return models.Record{}, sentinel.ErrNotFound
	}
	if id, ok := s.byPNI[pni]; ok {
		return s.records[id], nil
	}
	return models.Record{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ByACI(_ context.Context, aci domain.ACI) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if aci.IsNil() {
		return models.Record{}, sentinel.ErrNotFound
	}
	if id, ok := s.byACI[aci]; ok {
		return s.records[id], nil
	}
	return models.Record{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindMatching(_ context.Context, tuple models.Tuple) (domain.RecipientID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, rec := range s.records {
		if !tuple.E164.IsNil() && rec.E164 != tuple.E164 {
			continue
		}
		if !tuple.PNI.IsNil() && rec.PNI != tuple.PNI {
			continue
		}
		if !tuple.ACI.IsNil() && rec.ACI != tuple.ACI {
			continue
		}
		return id, nil
	}
	return domain.UnknownRecipient, sentinel.ErrNotFound
}

func (s *InMemoryStore) Insert(_ context.Context, rec models.Record) (domain.RecipientID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Uniqueness is checked before any state changes so a conflict leaves the
	// store untouched, mirroring a rejected SQL insert.
	if err := s.checkUnique(rec, domain.UnknownRecipient); err != nil {
		return domain.UnknownRecipient, err
	}

	rec.ID = s.nextID
	s.nextID++
	s.put(rec)
	return rec.ID, nil
}

func (s *InMemoryStore) Update(_ context.Context, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.records[rec.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := s.checkUnique(rec, rec.ID); err != nil {
		return err
	}
	s.unindex(old)
	s.put(rec)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id domain.RecipientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.unindex(rec)
	delete(s.records, id)
	return nil
}

func (s *InMemoryStore) SetACI(ctx context.Context, id domain.RecipientID, aci domain.ACI) error {
	return s.mutate(id, func(rec *models.Record) {
		rec.ACI = aci
		rec.Registered = true
	})
}

func (s *InMemoryStore) SetPNI(ctx context.Context, id domain.RecipientID, pni domain.PNI) error {
	return s.mutate(id, func(rec *models.Record) {
		rec.PNI = pni
		rec.Registered = true
	})
}

func (s *InMemoryStore) SetE164(ctx context.Context, id domain.RecipientID, e164 domain.E164) error {
	return s.mutate(id, func(rec *models.Record) {
		rec.E164 = e164
	})
}

func (s *InMemoryStore) RemoveE164(ctx context.Context, id domain.RecipientID) error {
	return s.mutate(id, func(rec *models.Record) {
		rec.E164 = ""
	})
}

func (s *InMemoryStore) RemovePNI(ctx context.Context, id domain.RecipientID) error {
	return s.mutate(id, func(rec *models.Record) {
		rec.PNI = domain.PNI{}
	})
}

func (s *InMemoryStore) MarkUnregistered(ctx context.Context, id domain.RecipientID) error {
	return s.mutate(id, func(rec *models.Record) {
		rec.Registered = false
	})
}

func (s *InMemoryStore) mutate(id domain.RecipientID, fn func(*models.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.records[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	rec := old
	fn(&rec)
	if err := s.checkUnique(rec, id); err != nil {
		return err
	}
	s.unindex(old)
	s.put(rec)
	return nil
}

// checkUnique enforces at-most-one-owner per identifier value, the same
// guarantee the unique indexes give the Postgres store.
func (s *InMemoryStore) checkUnique(rec models.Record, self domain.RecipientID) error {
	if !rec.E164.IsNil() {
		if id, ok := s.byE164[rec.E164]; ok && id != self {
			return sentinel.ErrConflict
		}
	}
	if !rec.PNI.IsNil() {
		if id, ok := s.byPNI[rec.PNI]; ok && id != self {
			return sentinel.ErrConflict
		}
	}
	if !rec.ACI.IsNil() {
		if id, ok := s.byACI[rec.ACI]; ok && id != self {
			return sentinel.ErrConflict
		}
	}
	return nil
}

func (s *InMemoryStore) put(rec models.Record) {
	s.records[rec.ID] = rec
	if !rec.E164.IsNil() {
		s.byE164[rec.E164] = rec.ID
	}
	if !rec.PNI.IsNil() {
		s.byPNI[rec.PNI] = rec.ID
	}
	if !rec.ACI.IsNil() {
		s.byACI[rec.ACI] = rec.ID
	}
}

func (s *InMemoryStore) unindex(rec models.Record) {
	if !rec.E164.IsNil() {
		delete(s.byE164, rec.E164)
	}
	if !rec.PNI.IsNil() {
		delete(s.byPNI, rec.PNI)
	}
	if !rec.ACI.IsNil() {
		delete(s.byACI, rec.ACI)
	}
}
