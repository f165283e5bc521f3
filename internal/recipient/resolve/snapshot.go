package resolve

import (
	"rolodex/internal/recipient/models"
	"rolodex/pkg/domain"
)

// Snapshot is an immutable view of the records relevant to one resolution:
// the up-to-three rows found by point lookups. Apply produces the
// hypothetical post-operation view without touching storage, which is what
// lets the merge passes replay already-queued operations.
type Snapshot struct {
	records map[domain.RecipientID]models.Record
}

// NewSnapshot builds a snapshot from looked-up records. Records with an
// unknown id are ignored.
func NewSnapshot(records ...models.Record) *Snapshot {
	s := &Snapshot{records: make(map[domain.RecipientID]models.Record, len(records))}
	for _, r := range records {
		if !r.ID.IsUnknown() {
			s.records[r.ID] = r
		}
	}
	return s
}

// Record returns the record with the given id.
func (s *Snapshot) Record(id domain.RecipientID) (models.Record, bool) {
	r, ok := s.records[id]
	return r, ok
}

// ByE164 returns the record owning the given phone number.
func (s *Snapshot) ByE164(e164 domain.E164) (models.Record, bool) {
	if e164.IsNil() {
		return models.Record{}, false
	}
	for _, r := range s.records {
		if r.E164 == e164 {
			return r, true
		}
	}
	return models.Record{}, false
}

// ByPNI returns the record owning the given privacy identifier.
func (s *Snapshot) ByPNI(pni domain.PNI) (models.Record, bool) {
	if pni.IsNil() {
		return models.Record{}, false
	}
	for _, r := range s.records {
		if r.PNI == pni {
			return r, true
		}
	}
	return models.Record{}, false
}

// ByACI returns the record owning the given account identifier.
func (s *Snapshot) ByACI(aci domain.ACI) (models.Record, bool) {
	if aci.IsNil() {
		return models.Record{}, false
	}
	for _, r := range s.records {
		if r.ACI == aci {
			return r, true
		}
	}
	return models.Record{}, false
}

// Apply returns a new snapshot reflecting the operation. The receiver is not
// modified. Notice operations have no effect on identifier state.
func (s *Snapshot) Apply(op Operation) *Snapshot {
	next := s.clone()
	switch o := op.(type) {
	case SetACI:
		if r, ok := next.records[o.ID]; ok {
			r.ACI = o.ACI
			r.Registered = true
			next.records[o.ID] = r
		}
	case SetPNI:
		if r, ok := next.records[o.ID]; ok {
			r.PNI = o.PNI
			r.Registered = true
			next.records[o.ID] = r
		}
	case SetE164:
		if r, ok := next.records[o.ID]; ok {
			r.E164 = o.E164
			next.records[o.ID] = r
		}
	case RemoveE164:
		if r, ok := next.records[o.ID]; ok {
			r.E164 = ""
			next.records[o.ID] = r
		}
	case RemovePNI:
		if r, ok := next.records[o.ID]; ok {
			r.PNI = domain.PNI{}
			next.records[o.ID] = r
		}
	case Merge:
		pri, okP := next.records[o.Primary]
		sec, okS := next.records[o.Secondary]
		if okP && okS {
			// Primary absorbs identifiers it lacks; the secondary row is gone.
			if pri.ACI.IsNil() {
				pri.ACI = sec.ACI
			}
			if pri.PNI.IsNil() {
				pri.PNI = sec.PNI
			}
			if pri.E164.IsNil() {
				pri.E164 = sec.E164
			}
			pri.Registered = pri.Registered || sec.Registered
			next.records[o.Primary] = pri
			delete(next.records, o.Secondary)
		}
	case SessionSwitchoverInsert, ChangeNumberInsert:
		// notices only
	}
	return next
}

// ApplyAll replays a sequence of operations.
func (s *Snapshot) ApplyAll(ops []Operation) *Snapshot {
	cur := s
	for _, op := range ops {
		cur = cur.Apply(op)
	}
	return cur
}

func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{records: make(map[domain.RecipientID]models.Record, len(s.records))}
	for id, r := range s.records {
		next.records[id] = r
	}
	return next
}
