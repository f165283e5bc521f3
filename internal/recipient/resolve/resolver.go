// Package resolve computes, without writing anything, how an incoming
// identifier tuple maps onto the recipient table: reuse a record, fill gaps
// on one, insert a new one, or consolidate several. The output is an ordered
// change set the writer applies transactionally.
package resolve

import (
	"errors"

	"rolodex/internal/recipient/models"
	"rolodex/pkg/domain"
)

// ErrNoIdentifiers signals a caller bug: a tuple with no identifying field
// can neither be resolved nor created. Fail fast, never retried.
var ErrNoIdentifiers = errors.New("resolve: tuple has no identifiers")

// Self is the local user's bound identity as seen by the resolver.
type Self struct {
	ACI  domain.ACI
	PNI  domain.PNI
	E164 domain.E164
}

// Request is one resolution call: the tuple, whether the e164/pni association
// was verified by the server, and whether the caller may touch the local
// user's own record.
type Request struct {
	E164 domain.E164
	PNI  domain.PNI
	ACI  domain.ACI

	PNIVerified bool
	ChangeSelf  bool

	Self Self
}

// Tuple returns the request's identifier tuple.
func (r Request) Tuple() models.Tuple {
	return models.Tuple{E164: r.E164, PNI: r.PNI, ACI: r.ACI}
}

func (r Request) overlapsSelf(rec models.Record) bool {
	self := r.Self
	if !self.ACI.IsNil() && (self.ACI == r.ACI || self.ACI == rec.ACI) {
		return true
	}
	if !self.PNI.IsNil() && (self.PNI == r.PNI || self.PNI == rec.PNI) {
		return true
	}
	if !self.E164.IsNil() && (self.E164 == r.E164 || self.E164 == rec.E164) {
		return true
	}
	return false
}

// Resolve computes the change set for a request against a read snapshot.
// It is purely functional: no store writes, no oracle mutation.
func Resolve(snap *Snapshot, oracle Oracle, req Request) (ChangeSet, error) {
	if !req.Tuple().HasAny() {
		return ChangeSet{}, ErrNoIdentifiers
	}

	var cs ChangeSet

	byE164, okE164 := snap.ByE164(req.E164)
	byPNI, okPNI := snap.ByPNI(req.PNI)
	byACI, okACI := snap.ByACI(req.ACI)

	ids := make(map[domain.RecipientID]struct{})
	if okE164 {
		ids[byE164.ID] = struct{}{}
	}
	if okPNI {
		ids[byPNI.ID] = struct{}{}
	}
	if okACI {
		ids[byACI.ID] = struct{}{}
	}

	switch len(ids) {
	case 0:
		tuple := req.Tuple()
		cs.Resolution = Resolution{Insert: &tuple}
		cs.tag(TraceInsert)
		return cs, nil
	case 1:
		var id domain.RecipientID
		for only := range ids {
			id = only
		}
		fillGaps(snap, oracle, req, id, &cs)
		return cs, nil
	default:
		resolveMerge(snap, oracle, req, &cs)
		return cs, nil
	}
}

// resolveMerge runs the three pairwise conflict passes in fixed order,
// replaying queued operations against the snapshot before each pass so later
// passes see the effect of earlier ones, then fills remaining gaps on the
// surviving record.
func resolveMerge(snap *Snapshot, oracle Oracle, req Request, cs *ChangeSet) {
	mergeE164PNI(snap.ApplyAll(cs.Ops), oracle, req, cs)
	mergePNIACI(snap.ApplyAll(cs.Ops), req, cs)
	mergeE164ACI(snap.ApplyAll(cs.Ops), req, cs)

	cur := snap.ApplyAll(cs.Ops)

	// Survivor precedence mirrors the pass precedence: the account-id record
	// anchors the result when present, then the phone record, then the
	// privacy-id record.
	var primary domain.RecipientID
	if rec, ok := cur.ByACI(req.ACI); ok {
		primary = rec.ID
	} else if rec, ok := cur.ByE164(req.E164); ok {
		primary = rec.ID
	} else if rec, ok := cur.ByPNI(req.PNI); ok {
		primary = rec.ID
	}
	if primary.IsUnknown() {
		// Cannot happen: the merge case starts with at least two matches and
		// merges never drop every match. Guard anyway.
		tuple := req.Tuple()
		cs.Resolution = Resolution{Insert: &tuple}
		cs.tag(TraceInsert)
		return
	}

	fillGaps(cur, oracle, req, primary, cs)
}

// mergeE164PNI reconciles the records owning the request's e164 and pni.
// A phone-anchored record outranks a bare privacy-id record; a privacy id on
// a non-bare record is stolen rather than merged.
func mergeE164PNI(cur *Snapshot, oracle Oracle, req Request, cs *ChangeSet) {
	a, okA := cur.ByE164(req.E164)
	b, okB := cur.ByPNI(req.PNI)
	if !okA || !okB || a.ID == b.ID {
		return
	}
	if !req.ChangeSelf && (req.overlapsSelf(a) || req.overlapsSelf(b)) {
		cs.tag(TraceSelfExcluded)
		return
	}

	if b.ACI.IsNil() && b.E164.IsNil() {
		cs.add(Merge{Primary: a.ID, Secondary: b.ID})
		cs.tag(TraceE164PNIMerge)
		return
	}

	cs.add(RemovePNI{ID: b.ID}, SetPNI{ID: a.ID, PNI: req.PNI})
	cs.tag(TraceE164PNISteal)

	// An unverified pni moving between two records that both hold live
	// sessions can under-report a multi-step identity swap, so a notice is
	// queued on both sides.
	if !req.PNIVerified {
		sa, sb := a.ServiceID(), b.ServiceID()
		if !sa.IsNil() && !sb.IsNil() && oracle.HasSession(sa) && oracle.HasSession(sb) {
			cs.add(
				SessionSwitchoverInsert{ID: a.ID, E164: a.E164},
				SessionSwitchoverInsert{ID: b.ID, E164: b.E164},
			)
			cs.tag(TraceDefensiveSwitchover)
		}
	}
}

// mergePNIACI reconciles the records owning the request's pni and aci. The
// account-id record outranks and always survives.
func mergePNIACI(cur *Snapshot, req Request, cs *ChangeSet) {
	a, okA := cur.ByPNI(req.PNI)
	b, okB := cur.ByACI(req.ACI)
	if !okA || !okB || a.ID == b.ID {
		return
	}
	if !req.ChangeSelf && (req.overlapsSelf(a) || req.overlapsSelf(b)) {
		cs.tag(TraceSelfExcluded)
		return
	}

	if a.ACI.IsNil() && a.E164.IsNil() {
		cs.add(Merge{Primary: b.ID, Secondary: a.ID})
		cs.tag(TracePNIACIMerge)
		return
	}

	cs.add(RemovePNI{ID: a.ID}, SetPNI{ID: b.ID, PNI: req.PNI})
	cs.tag(TracePNIACISteal)
}

// mergeE164ACI reconciles the records owning the request's e164 and aci. The
// account-id record survives; when it already carries a different number the
// phone is moved and a change-number notice is queued instead of being
// silently dropped.
func mergeE164ACI(cur *Snapshot, req Request, cs *ChangeSet) {
	a, okA := cur.ByE164(req.E164)
	b, okB := cur.ByACI(req.ACI)
	if !okA || !okB || a.ID == b.ID {
		return
	}
	if !req.ChangeSelf && (req.overlapsSelf(a) || req.overlapsSelf(b)) {
		cs.tag(TraceSelfExcluded)
		return
	}

	changedNumber := !b.E164.IsNil() && b.E164 != req.E164

	if a.ACI.IsNil() && a.PNI.IsNil() {
		cs.add(Merge{Primary: b.ID, Secondary: a.ID})
		cs.tag(TraceE164ACIMerge)
		if changedNumber {
			// The merge alone keeps the primary's old number; the tuple says
			// the phone goes with this account.
			cs.add(SetE164{ID: b.ID, E164: req.E164})
		}
	} else {
		cs.add(RemoveE164{ID: a.ID}, SetE164{ID: b.ID, E164: req.E164})
		cs.tag(TraceE164ACISteal)
	}

	if changedNumber {
		cs.add(ChangeNumberInsert{ID: b.ID, NewE164: req.E164, OldE164: b.E164})
		cs.tag(TraceChangeNumber)
	}
}

// fillGaps finishes resolution against a single record: no-op when the record
// already carries every incoming field, otherwise set operations for the
// missing ones. An already-bound, different account id forces a brand-new
// record instead.
func fillGaps(cur *Snapshot, oracle Oracle, req Request, id domain.RecipientID, cs *ChangeSet) {
	rec, ok := cur.Record(id)
	if !ok {
		tuple := req.Tuple()
		cs.Resolution = Resolution{Insert: &tuple}
		cs.tag(TraceInsert)
		return
	}

	if !req.ChangeSelf && req.overlapsSelf(rec) {
		cs.tag(TraceSelfExcluded)
		cs.Resolution = Resolution{Existing: id}
		return
	}

	if !req.ACI.IsNil() && !rec.ACI.IsNil() && rec.ACI != req.ACI {
		// Account-id immutability: the aci cannot move onto this record, so
		// the tuple describes somebody else. Any incoming e164/pni still held
		// by the old record is stolen back first so the insert cannot collide.
		if !req.E164.IsNil() && rec.E164 == req.E164 {
			cs.add(RemoveE164{ID: id})
		}
		if !req.PNI.IsNil() && rec.PNI == req.PNI {
			cs.add(RemovePNI{ID: id})
		}
		tuple := req.Tuple()
		cs.Resolution = Resolution{Insert: &tuple}
		cs.tag(TraceACIConflictInsert)
		return
	}

	opsBefore := len(cs.Ops)
	oldE164 := rec.E164
	oldSID := rec.ServiceID()
	changedNumber := !req.E164.IsNil() && !oldE164.IsNil() && oldE164 != req.E164

	if !req.PNI.IsNil() && rec.PNI != req.PNI {
		if owner, owned := cur.ByPNI(req.PNI); owned && owner.ID != id {
			cs.tag(TraceFieldBlocked)
		} else {
			cs.add(SetPNI{ID: id, PNI: req.PNI})
		}
	}
	if !req.E164.IsNil() && rec.E164 != req.E164 {
		if owner, owned := cur.ByE164(req.E164); owned && owner.ID != id {
			cs.tag(TraceFieldBlocked)
		} else {
			cs.add(SetE164{ID: id, E164: req.E164})
			if changedNumber && !cs.hasChangeNumber() {
				cs.add(ChangeNumberInsert{ID: id, NewE164: req.E164, OldE164: oldE164})
				cs.tag(TraceChangeNumber)
			}
		}
	}
	if !req.ACI.IsNil() && rec.ACI.IsNil() {
		cs.add(SetACI{ID: id, ACI: req.ACI})
	}

	post, _ := cur.ApplyAll(cs.Ops[opsBefore:]).Record(id)
	newSID := post.ServiceID()
	if NeedsSwitchover(oracle, req.PNIVerified, oldSID, newSID) && !cs.hasSwitchoverFor(id) {
		cs.add(SessionSwitchoverInsert{ID: id, E164: oldE164})
		cs.tag(TraceSessionSwitchover)
	}

	if len(cs.Ops) == opsBefore && opsBefore == 0 {
		cs.tag(TraceFullMatch)
	} else if len(cs.Ops) > opsBefore {
		cs.tag(TraceGapFill)
	}

	cs.Resolution = Resolution{Existing: id}
}
