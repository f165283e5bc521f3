package resolve

import (
	"rolodex/internal/recipient/models"
	"rolodex/pkg/domain"
)

// Operation is one atomic step of a change set. The set is closed: the writer
// handles every variant in a single type switch and treats an unknown variant
// as an invariant violation, so adding a kind forces the writer to change.
//
// Order matters when applying: a removal frees a unique slot that a later set
// may need.
type Operation interface {
	isOperation()
}

// SetACI binds an account identifier to a record. Setting it also marks the
// record known-registered.
type SetACI struct {
	ID  domain.RecipientID
	ACI domain.ACI
}

// SetPNI binds a privacy identifier to a record, replacing any previous one.
// Setting it also marks the record known-registered.
type SetPNI struct {
	ID  domain.RecipientID
	PNI domain.PNI
}

// SetE164 binds a phone number to a record, replacing any previous one.
type SetE164 struct {
	ID   domain.RecipientID
	E164 domain.E164
}

// RemoveE164 detaches a record's phone number, freeing it for another record.
type RemoveE164 struct {
	ID domain.RecipientID
}

// RemovePNI detaches a record's privacy identifier.
type RemovePNI struct {
	ID domain.RecipientID
}

// Merge consolidates Secondary into Primary. Secondary is deleted; the remap
// ledger permanently remembers its fate.
type Merge struct {
	Primary   domain.RecipientID
	Secondary domain.RecipientID
}

// SessionSwitchoverInsert queues a session-changed notice on a record's
// conversation. E164 is the number the record carried when the change was
// detected, used to tag the notice.
type SessionSwitchoverInsert struct {
	ID   domain.RecipientID
	E164 domain.E164
}

// ChangeNumberInsert queues a contact-changed-number notice. Valid only
// against an already-resolved existing record, never a fresh insert.
type ChangeNumberInsert struct {
	ID      domain.RecipientID
	NewE164 domain.E164
	OldE164 domain.E164
}

func (SetACI) isOperation()                  {}
func (SetPNI) isOperation()                  {}
func (SetE164) isOperation()                 {}
func (RemoveE164) isOperation()              {}
func (RemovePNI) isOperation()               {}
func (Merge) isOperation()                   {}
func (SessionSwitchoverInsert) isOperation() {}
func (ChangeNumberInsert) isOperation()      {}

// Resolution says which record the change set lands on: an existing id, or a
// brand-new row inserted from the tuple.
type Resolution struct {
	Existing domain.RecipientID
	Insert   *models.Tuple
}

// IsInsert reports whether the resolution allocates a new record.
func (r Resolution) IsInsert() bool {
	return r.Insert != nil
}

// ChangeSet is the resolver's pure output: the id resolution, the ordered
// operations to reach the target state, and the trace tags describing the
// path taken.
type ChangeSet struct {
	Resolution Resolution
	Ops        []Operation
	Trace      []Trace
}

func (c *ChangeSet) add(ops ...Operation) {
	c.Ops = append(c.Ops, ops...)
}

func (c *ChangeSet) tag(t Trace) {
	c.Trace = append(c.Trace, t)
}

// HasTrace reports whether the given tag was recorded.
func (c ChangeSet) HasTrace(t Trace) bool {
	for _, have := range c.Trace {
		if have == t {
			return true
		}
	}
	return false
}

func (c ChangeSet) hasChangeNumber() bool {
	for _, op := range c.Ops {
		if _, ok := op.(ChangeNumberInsert); ok {
			return true
		}
	}
	return false
}

func (c ChangeSet) hasSwitchoverFor(id domain.RecipientID) bool {
	for _, op := range c.Ops {
		if ssi, ok := op.(SessionSwitchoverInsert); ok && ssi.ID == id {
			return true
		}
	}
	return false
}
