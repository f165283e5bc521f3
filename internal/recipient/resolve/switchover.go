package resolve

import (
	"bytes"

	"rolodex/pkg/domain"
)

// Oracle reports cryptographic session state for a service id. The resolver
// only reads it; a value type like OracleView keeps resolution unit-testable
// without a live store.
type Oracle interface {
	HasSession(sid domain.ServiceID) bool
	IdentityKey(sid domain.ServiceID) []byte
}

// OracleView is a point-in-time Oracle loaded before resolution starts.
type OracleView struct {
	Sessions map[domain.ServiceID]bool
	Keys     map[domain.ServiceID][]byte
}

func (v OracleView) HasSession(sid domain.ServiceID) bool {
	return v.Sessions[sid]
}

func (v OracleView) IdentityKey(sid domain.ServiceID) []byte {
	return v.Keys[sid]
}

// NeedsSwitchover decides whether changing a record's identity anchor from
// oldSID to newSID must surface a session-switchover notice: an unverified
// change that silently redirects an existing encrypted session to a different
// long-term key must be shown to the user. A verified change, or the absence
// of a prior session, needs no warning.
func NeedsSwitchover(oracle Oracle, pniVerified bool, oldSID, newSID domain.ServiceID) bool {
	if pniVerified {
		return false
	}
	if oldSID.IsNil() || newSID.IsNil() {
		return false
	}
	if oldSID.Equal(newSID) {
		return false
	}
	if !oracle.HasSession(oldSID) {
		return false
	}
	return !bytes.Equal(oracle.IdentityKey(oldSID), oracle.IdentityKey(newSID))
}
