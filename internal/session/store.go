// Package session tracks established messaging sessions per service id and
// the identity key each one was built against.
package session

import (
	"context"

	"rolodex/pkg/domain"
)

// Session is one established messaging channel with a service id.
type Session struct {
	ServiceID   domain.ServiceID
	E164        domain.E164
	IdentityKey []byte
}

// Store answers the two questions identity resolution asks about sessions
// (does one exist, and under which key) and clears sessions that became
// unroutable after a merge.
type Store interface {
	Put(ctx context.Context, sess Session) error
	HasActiveSession(ctx context.Context, sid domain.ServiceID) (bool, error)
	// IdentityKey returns nil with no error when no session exists.
	IdentityKey(ctx context.Context, sid domain.ServiceID) ([]byte, error)
	DeleteByServiceID(ctx context.Context, sid domain.ServiceID) error
	// DeleteByE164 removes sessions addressed by a phone number that no
	// longer routes to its old owner.
	DeleteByE164(ctx context.Context, e164 domain.E164) (int64, error)
	ActiveSessionCount(ctx context.Context) (int64, error)
}
