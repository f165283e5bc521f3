// Package domain holds the identifier primitives shared across the service.
//
// Identifiers are parsed at the boundary so the rest of the code can rely on
// their validity. An ACI is the permanent account identifier; a PNI stands in
// for a phone number where the raw number must stay hidden; an E164 is the
// canonical phone number itself.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// RecipientID is the stable local primary key for one participant record.
// It is never reused; retired ids live on in the remap ledger.
type RecipientID int64

// UnknownRecipient is the zero value meaning "no record".
const UnknownRecipient RecipientID = 0

func (r RecipientID) IsUnknown() bool {
	return r == UnknownRecipient
}

func (r RecipientID) String() string {
	return fmt.Sprintf("RecipientID::%d", int64(r))
}

// ACI is a permanent account identifier, bound 1:1 for the account's lifetime.
type ACI uuid.UUID

// ParseACI validates and returns an ACI.
func ParseACI(s string) (ACI, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ACI{}, fmt.Errorf("invalid ACI: %w", err)
	}
	return ACI(u), nil
}

func (a ACI) IsNil() bool {
	return uuid.UUID(a) == uuid.Nil
}

func (a ACI) String() string {
	return uuid.UUID(a).String()
}

// PNI is a semi-stable privacy identifier. Unlike an ACI it may rotate and may
// move between records while resolving conflicts.
type PNI uuid.UUID

// ParsePNI validates and returns a PNI.
func ParsePNI(s string) (PNI, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PNI{}, fmt.Errorf("invalid PNI: %w", err)
	}
	return PNI(u), nil
}

func (p PNI) IsNil() bool {
	return uuid.UUID(p) == uuid.Nil
}

func (p PNI) String() string {
	return uuid.UUID(p).String()
}

// E164 is a canonical phone number. The empty string means "absent".
type E164 string

// ParseE164 validates a phone number in E.164 form: a leading '+', a non-zero
// first digit, and 3 to 15 digits total.
func ParseE164(s string) (E164, error) {
	if len(s) < 4 || len(s) > 16 || s[0] != '+' {
		return "", fmt.Errorf("invalid E164 %q", s)
	}
	if s[1] == '0' {
		return "", fmt.Errorf("invalid E164 %q: leading zero", s)
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("invalid E164 %q", s)
		}
	}
	return E164(s), nil
}

func (e E164) IsNil() bool {
	return e == ""
}

func (e E164) String() string {
	return string(e)
}

// ServiceIDKind discriminates the two identifier types a service id can carry.
type ServiceIDKind uint8

const (
	ServiceIDKindACI ServiceIDKind = iota + 1
	ServiceIDKindPNI
)

// ServiceID is the identity anchor of a record: the ACI when one is bound,
// otherwise the PNI. Cryptographic sessions are keyed by service id.
type ServiceID struct {
	Kind ServiceIDKind
	UUID uuid.UUID
}

// ServiceIDFromACI wraps an ACI as a service id. Nil in, nil out.
func ServiceIDFromACI(a ACI) ServiceID {
	if a.IsNil() {
		return ServiceID{}
	}
	return ServiceID{Kind: ServiceIDKindACI, UUID: uuid.UUID(a)}
}

// ServiceIDFromPNI wraps a PNI as a service id. Nil in, nil out.
func ServiceIDFromPNI(p PNI) ServiceID {
	if p.IsNil() {
		return ServiceID{}
	}
	return ServiceID{Kind: ServiceIDKindPNI, UUID: uuid.UUID(p)}
}

func (s ServiceID) IsNil() bool {
	return s.Kind == 0 || s.UUID == uuid.Nil
}

func (s ServiceID) Equal(other ServiceID) bool {
	return s.Kind == other.Kind && s.UUID == other.UUID
}

func (s ServiceID) String() string {
	switch s.Kind {
	case ServiceIDKindACI:
		return "ACI:" + s.UUID.String()
	case ServiceIDKindPNI:
		return "PNI:" + s.UUID.String()
	default:
		return "ServiceID:nil"
	}
}
