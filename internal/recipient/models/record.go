package models

import (
	"time"

	"github.com/google/uuid"

	"rolodex/pkg/domain"
)

// Tuple is a partial identifier tuple as observed by an upstream source:
// discovery lookups, message senders, sync messages, profile records. At
// least one field must be present to resolve or create a record.
type Tuple struct {
	E164 domain.E164
	PNI  domain.PNI
	ACI  domain.ACI
}

// HasAny reports whether at least one identifier is present.
func (t Tuple) HasAny() bool {
	return !t.E164.IsNil() || !t.PNI.IsNil() || !t.ACI.IsNil()
}

// Record is one row per recipient: the identifier tuple plus auxiliary
// preference and profile state. All dependent data in the wider system is
// keyed by ID.
type Record struct {
	ID domain.RecipientID

	ACI  domain.ACI
	PNI  domain.PNI
	E164 domain.E164

	// Registered is set whenever an ACI or PNI is bound; a record known only
	// by phone number may belong to someone not on the service.
	Registered bool

	Blocked        bool
	ProfileSharing bool
	MuteUntil      time.Time
	ChatColorID    int32
	NotifyChannel  string

	ProfileKey        []byte
	ProfileGivenName  string
	ProfileFamilyName string

	Capabilities Capabilities

	// StorageSyncID identifies this record in the encrypted server-held copy
	// used for cross-device reconciliation. Fresh on insert, kept on merge.
	StorageSyncID uuid.UUID
}

// ServiceID returns the record's identity anchor: the ACI when bound,
// otherwise the PNI.
func (r Record) ServiceID() domain.ServiceID {
	if !r.ACI.IsNil() {
		return domain.ServiceIDFromACI(r.ACI)
	}
	return domain.ServiceIDFromPNI(r.PNI)
}

// Capabilities carries per-feature support levels reported by the account.
// Each field is a small ordered level, not a boolean, so two records merge
// via per-field max.
type Capabilities struct {
	StorageService   uint8
	DeleteSync       uint8
	VersionedProfile uint8
}

// Max combines two capability sets field by field, keeping the higher level.
func (c Capabilities) Max(other Capabilities) Capabilities {
	return Capabilities{
		StorageService:   maxU8(c.StorageService, other.StorageService),
		DeleteSync:       maxU8(c.DeleteSync, other.DeleteSync),
		VersionedProfile: maxU8(c.VersionedProfile, other.VersionedProfile),
	}
}

// Bits packs the capability levels for persistence.
func (c Capabilities) Bits() int64 {
	return int64(c.StorageService) | int64(c.DeleteSync)<<8 | int64(c.VersionedProfile)<<16
}

// CapabilitiesFromBits unpacks a persisted capability bitmask.
func CapabilitiesFromBits(bits int64) Capabilities {
	return Capabilities{
		StorageService:   uint8(bits),
		DeleteSync:       uint8(bits >> 8),
		VersionedProfile: uint8(bits >> 16),
	}
}

func maxU8(a, b uint8) uint8 {
	if a > b {
		return a
	}
	return b
}
