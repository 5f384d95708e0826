package models

import (
	"time"

	"github.com/google/uuid"
)

// KeyKind distinguishes server-side secret keys from browser-exposed
// public keys. The kind is fixed at mint time and derivable from the
// key's prefix.
type KeyKind string

const (
	KeyKindSecret KeyKind = "secret"
	KeyKindPublic KeyKind = "public"
)

// ApiKey identifies a caller. Keys are minted alongside a website
// (production/test x secret/public) and revoked by flipping Active;
// they are never deleted while referenced by audit history.
type ApiKey struct {
	ID             uuid.UUID  `json:"id"`
	RawKey         string     `json:"-"` // never serialized after mint
	Kind           KeyKind    `json:"kind"`
	Active         bool       `json:"active"`
	Test           bool       `json:"test"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	WebsiteID      *uuid.UUID `json:"website_id,omitempty"` // nil for global/admin keys
	CreatorID      uuid.UUID  `json:"creator_id"`
	CreatedAt      time.Time  `json:"created_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// ResolvedKey is a key joined to its owning website and organization,
// as returned by the key store and held by the validation cache.
type ResolvedKey struct {
	Key          ApiKey        `json:"key"`
	Website      *Website      `json:"website,omitempty"` // nil for global/admin keys
	Organization *Organization `json:"organization"`
}
