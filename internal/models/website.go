package models

import (
	"time"

	"github.com/google/uuid"
)

// Website is a customer site embedding the chat widget. Domains is the
// whitelist evaluated by the origin gate: each entry is a bare hostname,
// a full URL (hostname extracted before matching), or a wildcard of the
// form "*.base".
type Website struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	Domains        []string  `json:"domains"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Organization is the tenant root every request is scoped to.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
