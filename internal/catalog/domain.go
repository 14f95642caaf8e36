// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive  = "active"
	StatusRetired = "retired"
)

// Item is a household item a user has listed in one of their communities.
type Item struct {
	ID          uuid.UUID `json:"id" db:"id"`
	OwnerID     uuid.UUID `json:"owner_id" db:"owner_id"`
	CommunityID uuid.UUID `json:"community_id" db:"community_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Category    string    `json:"category,omitempty" db:"category"`
	Available   bool      `json:"available" db:"available"`
	Status      string    `json:"status" db:"status"`
	Version     int       `json:"version" db:"version"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// CanBeBorrowed reports whether the item is listed and not currently lent out.
func (i *Item) CanBeBorrowed() bool {
	return i.Status == StatusActive && i.Available
}

type AddItemInput struct {
	OwnerID     uuid.UUID `json:"-"`
	CommunityID uuid.UUID `json:"community_id" validate:"required"`
	Name        string    `json:"name" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=2000"`
	Category    string    `json:"category" validate:"max=100"`
}
