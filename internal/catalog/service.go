// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddItem(ctx context.Context, in AddItemInput) (*Item, error)
	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)
	ListItems(ctx context.Context, communityID uuid.UUID) ([]Item, error)
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) error
	RemoveItem(ctx context.Context, id, callerID uuid.UUID) error
}

// MembershipChecker answers whether a user belongs to a community.
type MembershipChecker interface {
	IsMember(ctx context.Context, communityID, userID uuid.UUID) (bool, error)
}
