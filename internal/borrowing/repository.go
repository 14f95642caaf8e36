package borrowing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("borrow request not found")
	ErrVersionConflict = errors.New("borrow request was modified concurrently")
)

// Role selects which side of a request a user is on.
type Role string

const (
	RoleBorrower Role = "borrower"
	RoleLender   Role = "lender"
)

// ListFilter narrows List. Zero-valued fields are ignored.
type ListFilter struct {
	BorrowerID uuid.UUID
	LenderID   uuid.UUID
	ItemID     uuid.UUID
	Statuses   []Status
	// OverdueAsOf selects Active requests whose end date is before this day.
	OverdueAsOf time.Time
	Limit       int
	Offset      int
}

// Repository persists borrow requests.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*BorrowRequest, error)
	// Create stores a new request at version 1.
	Create(ctx context.Context, req *BorrowRequest, change Change) error
	// Update writes req if the stored version still equals req.Version, then
	// increments req.Version. A stale version yields ErrVersionConflict.
	Update(ctx context.Context, req *BorrowRequest, change Change) error
	List(ctx context.Context, f ListFilter) ([]BorrowRequest, error)
	CountByStatus(ctx context.Context, role Role, userID uuid.UUID) (map[Status]int, error)
}
