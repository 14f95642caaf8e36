// internal/borrowing/service.go
package borrowing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"neighborly/internal/catalog"
	"neighborly/internal/notify"
)

// Service defines the borrow lifecycle operations. Every error it returns is
// an *apperr.Error.
type Service interface {
	CreateBorrowRequest(ctx context.Context, in CreateInput) (*BorrowRequest, error)
	Approve(ctx context.Context, requestID, lenderID uuid.UUID, responseMessage string) (*BorrowRequest, error)
	Reject(ctx context.Context, requestID, lenderID uuid.UUID, responseMessage string) (*BorrowRequest, error)
	StartBorrow(ctx context.Context, requestID, lenderID uuid.UUID) (*BorrowRequest, error)
	Cancel(ctx context.Context, requestID, borrowerID uuid.UUID) (*BorrowRequest, error)
	MarkAsReturned(ctx context.Context, requestID, lenderID uuid.UUID) (*BorrowRequest, error)
	MarkDepositPaid(ctx context.Context, requestID, lenderID uuid.UUID) (*BorrowRequest, error)
	Rate(ctx context.Context, requestID, callerID uuid.UUID, rating int, feedback string) (*BorrowRequest, error)

	Get(ctx context.Context, requestID, callerID uuid.UUID) (*BorrowRequest, error)
	ListForBorrower(ctx context.Context, borrowerID uuid.UUID, status Status) ([]BorrowRequest, error)
	ListForLender(ctx context.Context, lenderID uuid.UUID, status Status) ([]BorrowRequest, error)
	ListForItem(ctx context.Context, itemID, callerID uuid.UUID) ([]BorrowRequest, error)
	ListOverdue(ctx context.Context, lenderID uuid.UUID) ([]BorrowRequest, error)
}

type CreateInput struct {
	ItemID             uuid.UUID
	BorrowerID         uuid.UUID
	Message            string
	RequestedStartDate time.Time
	RequestedEndDate   time.Time
	DepositAmount      *int64
}

// ItemCatalog is the catalog service as seen from borrowing.
type ItemCatalog interface {
	GetItem(ctx context.Context, id uuid.UUID) (*catalog.Item, error)
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) error
}

type MembershipChecker interface {
	IsMember(ctx context.Context, communityID, userID uuid.UUID) (bool, error)
}

// Notifier enqueues a notification without waiting for delivery.
type Notifier interface {
	Notify(ev notify.Event) bool
}
