// internal/borrowing/domain.go
package borrowing

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a borrow request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusActive    Status = "active"
	StatusReturned  Status = "returned"
	StatusCancelled Status = "cancelled"
	// StatusOverdue is reported for Active loans past their end date. It is
	// never stored.
	StatusOverdue Status = "overdue"
)

// OpenStatuses are the states in which a request still holds a claim on the item.
var OpenStatuses = []Status{StatusPending, StatusApproved, StatusActive}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusActive, StatusReturned, StatusCancelled, StatusOverdue:
		return true
	}
	return false
}

const (
	MinRating = 1
	MaxRating = 5
)

var (
	ErrInvalidTransition  = errors.New("transition not allowed from current status")
	ErrInvalidDateRange   = errors.New("requested end date is before start date")
	ErrRatingOutOfRange   = errors.New("rating must be between 1 and 5")
	ErrAlreadyRated       = errors.New("rating already submitted")
	ErrNoDeposit          = errors.New("request has no deposit")
	ErrDepositAlreadyPaid = errors.New("deposit already paid")
)

// BorrowRequest is one negotiation for temporary possession of an item.
// Item, borrower and lender are referenced by id only.
type BorrowRequest struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	ItemID             uuid.UUID  `json:"item_id" db:"item_id"`
	BorrowerID         uuid.UUID  `json:"borrower_id" db:"borrower_id"`
	LenderID           uuid.UUID  `json:"lender_id" db:"lender_id"`
	RequestedStartDate time.Time  `json:"requested_start_date" db:"requested_start_date"`
	RequestedEndDate   time.Time  `json:"requested_end_date" db:"requested_end_date"`
	ActualStartDate    *time.Time `json:"actual_start_date,omitempty" db:"actual_start_date"`
	ActualEndDate      *time.Time `json:"actual_end_date,omitempty" db:"actual_end_date"`
	Status             Status     `json:"status" db:"status"`
	Message            string     `json:"message,omitempty" db:"message"`
	ResponseMessage    string     `json:"response_message,omitempty" db:"response_message"`
	ResponseAt         *time.Time `json:"response_at,omitempty" db:"response_at"`
	BorrowerRating     *int       `json:"borrower_rating,omitempty" db:"borrower_rating"`
	LenderRating       *int       `json:"lender_rating,omitempty" db:"lender_rating"`
	BorrowerFeedback   string     `json:"borrower_feedback,omitempty" db:"borrower_feedback"`
	LenderFeedback     string     `json:"lender_feedback,omitempty" db:"lender_feedback"`
	IsDepositPaid      bool       `json:"is_deposit_paid" db:"is_deposit_paid"`
	DepositAmount      *int64     `json:"deposit_amount,omitempty" db:"deposit_amount"`
	Version            int        `json:"version" db:"version"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// NewBorrowRequest builds a Pending request. Dates are reduced to calendar
// days in UTC.
func NewBorrowRequest(itemID, borrowerID, lenderID uuid.UUID, start, end time.Time, message string, deposit *int64, now time.Time) (*BorrowRequest, error) {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil, ErrInvalidDateRange
	}
	return &BorrowRequest{
		ID:                 uuid.New(),
		ItemID:             itemID,
		BorrowerID:         borrowerID,
		LenderID:           lenderID,
		RequestedStartDate: start,
		RequestedEndDate:   end,
		Status:             StatusPending,
		Message:            message,
		DepositAmount:      deposit,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (r *BorrowRequest) CanBeApproved() bool { return r.Status == StatusPending }
func (r *BorrowRequest) CanBeRejected() bool { return r.Status == StatusPending }
func (r *BorrowRequest) CanBeStarted() bool  { return r.Status == StatusApproved }
func (r *BorrowRequest) CanBeReturned() bool { return r.Status == StatusActive }
func (r *BorrowRequest) CanBeCancelled() bool {
	return r.Status == StatusPending || r.Status == StatusApproved
}

func (r *BorrowRequest) IsTerminal() bool {
	switch r.Status {
	case StatusRejected, StatusReturned, StatusCancelled:
		return true
	}
	return false
}

func (r *BorrowRequest) Approve(responseMessage string, now time.Time) error {
	if !r.CanBeApproved() {
		return ErrInvalidTransition
	}
	r.respond(StatusApproved, responseMessage, now)
	return nil
}

func (r *BorrowRequest) Reject(responseMessage string, now time.Time) error {
	if !r.CanBeRejected() {
		return ErrInvalidTransition
	}
	r.respond(StatusRejected, responseMessage, now)
	return nil
}

func (r *BorrowRequest) respond(status Status, responseMessage string, now time.Time) {
	r.Status = status
	r.ResponseMessage = responseMessage
	r.ResponseAt = &now
	r.UpdatedAt = now
}

// StartBorrow records the handover of the item.
func (r *BorrowRequest) StartBorrow(now time.Time) error {
	if !r.CanBeStarted() || r.ActualStartDate != nil {
		return ErrInvalidTransition
	}
	r.Status = StatusActive
	r.ActualStartDate = &now
	r.UpdatedAt = now
	return nil
}

// CompleteBorrow records the return of the item.
func (r *BorrowRequest) CompleteBorrow(now time.Time) error {
	if !r.CanBeReturned() || r.ActualEndDate != nil {
		return ErrInvalidTransition
	}
	r.Status = StatusReturned
	r.ActualEndDate = &now
	r.UpdatedAt = now
	return nil
}

func (r *BorrowRequest) Cancel(now time.Time) error {
	if !r.CanBeCancelled() {
		return ErrInvalidTransition
	}
	r.Status = StatusCancelled
	r.UpdatedAt = now
	return nil
}

// DurationInDays is the inclusive number of requested days.
func (r *BorrowRequest) DurationInDays() int {
	return int(r.RequestedEndDate.Sub(r.RequestedStartDate).Hours()/24) + 1
}

// IsOverdue reports whether an Active loan's end date lies before now's day.
func (r *BorrowRequest) IsOverdue(now time.Time) bool {
	return r.Status == StatusActive && r.RequestedEndDate.Before(Day(now))
}

// EffectiveStatus is Status, with Overdue substituted when it applies.
func (r *BorrowRequest) EffectiveStatus(now time.Time) Status {
	if r.IsOverdue(now) {
		return StatusOverdue
	}
	return r.Status
}

// RateAsBorrower stores the borrower's rating of the loan. An out-of-range
// rating leaves the request untouched.
func (r *BorrowRequest) RateAsBorrower(rating int, feedback string, now time.Time) error {
	return r.rate(&r.BorrowerRating, &r.BorrowerFeedback, rating, feedback, now)
}

// RateAsLender stores the lender's rating of the loan.
func (r *BorrowRequest) RateAsLender(rating int, feedback string, now time.Time) error {
	return r.rate(&r.LenderRating, &r.LenderFeedback, rating, feedback, now)
}

func (r *BorrowRequest) rate(field **int, feedbackField *string, rating int, feedback string, now time.Time) error {
	if r.Status != StatusReturned {
		return ErrInvalidTransition
	}
	if rating < MinRating || rating > MaxRating {
		return ErrRatingOutOfRange
	}
	if *field != nil {
		return ErrAlreadyRated
	}
	*field = &rating
	*feedbackField = feedback
	r.UpdatedAt = now
	return nil
}

// MarkDepositPaid records that the borrower handed over the deposit.
func (r *BorrowRequest) MarkDepositPaid(now time.Time) error {
	if r.Status != StatusApproved && r.Status != StatusActive {
		return ErrInvalidTransition
	}
	if r.DepositAmount == nil {
		return ErrNoDeposit
	}
	if r.IsDepositPaid {
		return ErrDepositAlreadyPaid
	}
	r.IsDepositPaid = true
	r.UpdatedAt = now
	return nil
}

// Change describes one persisted mutation. Type names the journal event.
type Change struct {
	Type    string    `json:"-"`
	ActorID uuid.UUID `json:"actor_id"`
	Note    string    `json:"note,omitempty"`
}

const (
	EventRequested     = "BorrowRequested"
	EventApproved      = "BorrowApproved"
	EventRejected      = "BorrowRejected"
	EventStarted       = "BorrowStarted"
	EventReturned      = "BorrowReturned"
	EventCancelled     = "BorrowCancelled"
	EventDepositPaid   = "DepositPaid"
	EventBorrowerRated = "BorrowerRated"
	EventLenderRated   = "LenderRated"
)
