// Package dashboard aggregates a user's borrow activity for the home screen.
package dashboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"neighborly/internal/borrowing"
	"neighborly/internal/platform/apperr"
)

// Summary counts a user's borrow requests on each side of the exchange.
type Summary struct {
	AsBorrower        map[borrowing.Status]int `json:"as_borrower"`
	AsLender          map[borrowing.Status]int `json:"as_lender"`
	OverdueAsBorrower int                      `json:"overdue_as_borrower"`
	OverdueAsLender   int                      `json:"overdue_as_lender"`
	// PendingDecisions is how many requests wait for this user's answer.
	PendingDecisions int       `json:"pending_decisions"`
	GeneratedAt      time.Time `json:"generated_at"`
}

type Service interface {
	Summary(ctx context.Context, userID uuid.UUID) (*Summary, error)
}

type service struct {
	repo   borrowing.Repository
	tracer trace.Tracer
	now    func() time.Time
}

func NewService(repo borrowing.Repository) Service {
	return &service{
		repo:   repo,
		tracer: otel.Tracer("neighborly/dashboard"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) Summary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	ctx, span := s.tracer.Start(ctx, "dashboard.summary")
	defer span.End()

	now := s.now()
	asBorrower, err := s.repo.CountByStatus(ctx, borrowing.RoleBorrower, userID)
	if err != nil {
		return nil, apperr.Unexpected("failed to count borrow requests", err)
	}
	asLender, err := s.repo.CountByStatus(ctx, borrowing.RoleLender, userID)
	if err != nil {
		return nil, apperr.Unexpected("failed to count borrow requests", err)
	}
	overdueBorrowed, err := s.repo.List(ctx, borrowing.ListFilter{BorrowerID: userID, OverdueAsOf: now})
	if err != nil {
		return nil, apperr.Unexpected("failed to list overdue loans", err)
	}
	overdueLent, err := s.repo.List(ctx, borrowing.ListFilter{LenderID: userID, OverdueAsOf: now})
	if err != nil {
		return nil, apperr.Unexpected("failed to list overdue loans", err)
	}

	return &Summary{
		AsBorrower:        asBorrower,
		AsLender:          asLender,
		OverdueAsBorrower: len(overdueBorrowed),
		OverdueAsLender:   len(overdueLent),
		PendingDecisions:  asLender[borrowing.StatusPending],
		GeneratedAt:       now,
	}, nil
}
