// internal/borrowing/implementation.go
package borrowing

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"neighborly/internal/notify"
	"neighborly/internal/platform/apperr"
)

const maxMessageLength = 1000

// service implements the Service interface.
type service struct {
	repo        Repository
	items       ItemCatalog
	members     MembershipChecker
	notifier    Notifier
	logger      *slog.Logger
	tracer      trace.Tracer
	transitions metric.Int64Counter
	now         func() time.Time
}

// NewService creates a new borrowing service instance.
func NewService(repo Repository, items ItemCatalog, members MembershipChecker, notifier Notifier, logger *slog.Logger) Service {
	transitions, err := otel.Meter("neighborly/borrowing").Int64Counter("borrowing.transitions",
		metric.WithDescription("Borrow request lifecycle transitions that were persisted"),
	)
	if err != nil {
		otel.Handle(err)
	}
	return &service{
		repo:        repo,
		items:       items,
		members:     members,
		notifier:    notifier,
		logger:      logger,
		tracer:      otel.Tracer("neighborly/borrowing"),
		transitions: transitions,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateBorrowRequest opens a Pending request against an available item and
// tells the lender about it.
func (s *service) CreateBorrowRequest(ctx context.Context, in CreateInput) (*BorrowRequest, error) {
	ctx, span := s.tracer.Start(ctx, "borrowing.create", trace.WithAttributes(
		attribute.String("item.id", in.ItemID.String()),
		attribute.String("borrower.id", in.BorrowerID.String()),
	))
	defer span.End()

	now := s.now()
	if err := validateCreate(in, now); err != nil {
		return nil, err
	}

	item, err := s.items.GetItem(ctx, in.ItemID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("item not found")
		}
		return nil, s.fail(span, apperr.Unexpected("failed to load item", err))
	}
	if item.OwnerID == in.BorrowerID {
		return nil, apperr.Validation("you cannot borrow your own item")
	}
	if !item.CanBeBorrowed() {
		return nil, apperr.Validation("item is not available")
	}

	member, err := s.members.IsMember(ctx, item.CommunityID, in.BorrowerID)
	if err != nil {
		return nil, s.fail(span, apperr.Unexpected("failed to check community membership", err))
	}
	if !member {
		return nil, apperr.Forbidden("you are not a member of the item's community")
	}

	open, err := s.repo.List(ctx, ListFilter{
		BorrowerID: in.BorrowerID,
		ItemID:     in.ItemID,
		Statuses:   OpenStatuses,
		Limit:      1,
	})
	if err != nil {
		return nil, s.fail(span, apperr.Unexpected("failed to list borrow requests", err))
	}
	if len(open) > 0 {
		return nil, apperr.Conflict("you already have an open request for this item")
	}

	req, err := NewBorrowRequest(item.ID, in.BorrowerID, item.OwnerID, in.RequestedStartDate, in.RequestedEndDate, in.Message, in.DepositAmount, now)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	if err := s.repo.Create(ctx, req, Change{Type: EventRequested, ActorID: in.BorrowerID, Note: in.Message}); err != nil {
		return nil, s.fail(span, storeError(err))
	}
	span.SetAttributes(attribute.String("request.id", req.ID.String()))

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", "create")))
	s.notify(notify.TypeBorrowRequested, req.LenderID, req, in.Message)
	return req, nil
}

func validateCreate(in CreateInput, now time.Time) error {
	switch {
	case in.ItemID == uuid.Nil:
		return apperr.Validation("item id is required")
	case in.RequestedStartDate.IsZero() || in.RequestedEndDate.IsZero():
		return apperr.Validation("requested start and end dates are required")
	case Day(in.RequestedEndDate).Before(Day(in.RequestedStartDate)):
		return apperr.Validation("%s", ErrInvalidDateRange.Error())
	case Day(in.RequestedStartDate).Before(Day(now)):
		return apperr.Validation("requested start date is in the past")
	case utf8.RuneCountInString(in.Message) > maxMessageLength:
		return apperr.Validation("message exceeds %d characters", maxMessageLength)
	case in.DepositAmount != nil && *in.DepositAmount < 0:
		return apperr.Validation("deposit amount must not be negative")
	}
	return nil
}

func (s *service) Approve(ctx context.Context, requestID, lenderID uuid.UUID, responseMessage string) (*BorrowRequest, error) {
	return s.run(ctx, requestID, lenderID, transition{
		name:      "approve",
		event:     EventApproved,
		authorize: lenderOnly("approve"),
		apply: func(r *BorrowRequest, now time.Time) error {
			return r.Approve(responseMessage, now)
		},
		notify: notify.TypeBorrowApproved,
		note:   responseMessage,
	})
}

func (s *service) Reject(ctx context.Context, requestID, lenderID uuid.UUID, responseMessage string) (*BorrowRequest, error) {
	return s.run(ctx, requestID, lenderID, transition{
		name:      "reject",
		event:     EventRejected,
		authorize: lenderOnly("reject"),
		apply: func(r *BorrowRequest, now time.Time) error {
			return r.Reject(responseMessage, now)
		},
		notify: notify.TypeBorrowRejected,
		note:   responseMessage,
	})
}

// StartBorrow records the handover and takes the item off the shelf.
func (s *service) StartBorrow(ctx context.Context, requestID, lenderID uuid.UUID) (*BorrowRequest, error) {
	return s.run(ctx, requestID, lenderID, transition{
		name:      "start",
		event:     EventStarted,
		authorize: lenderOnly("start"),
		apply:     (*BorrowRequest).StartBorrow,
		sideEffect: func(ctx context.Context, r *BorrowRequest) (func(context.Context), error) {
			item, err := s.items.GetItem(ctx, r.ItemID)
			if err != nil {
				return nil, itemError(err)
			}
			if !item.CanBeBorrowed() {
				return nil, apperr.Conflict("item is not available for handover")
			}
			return s.setAvailability(ctx, r.ItemID, false)
		},
		notify: notify.TypeBorrowStarted,
	})
}

func (s *service) Cancel(ctx context.Context, requestID, borrowerID uuid.UUID) (*BorrowRequest, error) {
	return s.run(ctx, requestID, borrowerID, transition{
		name:      "cancel",
		event:     EventCancelled,
		authorize: borrowerOnly("cancel"),
		apply:     (*BorrowRequest).Cancel,
		notify:    notify.TypeBorrowCancelled,
	})
}

// MarkAsReturned completes the loan and puts the item back on the shelf.
func (s *service) MarkAsReturned(ctx context.Context, requestID, lenderID uuid.UUID) (*BorrowRequest, error) {
	return s.run(ctx, requestID, lenderID, transition{
		name:      "return",
		event:     EventReturned,
		authorize: lenderOnly("mark as returned"),
		apply:     (*BorrowRequest).CompleteBorrow,
		sideEffect: func(ctx context.Context, r *BorrowRequest) (func(context.Context), error) {
			return s.setAvailability(ctx, r.ItemID, true)
		},
		notify: notify.TypeBorrowReturned,
	})
}

func (s *service) MarkDepositPaid(ctx context.Context, requestID, lenderID uuid.UUID) (*BorrowRequest, error) {
	return s.run(ctx, requestID, lenderID, transition{
		name:      "deposit",
		event:     EventDepositPaid,
		authorize: lenderOnly("confirm the deposit of"),
		apply:     (*BorrowRequest).MarkDepositPaid,
	})
}

// Rate stores the caller's rating. The borrower rates as borrower and the
// lender as lender.
func (s *service) Rate(ctx context.Context, requestID, callerID uuid.UUID, rating int, feedback string) (*BorrowRequest, error) {
	event := EventBorrowerRated
	return s.run(ctx, requestID, callerID, transition{
		name: "rate",
		authorize: func(r *BorrowRequest, callerID uuid.UUID) error {
			if err := partiesOnly(r, callerID); err != nil {
				return err
			}
			if callerID == r.LenderID {
				event = EventLenderRated
			}
			return nil
		},
		apply: func(r *BorrowRequest, now time.Time) error {
			if event == EventLenderRated {
				return r.RateAsLender(rating, feedback, now)
			}
			return r.RateAsBorrower(rating, feedback, now)
		},
		eventName: func() string { return event },
		note:      feedback,
	})
}

func (s *service) Get(ctx context.Context, requestID, callerID uuid.UUID) (*BorrowRequest, error) {
	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return nil, storeError(err)
	}
	if err := partiesOnly(req, callerID); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *service) ListForBorrower(ctx context.Context, borrowerID uuid.UUID, status Status) ([]BorrowRequest, error) {
	f, err := s.statusFilter(status)
	if err != nil {
		return nil, err
	}
	f.BorrowerID = borrowerID
	return s.list(ctx, f)
}

func (s *service) ListForLender(ctx context.Context, lenderID uuid.UUID, status Status) ([]BorrowRequest, error) {
	f, err := s.statusFilter(status)
	if err != nil {
		return nil, err
	}
	f.LenderID = lenderID
	return s.list(ctx, f)
}

// ListForItem returns the request history of an item to its owner.
func (s *service) ListForItem(ctx context.Context, itemID, callerID uuid.UUID) ([]BorrowRequest, error) {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, itemError(err)
	}
	if item.OwnerID != callerID {
		return nil, apperr.Forbidden("only the owner can see requests for this item")
	}
	return s.list(ctx, ListFilter{ItemID: itemID})
}

func (s *service) ListOverdue(ctx context.Context, lenderID uuid.UUID) ([]BorrowRequest, error) {
	return s.list(ctx, ListFilter{LenderID: lenderID, OverdueAsOf: s.now()})
}

func (s *service) statusFilter(status Status) (ListFilter, error) {
	switch {
	case status == "":
		return ListFilter{}, nil
	case status == StatusOverdue:
		return ListFilter{OverdueAsOf: s.now()}, nil
	case status.Valid():
		return ListFilter{Statuses: []Status{status}}, nil
	}
	return ListFilter{}, apperr.Validation("unknown status %q", status)
}

func (s *service) list(ctx context.Context, f ListFilter) ([]BorrowRequest, error) {
	reqs, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, apperr.Unexpected("failed to list borrow requests", err)
	}
	return reqs, nil
}

// transition is one guarded state change of a stored request.
type transition struct {
	name      string
	event     string
	eventName func() string
	authorize func(r *BorrowRequest, callerID uuid.UUID) error
	apply     func(r *BorrowRequest, now time.Time) error
	// sideEffect runs after apply and before the request is stored. The
	// returned compensation undoes it if storing fails.
	sideEffect func(ctx context.Context, r *BorrowRequest) (func(context.Context), error)
	notify     string
	note       string
}

func (s *service) run(ctx context.Context, requestID, callerID uuid.UUID, t transition) (*BorrowRequest, error) {
	ctx, span := s.tracer.Start(ctx, "borrowing."+t.name, trace.WithAttributes(
		attribute.String("request.id", requestID.String()),
		attribute.String("caller.id", callerID.String()),
	))
	defer span.End()

	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return nil, s.fail(span, storeError(err))
	}
	if err := t.authorize(req, callerID); err != nil {
		return nil, err
	}

	from := req.Status
	if err := t.apply(req, s.now()); err != nil {
		return nil, transitionError(err, t.name, from)
	}

	var compensate func(context.Context)
	if t.sideEffect != nil {
		if compensate, err = t.sideEffect(ctx, req); err != nil {
			return nil, s.fail(span, err)
		}
	}

	event := t.event
	if t.eventName != nil {
		event = t.eventName()
	}
	if err := s.repo.Update(ctx, req, Change{Type: event, ActorID: callerID, Note: t.note}); err != nil {
		if compensate != nil {
			compensate(context.WithoutCancel(ctx))
		}
		return nil, s.fail(span, storeError(err))
	}

	span.SetAttributes(
		attribute.String("status.from", string(from)),
		attribute.String("status.to", string(req.Status)),
	)
	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", t.name)))

	if t.notify != "" {
		recipient := req.BorrowerID
		if callerID == req.BorrowerID {
			recipient = req.LenderID
		}
		s.notify(t.notify, recipient, req, t.note)
	}
	return req, nil
}

// setAvailability claims the flip of the item's availability and returns the
// flip back. A flip someone else already made is a Conflict and leaves
// nothing to compensate.
func (s *service) setAvailability(ctx context.Context, itemID uuid.UUID, available bool) (func(context.Context), error) {
	if err := s.items.SetAvailability(ctx, itemID, available); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			if available {
				return nil, apperr.Conflict("item is already back on the shelf")
			}
			return nil, apperr.Conflict("item is already lent out")
		}
		return nil, itemError(err)
	}
	return func(ctx context.Context) {
		s.logger.Warn("compensating item availability", "item_id", itemID, "available", !available)
		if err := s.items.SetAvailability(ctx, itemID, !available); err != nil {
			s.logger.Error("failed to compensate item availability", "item_id", itemID, "error", err)
		}
	}, nil
}

func (s *service) notify(eventType string, recipient uuid.UUID, req *BorrowRequest, message string) {
	ok := s.notifier.Notify(notify.Event{
		Type:        eventType,
		RecipientID: recipient,
		RequestID:   req.ID,
		ItemID:      req.ItemID,
		Message:     message,
		OccurredAt:  req.UpdatedAt,
	})
	if !ok {
		s.logger.Warn("notification dropped", "type", eventType, "request_id", req.ID)
	}
}

func (s *service) fail(span trace.Span, err error) error {
	if apperr.KindOf(err) == apperr.KindUnexpected {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func lenderOnly(action string) func(*BorrowRequest, uuid.UUID) error {
	return func(r *BorrowRequest, callerID uuid.UUID) error {
		if r.LenderID != callerID {
			return apperr.Forbidden("only the lender can %s this request", action)
		}
		return nil
	}
}

func borrowerOnly(action string) func(*BorrowRequest, uuid.UUID) error {
	return func(r *BorrowRequest, callerID uuid.UUID) error {
		if r.BorrowerID != callerID {
			return apperr.Forbidden("only the borrower can %s this request", action)
		}
		return nil
	}
}

func partiesOnly(r *BorrowRequest, callerID uuid.UUID) error {
	if r.BorrowerID != callerID && r.LenderID != callerID {
		return apperr.Forbidden("you are not a party to this request")
	}
	return nil
}

func transitionError(err error, name string, from Status) error {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return apperr.Conflict("cannot %s a request that is %s", name, from)
	case errors.Is(err, ErrAlreadyRated), errors.Is(err, ErrDepositAlreadyPaid):
		return apperr.Conflict("%s", err.Error())
	case errors.Is(err, ErrRatingOutOfRange), errors.Is(err, ErrNoDeposit), errors.Is(err, ErrInvalidDateRange):
		return apperr.Validation("%s", err.Error())
	}
	return apperr.Unexpected("failed to apply transition", err)
}

func storeError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("borrow request not found")
	case errors.Is(err, ErrVersionConflict):
		return apperr.Conflict("borrow request was changed by someone else, reload and try again")
	}
	return apperr.Unexpected("failed to store borrow request", err)
}

func itemError(err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return apperr.NotFound("item not found")
	case apperr.KindConflict:
		return apperr.Conflict("item was changed by someone else, try again")
	case apperr.KindValidation:
		return apperr.Conflict("item can no longer be lent")
	}
	return apperr.Unexpected("failed to update item", err)
}
