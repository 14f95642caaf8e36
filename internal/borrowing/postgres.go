package borrowing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"neighborly/pkg/eventstore"
)

const aggregateType = "borrow_request"

var requestColumns = []any{
	"id", "item_id", "borrower_id", "lender_id",
	"requested_start_date", "requested_end_date", "actual_start_date", "actual_end_date",
	"status", "message", "response_message", "response_at",
	"borrower_rating", "lender_rating", "borrower_feedback", "lender_feedback",
	"is_deposit_paid", "deposit_amount", "version", "created_at", "updated_at",
}

var pg = goqu.Dialect("postgres")

// PostgresRepository stores requests in borrow_requests and journals every
// change to the event store in the same transaction.
type PostgresRepository struct {
	db      *sqlx.DB
	journal *eventstore.EventStore
}

func NewPostgresRepository(db *sqlx.DB, journal *eventstore.EventStore) *PostgresRepository {
	return &PostgresRepository{db: db, journal: journal}
}

type journalEntry struct {
	Status Status `json:"status"`
	Change
}

func (p *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*BorrowRequest, error) {
	query, args, err := pg.From("borrow_requests").
		Select(requestColumns...).
		Where(goqu.C("id").Eq(id.String())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var req BorrowRequest
	if err := p.db.GetContext(ctx, &req, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get borrow request: %w", err)
	}
	return &req, nil
}

func (p *PostgresRepository) Create(ctx context.Context, req *BorrowRequest, change Change) error {
	return p.inTx(ctx, func(tx *sqlx.Tx) error {
		req.Version = 1
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO borrow_requests (
				id, item_id, borrower_id, lender_id, requested_start_date, requested_end_date,
				status, message, is_deposit_paid, deposit_amount, version, created_at, updated_at
			) VALUES (
				:id, :item_id, :borrower_id, :lender_id, :requested_start_date, :requested_end_date,
				:status, :message, :is_deposit_paid, :deposit_amount, :version, :created_at, :updated_at
			)
		`, req)
		if err != nil {
			req.Version = 0
			return fmt.Errorf("insert borrow request: %w", err)
		}
		return p.record(ctx, tx, req, change, 0)
	})
}

func (p *PostgresRepository) Update(ctx context.Context, req *BorrowRequest, change Change) error {
	err := p.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE borrow_requests SET
				status = $1, actual_start_date = $2, actual_end_date = $3,
				response_message = $4, response_at = $5,
				borrower_rating = $6, lender_rating = $7, borrower_feedback = $8, lender_feedback = $9,
				is_deposit_paid = $10, updated_at = $11, version = version + 1
			WHERE id = $12 AND version = $13
		`,
			req.Status, req.ActualStartDate, req.ActualEndDate,
			req.ResponseMessage, req.ResponseAt,
			req.BorrowerRating, req.LenderRating, req.BorrowerFeedback, req.LenderFeedback,
			req.IsDepositPaid, req.UpdatedAt,
			req.ID, req.Version,
		)
		if err != nil {
			return fmt.Errorf("update borrow request: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return ErrVersionConflict
		}
		return p.record(ctx, tx, req, change, req.Version)
	})
	if err != nil {
		return err
	}
	req.Version++
	return nil
}

func (p *PostgresRepository) record(ctx context.Context, tx *sqlx.Tx, req *BorrowRequest, change Change, expectedVersion int) error {
	ev, err := eventstore.NewEvent(change.Type, journalEntry{Status: req.Status, Change: change})
	if err != nil {
		return err
	}
	err = p.journal.AppendTx(ctx, tx, req.ID, aggregateType, expectedVersion, []eventstore.Event{ev})
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return ErrVersionConflict
	}
	return err
}

func (p *PostgresRepository) List(ctx context.Context, f ListFilter) ([]BorrowRequest, error) {
	ds := pg.From("borrow_requests").Select(requestColumns...)
	if f.BorrowerID != uuid.Nil {
		ds = ds.Where(goqu.C("borrower_id").Eq(f.BorrowerID.String()))
	}
	if f.LenderID != uuid.Nil {
		ds = ds.Where(goqu.C("lender_id").Eq(f.LenderID.String()))
	}
	if f.ItemID != uuid.Nil {
		ds = ds.Where(goqu.C("item_id").Eq(f.ItemID.String()))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		ds = ds.Where(goqu.C("status").In(statuses))
	}
	if !f.OverdueAsOf.IsZero() {
		ds = ds.Where(
			goqu.C("status").Eq(string(StatusActive)),
			goqu.C("requested_end_date").Lt(Day(f.OverdueAsOf)),
		)
	}
	ds = ds.Order(goqu.C("created_at").Desc(), goqu.C("id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	reqs := []BorrowRequest{}
	if err := p.db.SelectContext(ctx, &reqs, query, args...); err != nil {
		return nil, fmt.Errorf("list borrow requests: %w", err)
	}
	return reqs, nil
}

func (p *PostgresRepository) CountByStatus(ctx context.Context, role Role, userID uuid.UUID) (map[Status]int, error) {
	column := "borrower_id"
	if role == RoleLender {
		column = "lender_id"
	}
	query, args, err := pg.From("borrow_requests").
		Select(goqu.C("status"), goqu.COUNT("*").As("count")).
		Where(goqu.C(column).Eq(userID.String())).
		GroupBy(goqu.C("status")).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []struct {
		Status Status `db:"status"`
		Count  int    `db:"count"`
	}
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("count borrow requests: %w", err)
	}
	counts := make(map[Status]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (p *PostgresRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
