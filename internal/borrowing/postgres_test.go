package borrowing

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neighborly/pkg/eventstore"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sdb := sqlx.NewDb(db, "postgres")
	return NewPostgresRepository(sdb, eventstore.NewEventStore(sdb)), mock
}

func requestRows(reqs ...*BorrowRequest) *sqlmock.Rows {
	cols := make([]string, len(requestColumns))
	for i, c := range requestColumns {
		cols[i] = c.(string)
	}
	rows := sqlmock.NewRows(cols)
	for _, r := range reqs {
		rows.AddRow(
			r.ID.String(), r.ItemID.String(), r.BorrowerID.String(), r.LenderID.String(),
			r.RequestedStartDate, r.RequestedEndDate, nil, nil,
			string(r.Status), r.Message, "", nil,
			nil, nil, "", "",
			false, nil, r.Version, r.CreatedAt, r.UpdatedAt,
		)
	}
	return rows
}

func sampleRequest(t *testing.T) *BorrowRequest {
	t.Helper()
	req, err := NewBorrowRequest(uuid.New(), uuid.New(), uuid.New(), date(2024, 3, 1), date(2024, 3, 5), "hi", nil, time.Date(2024, 2, 20, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return req
}

const journalVersionQuery = "SELECT COALESCE(MAX(version), 0)"

func TestPostgresGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	mock.ExpectQuery(`FROM "borrow_requests" WHERE \("id" = \$1\)`).
		WithArgs(id.String()).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetScansRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	want := sampleRequest(t)
	want.Version = 3
	mock.ExpectQuery(`FROM "borrow_requests"`).WillReturnRows(requestRows(want))

	got, err := repo.Get(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 5, got.DurationInDays())
	assert.Equal(t, 3, got.Version)
	assert.Nil(t, got.ActualStartDate)
}

func TestPostgresCreateJournalsFirstVersion(t *testing.T) {
	repo, mock := newMockRepo(t)
	req := sampleRequest(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO borrow_requests")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(journalVersionQuery)).
		WithArgs(req.ID).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO events")).
		WithArgs(req.ID, aggregateType, EventRequested, sqlmock.AnyArg(), nil, 1, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), req, Change{Type: EventRequested, ActorID: req.BorrowerID}))
	assert.Equal(t, 1, req.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateBumpsVersion(t *testing.T) {
	repo, mock := newMockRepo(t)
	req := sampleRequest(t)
	req.Version = 1
	require.NoError(t, req.Approve("ok", time.Date(2024, 2, 21, 0, 0, 0, 0, time.UTC)))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE borrow_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(journalVersionQuery)).
		WithArgs(req.ID).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO events")).
		WithArgs(req.ID, aggregateType, EventApproved, sqlmock.AnyArg(), nil, 2, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectCommit()

	require.NoError(t, repo.Update(context.Background(), req, Change{Type: EventApproved, ActorID: req.LenderID}))
	assert.Equal(t, 2, req.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateStaleVersion(t *testing.T) {
	repo, mock := newMockRepo(t)
	req := sampleRequest(t)
	req.Version = 4

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE borrow_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), req, Change{Type: EventCancelled})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 4, req.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateJournalConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	req := sampleRequest(t)
	req.Version = 1

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE borrow_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(journalVersionQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), req, Change{Type: EventCancelled})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 1, req.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListAppliesFilter(t *testing.T) {
	repo, mock := newMockRepo(t)
	req := sampleRequest(t)
	req.Version = 1

	mock.ExpectQuery(`FROM "borrow_requests" WHERE .*"borrower_id" = \$1.*"status" IN \(\$2, \$3, \$4\).*ORDER BY "created_at" DESC`).
		WillReturnRows(requestRows(req))

	got, err := repo.List(context.Background(), ListFilter{BorrowerID: req.BorrowerID, Statuses: OpenStatuses, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, req.ID, got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListOverdue(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`"status" = \$1.*"requested_end_date" < \$2`).
		WillReturnRows(requestRows())

	got, err := repo.List(context.Background(), ListFilter{OverdueAsOf: date(2024, 3, 6)})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCountByStatus(t *testing.T) {
	repo, mock := newMockRepo(t)
	lender := uuid.New()
	mock.ExpectQuery(`WHERE \("lender_id" = \$1\) GROUP BY "status"`).
		WithArgs(lender.String()).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 2).
			AddRow("active", 1))

	counts, err := repo.CountByStatus(context.Background(), RoleLender, lender)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusPending: 2, StatusActive: 1}, counts)
}
