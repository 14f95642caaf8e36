package catalog

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neighborly/internal/platform/apperr"
)

type stubMembers struct {
	member bool
	err    error
}

func (s stubMembers) IsMember(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return s.member, s.err
}

var itemCols = []string{"id", "owner_id", "community_id", "name", "description", "category", "available", "status", "version", "created_at", "updated_at"}

func newMockService(t *testing.T, members MembershipChecker) (*service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := NewService(sqlx.NewDb(db, "postgres"), members).(*service)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, mock
}

func itemRow(id, owner uuid.UUID, available bool, status string, version int) *sqlmock.Rows {
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(itemCols).
		AddRow(id.String(), owner.String(), uuid.NewString(), "Cordless drill", "", "tools", available, status, version, at, at)
}

func TestAddItemRequiresMembership(t *testing.T) {
	svc, _ := newMockService(t, stubMembers{member: false})
	_, err := svc.AddItem(context.Background(), AddItemInput{OwnerID: uuid.New(), CommunityID: uuid.New(), Name: "Ladder"})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestAddItemInsertsAvailableItem(t *testing.T) {
	svc, mock := newMockService(t, stubMembers{member: true})
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO items")).WillReturnResult(sqlmock.NewResult(0, 1))

	item, err := svc.AddItem(context.Background(), AddItemInput{OwnerID: uuid.New(), CommunityID: uuid.New(), Name: "Ladder"})
	require.NoError(t, err)
	assert.True(t, item.CanBeBorrowed())
	assert.Equal(t, 1, item.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddItemMembershipLookupFailureIsUnexpected(t *testing.T) {
	svc, _ := newMockService(t, stubMembers{err: errors.New("community service down")})
	_, err := svc.AddItem(context.Background(), AddItemInput{OwnerID: uuid.New(), CommunityID: uuid.New(), Name: "Ladder"})
	assert.Equal(t, apperr.KindUnexpected, apperr.KindOf(err))
}

func TestGetItemNotFound(t *testing.T) {
	svc, mock := newMockService(t, stubMembers{})
	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("FROM items WHERE id = $1")).WithArgs(id).WillReturnError(sql.ErrNoRows)

	_, err := svc.GetItem(context.Background(), id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSetAvailabilityUsesVersion(t *testing.T) {
	svc, mock := newMockService(t, stubMembers{})
	id, owner := uuid.New(), uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("FROM items WHERE id = $1")).WithArgs(id).WillReturnRows(itemRow(id, owner, true, StatusActive, 4))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE items")).
		WithArgs(false, sqlmock.AnyArg(), id, 4, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.SetAvailability(context.Background(), id, false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetAvailabilityIsAnExclusiveClaim(t *testing.T) {
	for _, available := range []bool{false, true} {
		svc, mock := newMockService(t, stubMembers{})
		id := uuid.New()
		mock.ExpectQuery(regexp.QuoteMeta("FROM items WHERE id = $1")).WithArgs(id).WillReturnRows(itemRow(id, uuid.New(), available, StatusActive, 2))

		err := svc.SetAvailability(context.Background(), id, available)
		assert.True(t, apperr.Is(err, apperr.KindConflict), "setting available=%v twice", available)
		assert.NoError(t, mock.ExpectationsWereMet(), "no update is issued")
	}
}

func TestSetAvailabilityConcurrentModification(t *testing.T) {
	svc, mock := newMockService(t, stubMembers{})
	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("FROM items WHERE id = $1")).WithArgs(id).WillReturnRows(itemRow(id, uuid.New(), false, StatusActive, 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE items")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.SetAvailability(context.Background(), id, true)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestSetAvailabilityRefusesToLendRetiredItem(t *testing.T) {
	svc, mock := newMockService(t, stubMembers{})
	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("FROM items WHERE id = $1")).WithArgs(id).WillReturnRows(itemRow(id, uuid.New(), true, StatusRetired, 3))

	err := svc.SetAvailability(context.Background(), id, false)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveItemRules(t *testing.T) {
	svc, mock := newMockService(t, stubMembers{})
	id, owner := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM items WHERE id = $1")).WillReturnRows(itemRow(id, owner, true, StatusActive, 1))
	assert.True(t, apperr.Is(svc.RemoveItem(context.Background(), id, uuid.New()), apperr.KindForbidden))

	mock.ExpectQuery(regexp.QuoteMeta("FROM items WHERE id = $1")).WillReturnRows(itemRow(id, owner, false, StatusActive, 1))
	assert.True(t, apperr.Is(svc.RemoveItem(context.Background(), id, owner), apperr.KindConflict))

	mock.ExpectQuery(regexp.QuoteMeta("FROM items WHERE id = $1")).WillReturnRows(itemRow(id, owner, true, StatusActive, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE items")).
		WithArgs(StatusRetired, sqlmock.AnyArg(), id, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, svc.RemoveItem(context.Background(), id, owner))
	assert.NoError(t, mock.ExpectationsWereMet())
}
