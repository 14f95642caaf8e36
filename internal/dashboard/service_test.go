package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neighborly/internal/auth"
	"neighborly/internal/borrowing"
	"neighborly/internal/platform/apperr"
	"neighborly/internal/platform/httpx"
	"neighborly/internal/platform/logging"
)

type stubRepo struct {
	borrowing.Repository
	counts  map[borrowing.Role]map[borrowing.Status]int
	overdue map[string]int
	err     error
}

func (s stubRepo) CountByStatus(_ context.Context, role borrowing.Role, _ uuid.UUID) (map[borrowing.Status]int, error) {
	return s.counts[role], s.err
}

func (s stubRepo) List(_ context.Context, f borrowing.ListFilter) ([]borrowing.BorrowRequest, error) {
	if f.OverdueAsOf.IsZero() {
		return nil, errors.New("unexpected unfiltered list")
	}
	side := "borrower"
	if f.LenderID != uuid.Nil {
		side = "lender"
	}
	return make([]borrowing.BorrowRequest, s.overdue[side]), nil
}

func TestSummary(t *testing.T) {
	repo := stubRepo{
		counts: map[borrowing.Role]map[borrowing.Status]int{
			borrowing.RoleBorrower: {borrowing.StatusActive: 1, borrowing.StatusReturned: 4},
			borrowing.RoleLender:   {borrowing.StatusPending: 3, borrowing.StatusActive: 2},
		},
		overdue: map[string]int{"lender": 1},
	}
	svc := NewService(repo).(*service)
	at := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }

	got, err := svc.Summary(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 3, got.PendingDecisions)
	assert.Equal(t, 1, got.OverdueAsLender)
	assert.Zero(t, got.OverdueAsBorrower)
	assert.Equal(t, 4, got.AsBorrower[borrowing.StatusReturned])
	assert.Equal(t, at, got.GeneratedAt)
}

func TestSummaryStoreFailure(t *testing.T) {
	svc := NewService(stubRepo{err: errors.New("db down")})
	_, err := svc.Summary(context.Background(), uuid.New())
	assert.Equal(t, apperr.KindUnexpected, apperr.KindOf(err))
}

func TestHandlerRequiresCaller(t *testing.T) {
	router := httpx.NewRouter(logging.Discard())
	NewHandler(NewService(stubRepo{}), logging.Discard()).Routes(router, func(next http.Handler) http.Handler {
		return next
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	router.ServeHTTP(rec, req.WithContext(auth.WithUserID(req.Context(), uuid.New())))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pending_decisions":0`)
}
