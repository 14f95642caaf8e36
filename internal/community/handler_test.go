package community

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neighborly/internal/auth"
	"neighborly/internal/platform/apperr"
	"neighborly/internal/platform/httpx"
	"neighborly/internal/platform/logging"
)

// stubService answers the calls the handler tests make; anything else panics.
type stubService struct {
	Service
	joined    string
	joinedBy  uuid.UUID
	members   map[uuid.UUID]Member
	createdBy uuid.UUID
}

func (s *stubService) Register(_ context.Context, in RegisterInput) (*User, error) {
	return &User{ID: uuid.New(), Email: in.Email, DisplayName: in.DisplayName}, nil
}

func (s *stubService) Login(_ context.Context, email, password string) (*Session, error) {
	if password != "s3cret-pass" {
		return nil, apperr.Forbidden("invalid email or password")
	}
	return &Session{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour), User: &User{Email: email}}, nil
}

func (s *stubService) CreateCommunity(_ context.Context, in CreateCommunityInput) (*Community, error) {
	s.createdBy = in.CreatedBy
	return &Community{ID: uuid.New(), Name: in.Name, CreatedBy: in.CreatedBy, InviteCode: "ABCD2345", Version: 1}, nil
}

func (s *stubService) JoinCommunity(_ context.Context, code string, userID uuid.UUID) (*Community, error) {
	s.joined, s.joinedBy = code, userID
	return &Community{ID: uuid.New(), Name: "Elm Street"}, nil
}

func (s *stubService) GetMember(_ context.Context, communityID, userID uuid.UUID) (*Member, error) {
	m, ok := s.members[userID]
	if !ok || m.CommunityID != communityID {
		return nil, apperr.NotFound("member not found")
	}
	return &m, nil
}

func newHandlerServer(t *testing.T, svc Service) *httptest.Server {
	t.Helper()
	testAuth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(r.Header.Get("X-User"))
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), id)))
		})
	}
	router := httpx.NewRouter(logging.Discard())
	NewHandler(svc, logging.Discard()).Routes(router, testAuth, auth.RequireServiceKey("internal-key"))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func send(t *testing.T, srv *httptest.Server, method, path string, headers map[string]string, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHandlerRegisterValidatesBody(t *testing.T) {
	srv := newHandlerServer(t, &stubService{})

	status, body := send(t, srv, http.MethodPost, "/users", nil, `{"email":"not-an-email","display_name":"Ann","password":"s3cret-pass"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["kind"])

	status, body = send(t, srv, http.MethodPost, "/users", nil, `{"email":"ann@example.com","display_name":"Ann","password":"s3cret-pass"}`)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "ann@example.com", body["email"])
}

func TestHandlerLogin(t *testing.T) {
	srv := newHandlerServer(t, &stubService{})

	status, body := send(t, srv, http.MethodPost, "/login", nil, `{"email":"ann@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "invalid email or password", body["error"])

	status, body = send(t, srv, http.MethodPost, "/login", nil, `{"email":"ann@example.com","password":"s3cret-pass"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "tok", body["access_token"])
}

func TestHandlerCommunityUsesCaller(t *testing.T) {
	svc := &stubService{}
	srv := newHandlerServer(t, svc)
	caller := uuid.New()
	as := map[string]string{"X-User": caller.String()}

	status, _ := send(t, srv, http.MethodPost, "/communities", nil, `{"name":"Elm Street"}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := send(t, srv, http.MethodPost, "/communities", as, `{"name":"Elm Street","created_by":"`+uuid.NewString()+`"}`)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, caller, svc.createdBy)

	status, _ = send(t, srv, http.MethodPost, "/communities/join", as, `{"invite_code":"abcd-2345"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "abcd-2345", svc.joined)
	assert.Equal(t, caller, svc.joinedBy)
}

func TestHandlerInternalMemberLookupNeedsServiceKey(t *testing.T) {
	communityID, userID := uuid.New(), uuid.New()
	svc := &stubService{members: map[uuid.UUID]Member{
		userID: {CommunityID: communityID, UserID: userID, DisplayName: "Ann", Role: RoleMember},
	}}
	srv := newHandlerServer(t, svc)
	path := "/internal/communities/" + communityID.String() + "/members/"

	status, _ := send(t, srv, http.MethodGet, path+userID.String(), nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	key := map[string]string{auth.ServiceKeyHeader: "internal-key"}
	status, body := send(t, srv, http.MethodGet, path+userID.String(), key, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Ann", body["display_name"])

	status, _ = send(t, srv, http.MethodGet, path+uuid.NewString(), key, "")
	assert.Equal(t, http.StatusNotFound, status)
}
