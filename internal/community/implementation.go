// internal/community/implementation.go
package community

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"neighborly/internal/platform/apperr"
	"neighborly/internal/platform/database"
	"neighborly/pkg/eventstore"
)

const (
	maxInviteAttempts = 3
	maxLoginLimiters  = 10000
	inviteConstraint  = "communities_invite_code_key"
)

var errRateLimited = apperr.Forbidden("too many attempts, try again later")

// service implements the Service interface.
type service struct {
	db      *sqlx.DB
	journal *eventstore.EventStore
	tokens  TokenIssuer
	tracer  trace.Tracer
	now     func() time.Time

	randMu sync.Mutex
	random RandomSource

	registerLimiter *rate.Limiter
	loginMu         sync.Mutex
	loginLimiters   map[string]*rate.Limiter
	newLoginLimiter func() *rate.Limiter
}

// NewService creates a new community service instance.
func NewService(db *sqlx.DB, journal *eventstore.EventStore, tokens TokenIssuer, random RandomSource) Service {
	return &service{
		db:              db,
		journal:         journal,
		tokens:          tokens,
		tracer:          otel.Tracer("neighborly/community"),
		now:             func() time.Time { return time.Now().UTC() },
		random:          random,
		registerLimiter: rate.NewLimiter(rate.Every(2*time.Second), 30),
		loginLimiters:   make(map[string]*rate.Limiter),
		newLoginLimiter: func() *rate.Limiter {
			return rate.NewLimiter(rate.Every(12*time.Second), 5) // 5 per minute per email
		},
	}
}

// Register creates a user account.
func (s *service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	ctx, span := s.tracer.Start(ctx, "community.register")
	defer span.End()

	if !s.registerLimiter.Allow() {
		return nil, errRateLimited
	}

	passwordHash, salt, err := hashPassword(in.Password)
	if err != nil {
		return nil, apperr.Unexpected("failed to hash password", err)
	}

	now := s.now()
	user := &User{
		ID:          uuid.New(),
		Email:       normalizeEmail(in.Email),
		DisplayName: strings.TrimSpace(in.DisplayName),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, email, display_name, password_hash, salt, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, user.ID, user.Email, user.DisplayName, passwordHash, salt, user.CreatedAt, user.UpdatedAt)
		if err != nil {
			return err
		}
		return s.record(ctx, tx, user.ID, "user", 0, "UserRegistered", UserRegisteredEvent{ID: user.ID, Email: user.Email})
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.Conflict("email is already registered")
		}
		return nil, apperr.Unexpected("failed to register user", err)
	}
	return user, nil
}

// Login verifies the credentials and issues an access token.
func (s *service) Login(ctx context.Context, email, password string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "community.login")
	defer span.End()

	email = normalizeEmail(email)
	if !s.loginLimiter(email).Allow() {
		return nil, errRateLimited
	}

	var cred credential
	err := s.db.GetContext(ctx, &cred, `SELECT id, password_hash, salt FROM users WHERE email = $1`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Forbidden("invalid email or password")
		}
		return nil, apperr.Unexpected("failed to load credentials", err)
	}

	ok, err := verifyPassword(password, cred.Salt, cred.PasswordHash)
	if err != nil {
		return nil, apperr.Unexpected("failed to verify password", err)
	}
	if !ok {
		return nil, apperr.Forbidden("invalid email or password")
	}

	user, err := s.GetUser(ctx, cred.UserID)
	if err != nil {
		return nil, err
	}
	token, expires, err := s.tokens.Mint(user.ID)
	if err != nil {
		return nil, apperr.Unexpected("failed to issue token", err)
	}
	return &Session{AccessToken: token, ExpiresAt: expires, User: user}, nil
}

func (s *service) loginLimiter(email string) *rate.Limiter {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	l, ok := s.loginLimiters[email]
	if !ok {
		if len(s.loginLimiters) >= maxLoginLimiters {
			s.loginLimiters = make(map[string]*rate.Limiter)
		}
		l = s.newLoginLimiter()
		s.loginLimiters[email] = l
	}
	return l
}

// GetUser retrieves a user by their ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, `
		SELECT id, email, display_name, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Unexpected("failed to load user", err)
	}
	return &user, nil
}

// CreateCommunity founds a community with the creator as its owner.
func (s *service) CreateCommunity(ctx context.Context, in CreateCommunityInput) (*Community, error) {
	ctx, span := s.tracer.Start(ctx, "community.create")
	defer span.End()

	now := s.now()
	c := &Community{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		CreatedBy:   in.CreatedBy,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var err error
	for attempt := 1; attempt <= maxInviteAttempts; attempt++ {
		c.InviteCode = s.inviteCode()
		err = s.inTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO communities (id, name, description, invite_code, created_by, version, created_at, updated_at)
				VALUES (:id, :name, :description, :invite_code, :created_by, :version, :created_at, :updated_at)
			`, c); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO community_members (community_id, user_id, role, joined_at)
				VALUES ($1, $2, $3, $4)
			`, c.ID, c.CreatedBy, RoleOwner, now); err != nil {
				return err
			}
			return s.record(ctx, tx, c.ID, "community", 0, "CommunityCreated", CommunityCreatedEvent{ID: c.ID, Name: c.Name, CreatedBy: c.CreatedBy})
		})
		if err == nil {
			return c, nil
		}
		if database.Constraint(err) != inviteConstraint {
			break
		}
		span.AddEvent("invite_code.collision", trace.WithAttributes(attribute.Int("attempt", attempt)))
	}
	return nil, apperr.Unexpected("failed to create community", err)
}

// JoinCommunity adds userID to the community the invite code belongs to.
func (s *service) JoinCommunity(ctx context.Context, inviteCode string, userID uuid.UUID) (*Community, error) {
	ctx, span := s.tracer.Start(ctx, "community.join")
	defer span.End()

	var c Community
	err := s.db.GetContext(ctx, &c, `
		SELECT id, name, description, invite_code, created_by, version, created_at, updated_at
		FROM communities
		WHERE invite_code = $1
	`, NormalizeInviteCode(inviteCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("invalid invitation code")
		}
		return nil, apperr.Unexpected("failed to look up invitation code", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO community_members (community_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, c.ID, userID, RoleMember, s.now())
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.Conflict("you are already a member of this community")
		}
		return nil, apperr.Unexpected("failed to join community", err)
	}
	return &c, nil
}

// RegenerateInviteCode replaces the invite code. Only the creator may do this.
func (s *service) RegenerateInviteCode(ctx context.Context, communityID, callerID uuid.UUID) (*Community, error) {
	ctx, span := s.tracer.Start(ctx, "community.rotate_invite")
	defer span.End()

	var c Community
	err := s.db.GetContext(ctx, &c, `
		SELECT id, name, description, invite_code, created_by, version, created_at, updated_at
		FROM communities
		WHERE id = $1
	`, communityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("community not found")
		}
		return nil, apperr.Unexpected("failed to load community", err)
	}
	if c.CreatedBy != callerID {
		return nil, apperr.Forbidden("only the creator can change the invitation code")
	}

	c.InviteCode = s.inviteCode()
	c.UpdatedAt = s.now()
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE communities
			SET invite_code = $1, updated_at = $2, version = version + 1
			WHERE id = $3 AND version = $4
		`, c.InviteCode, c.UpdatedAt, c.ID, c.Version)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return eventstore.ErrConcurrencyConflict
		}
		return s.record(ctx, tx, c.ID, "community", c.Version, "InviteCodeRotated", InviteCodeRotatedEvent{RotatedBy: callerID})
	})
	if err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return nil, apperr.Conflict("community was changed by someone else, try again")
		}
		return nil, apperr.Unexpected("failed to rotate invitation code", err)
	}
	c.Version++
	return &c, nil
}

func (s *service) IsMember(ctx context.Context, communityID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM community_members WHERE community_id = $1 AND user_id = $2
		)
	`, communityID, userID)
	if err != nil {
		return false, apperr.Unexpected("failed to check membership", err)
	}
	return exists, nil
}

func (s *service) GetMember(ctx context.Context, communityID, userID uuid.UUID) (*Member, error) {
	var m Member
	err := s.db.GetContext(ctx, &m, `
		SELECT m.community_id, m.user_id, u.display_name, m.role, m.joined_at
		FROM community_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.community_id = $1 AND m.user_id = $2
	`, communityID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("member not found")
		}
		return nil, apperr.Unexpected("failed to load member", err)
	}
	return &m, nil
}

// ListMembers returns the members of a community to one of its members.
func (s *service) ListMembers(ctx context.Context, communityID, callerID uuid.UUID) ([]Member, error) {
	member, err := s.IsMember(ctx, communityID, callerID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, apperr.Forbidden("you are not a member of this community")
	}

	members := []Member{}
	err = s.db.SelectContext(ctx, &members, `
		SELECT m.community_id, m.user_id, u.display_name, m.role, m.joined_at
		FROM community_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.community_id = $1
		ORDER BY m.joined_at ASC
	`, communityID)
	if err != nil {
		return nil, apperr.Unexpected("failed to list members", err)
	}
	return members, nil
}

func (s *service) inviteCode() string {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return GenerateInviteCode(s.random)
}

func (s *service) record(ctx context.Context, tx *sqlx.Tx, aggregateID uuid.UUID, aggregateType string, expectedVersion int, eventType string, data any) error {
	ev, err := eventstore.NewEvent(eventType, data)
	if err != nil {
		return err
	}
	return s.journal.AppendTx(ctx, tx, aggregateID, aggregateType, expectedVersion, []eventstore.Event{ev})
}

func (s *service) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
