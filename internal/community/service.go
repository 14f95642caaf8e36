// internal/community/service.go
package community

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the community service.
type Service interface {
	Register(ctx context.Context, in RegisterInput) (*User, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)

	CreateCommunity(ctx context.Context, in CreateCommunityInput) (*Community, error)
	JoinCommunity(ctx context.Context, inviteCode string, userID uuid.UUID) (*Community, error)
	RegenerateInviteCode(ctx context.Context, communityID, callerID uuid.UUID) (*Community, error)
	IsMember(ctx context.Context, communityID, userID uuid.UUID) (bool, error)
	GetMember(ctx context.Context, communityID, userID uuid.UUID) (*Member, error)
	ListMembers(ctx context.Context, communityID, callerID uuid.UUID) ([]Member, error)
}

// TokenIssuer mints access tokens. *auth.JWTManager satisfies it.
type TokenIssuer interface {
	Mint(userID uuid.UUID) (string, time.Time, error)
}
