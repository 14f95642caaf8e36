// internal/community/domain.go
package community

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// User is a registered neighbor.
type User struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// credential holds a user's password material. It never leaves the package.
type credential struct {
	UserID       uuid.UUID `db:"id"`
	PasswordHash string    `db:"password_hash"`
	Salt         string    `db:"salt"`
}

// Community is a group of neighbors who share items. New members join with
// the invite code.
type Community struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	InviteCode  string    `json:"invite_code,omitempty" db:"invite_code"`
	CreatedBy   uuid.UUID `json:"created_by" db:"created_by"`
	Version     int       `json:"version" db:"version"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

type Member struct {
	CommunityID uuid.UUID `json:"community_id" db:"community_id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Role        string    `json:"role" db:"role"`
	JoinedAt    time.Time `json:"joined_at" db:"joined_at"`
}

// Session is the result of a successful login.
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

type RegisterInput struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	DisplayName string `json:"display_name" validate:"required,max=100"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
}

type CreateCommunityInput struct {
	Name        string    `json:"name" validate:"required,max=100"`
	Description string    `json:"description" validate:"max=1000"`
	CreatedBy   uuid.UUID `json:"-"`
}

// UserRegisteredEvent is journaled when a user signs up.
type UserRegisteredEvent struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// CommunityCreatedEvent is journaled when a community is founded.
type CommunityCreatedEvent struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedBy uuid.UUID `json:"created_by"`
}

// InviteCodeRotatedEvent is journaled when the owner replaces the invite code.
type InviteCodeRotatedEvent struct {
	RotatedBy uuid.UUID `json:"rotated_by"`
}
