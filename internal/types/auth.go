package types

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role values, ordered by privilege. RoleRank gives the ordering used by the
// authorization guard.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// ValidRole reports whether role is one of the known role values.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// RoleRank returns the privilege rank of a role. Unknown roles rank below
// every known role.
func RoleRank(role string) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleModerator:
		return 2
	case RoleUser:
		return 1
	}
	return 0
}

// LinkedAccount describes one third-party identity attached to a user.
type LinkedAccount struct {
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"providerAccountId"`
	LinkedAt          time.Time `json:"linkedAt"`
}

// UserAuth is the core user identity record.
type UserAuth struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	ImageURL       *string         `json:"image,omitempty"`
	Password       string          `json:"-"` // bcrypt hash, empty for OAuth-only accounts
	Role           string          `json:"role"`
	OAuthProviders []string        `json:"oauthProviders,omitempty"`
	LinkedAccounts []LinkedAccount `json:"linkedAccounts,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Session is the ephemeral projection of a user handed to clients. It is
// rebuilt from the store on every read so role changes show up without
// re-authentication.
type Session struct {
	UserID string  `json:"id"`
	Name   string  `json:"name"`
	Email  string  `json:"email"`
	Image  *string `json:"image,omitempty"`
	Role   string  `json:"role"`
}

// Claims is the signed token payload underlying a session.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Image  string `json:"image,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
