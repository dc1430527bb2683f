package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"jumpstudy/internal/models"
)

// AdminTokenTTL is how long an admin session token stays valid.
const AdminTokenTTL = 15 * time.Minute

var (
	// ErrInvalidCredentials covers unknown emails, wrong passwords and
	// disabled accounts; callers must not distinguish which.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for malformed, expired or mis-signed
	// tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// AdminStore looks up admin users for login. storage.AdminUserRepository
// is the production implementation.
type AdminStore interface {
	GetByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID) error
}

// AdminClaims are the claims embedded in an admin session token.
type AdminClaims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole checks if the claims carry a specific role
func (c *AdminClaims) HasRole(role Role) bool {
	for _, r := range c.Roles {
		if Role(r).HasPermission(role) {
			return true
		}
	}
	return false
}

// GenerateAdminJWT verifies the password against the stored user and
// issues a short-lived HS256 session token. Every failure path returns
// ErrInvalidCredentials.
func GenerateAdminJWT(ctx context.Context, email, password string, store AdminStore, secret []byte) (string, int64, error) {
	user, err := store.GetByEmail(ctx, email)
	if err != nil {
		return "", 0, ErrInvalidCredentials
	}

	if !user.IsValid() {
		return "", 0, ErrInvalidCredentials
	}

	if err := VerifyPassword(password, user.PasswordHash); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	expiresAt := time.Now().Add(AdminTokenTTL)
	claims := &AdminClaims{
		Email: user.Email,
		Roles: []string(user.Roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	if err := store.UpdateLastLogin(ctx, user.ID); err != nil {
		// The login itself succeeded; the timestamp is best effort.
		_ = err
	}

	return signed, expiresAt.Unix(), nil
}

// ValidateAdminJWT verifies the token signature and expiry and returns
// its claims
func ValidateAdminJWT(tokenString string, secret []byte) (*AdminClaims, error) {
	claims := &AdminClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
