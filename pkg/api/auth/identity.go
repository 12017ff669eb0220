package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/valyala/fasthttp"

	"charhub/pkg/config"
	"charhub/pkg/models"
)

// caller role
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleFrontend:
		return "frontend"
	case RoleBackend:
		return "backend"
	case RoleAdmin:
		return "admin"
	default:
		return "unauth"
	}
}

// UserResolutionError is a failure to establish who the request acts for.
type UserResolutionError struct {
	Type    string
	Message string
	Code    int
}

func (e *UserResolutionError) Error() string {
	return e.Message
}

var (
	ErrUserTooLong      = &UserResolutionError{"user_too_long", "user id too long", fasthttp.StatusBadRequest}
	ErrInvalidSignature = &UserResolutionError{"invalid_signature", "missing or invalid user signature", fasthttp.StatusUnauthorized}
	ErrInvalidSession   = &UserResolutionError{"invalid_session", "invalid or expired session", fasthttp.StatusUnauthorized}
)

// Resolver maps a session token to its user.
type Resolver interface {
	Resolve(ctx context.Context, token string) (models.User, error)
}

// creates an HMAC signature for a user ID
func CreateHMACSignature(userID, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifies a user ID against its HMAC signature using available signing keys
func VerifyHMACSignature(userID, signature string) bool {
	keys := config.GetSigningKeys()

	for k := range keys {
		expected := CreateHMACSignature(userID, k)
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return true
		}
	}
	return false
}

// security config
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
}

func validateUserID(id string) *UserResolutionError {
	if len(id) > 128 {
		return ErrUserTooLong
	}
	return nil
}
