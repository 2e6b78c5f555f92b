package auth

import (
	"errors"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// usernamePattern defines the valid format for user names:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername checks if a user name meets format requirements.
func IsValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// User is a statically configured API client.
type User struct {
	Name string

	// Secret is an argon2id PHC string or a plain secret.
	Secret string

	// Scope lists "METHOD PATH" patterns; see ParseScope.
	Scope []string
}

// Config configures an Issuer.
type Config struct {
	Secret string

	// Algorithm is HS256, HS384 or HS512. Empty means HS256.
	Algorithm string

	// TTL is the access token lifetime.
	TTL time.Duration

	Users []User
}

// Claims are the JWT claims of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Scope []string `json:"scope"`
}

// Token is the result of a successful authentication.
type Token struct {
	AccessToken string `json:"access_token"`

	// ExpiresIn is the token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrInvalidScope       = errors.New("invalid scope")
	ErrUnsupportedAlg     = errors.New("unsupported signing algorithm")
)
