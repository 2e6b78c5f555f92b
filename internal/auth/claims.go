package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the token lifetime when Config.TTL is zero.
const DefaultTTL = time.Hour

// Issuer authenticates configured users and issues and validates their
// access tokens. It is immutable after NewIssuer and safe for concurrent use.
type Issuer struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	users  map[string]account
	now    func() time.Time
}

type account struct {
	User
	scopes []Scope
}

// NewIssuer validates cfg and compiles every user's scope.
func NewIssuer(cfg Config) (*Issuer, error) {
	method, err := signingMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: empty signing secret", ErrTokenInvalid)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	users := make(map[string]account, len(cfg.Users))
	for _, u := range cfg.Users {
		if !IsValidUsername(u.Name) {
			return nil, fmt.Errorf("invalid user name %q", u.Name)
		}
		scopes := make([]Scope, 0, len(u.Scope))
		for _, s := range u.Scope {
			sc, err := ParseScope(s)
			if err != nil {
				return nil, fmt.Errorf("user %s: %w", u.Name, err)
			}
			scopes = append(scopes, sc)
		}
		users[u.Name] = account{User: u, scopes: scopes}
	}

	return &Issuer{
		secret: []byte(cfg.Secret),
		method: method,
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}, nil
}

// Authenticate checks a user's secret and returns a signed access token.
// Unknown users and wrong secrets both yield ErrInvalidCredentials.
func (i *Issuer) Authenticate(name, secret string) (Token, error) {
	acct, ok := i.users[name]
	if !ok {
		return Token{}, ErrInvalidCredentials
	}
	match, err := VerifySecret(secret, acct.Secret)
	if err != nil {
		return Token{}, fmt.Errorf("verifying secret for %s: %w", name, err)
	}
	if !match {
		return Token{}, ErrInvalidCredentials
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
		Scope: acct.Scope,
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("signing access token: %w", err)
	}
	return Token{AccessToken: signed, ExpiresIn: int(i.ttl.Seconds())}, nil
}

// Parse validates a token's signature, algorithm and expiry and returns its claims.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// Authorize checks that the token's user may call method on path. Scopes
// are taken from the current configuration, so a removed user loses access
// even with an unexpired token.
func (i *Issuer) Authorize(claims *Claims, method, path string) error {
	acct, ok := i.users[claims.Subject]
	if !ok {
		return ErrForbidden
	}
	for _, s := range acct.scopes {
		if s.Allows(method, path) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s", ErrForbidden, method, path)
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlg, alg)
	}
}
