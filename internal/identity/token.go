package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTokenTTL is the lifetime of a session token.
	DefaultTokenTTL = 7 * 24 * time.Hour

	// MinSecretLength is the shortest accepted HMAC signing secret.
	MinSecretLength = 32

	oauthStateTTL = 10 * time.Minute

	typeSession    = "session"
	typeOAuthState = "oauth-state"
)

// Claims are the JWT claims of both session tokens and OAuth state values.
// For session tokens Subject is the account id.
type Claims struct {
	jwt.RegisteredClaims
	Type     string `json:"typ"`
	Provider string `json:"provider,omitempty"`
}

// TokenIssuer signs and verifies HS256 tokens with a shared secret.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. A zero ttl means DefaultTokenTTL.
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock replaces the time source used for issuing and validating tokens.
func (t *TokenIssuer) SetClock(now func() time.Time) {
	t.now = now
}

// TTL returns the session token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Issue creates a signed session token whose subject is accountID.
func (t *TokenIssuer) Issue(accountID string) (string, error) {
	return t.sign(accountID, typeSession, "", t.ttl)
}

// Verify validates a session token and returns the account id it carries.
// Every failure wraps ErrTokenInvalid.
func (t *TokenIssuer) Verify(tokenStr string) (string, error) {
	claims, err := t.parse(tokenStr)
	if err != nil {
		return "", err
	}
	if claims.Type != typeSession || claims.Subject == "" {
		return "", fmt.Errorf("%w: not a session token", ErrTokenInvalid)
	}
	return claims.Subject, nil
}

// IssueOAuthState creates a short-lived state value for an OAuth redirect.
// The provider name is embedded so the callback can check it.
func (t *TokenIssuer) IssueOAuthState(provider string) (string, error) {
	return t.sign("oauth-state", typeOAuthState, provider, oauthStateTTL)
}

// OAuthState is a verified OAuth state value.
type OAuthState struct {
	Provider  string
	ID        string
	ExpiresAt time.Time
}

// VerifyOAuthState validates a state value and returns its provider and jti.
func (t *TokenIssuer) VerifyOAuthState(state string) (*OAuthState, error) {
	claims, err := t.parse(state)
	if err != nil {
		return nil, err
	}
	if claims.Type != typeOAuthState || claims.ID == "" {
		return nil, fmt.Errorf("%w: not an oauth state token", ErrTokenInvalid)
	}
	return &OAuthState{
		Provider:  claims.Provider,
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (t *TokenIssuer) sign(subject, typ, provider string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		Type:     typ,
		Provider: provider,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func (t *TokenIssuer) parse(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrNoToken
	}
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
