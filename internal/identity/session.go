package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/photogallery/internal/accounts"
	"go.uber.org/zap"
)

const ctxAccount = "gallery_account"

// Error codes returned in 401 bodies.
const (
	CodeNoToken      = "NO_TOKEN_PROVIDED"
	CodeInvalidToken = "INVALID_OR_EXPIRED_TOKEN"
	CodeUserNotFound = "USER_NOT_FOUND"
)

// accountLookup is satisfied by *accounts.Service.
type accountLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (*accounts.Account, error)
}

// SessionResolver turns a bearer token into the account it was issued for.
type SessionResolver struct {
	tokens   *TokenIssuer
	accounts accountLookup
	logger   *zap.Logger
}

// NewSessionResolver creates a SessionResolver.
func NewSessionResolver(tokens *TokenIssuer, lookup accountLookup, logger *zap.Logger) *SessionResolver {
	return &SessionResolver{tokens: tokens, accounts: lookup, logger: logger}
}

// Resolve authenticates an Authorization header value. It returns
// ErrNoToken, ErrTokenInvalid or ErrAccountGone for the three client-side
// failures; any other error is a server fault.
func (r *SessionResolver) Resolve(ctx context.Context, authHeader string) (*accounts.Account, error) {
	tokenStr, ok := bearerToken(authHeader)
	if !ok {
		return nil, ErrNoToken
	}
	sub, err := r.tokens.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed subject", ErrTokenInvalid)
	}

	a, err := r.accounts.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return nil, ErrAccountGone
		}
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return a, nil
}

// RequireAccount returns a Gin middleware that enforces a valid session and
// injects the resolved *accounts.Account into the context.
func (r *SessionResolver) RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := r.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			status, body := sessionError(err)
			if status == http.StatusInternalServerError {
				r.logger.Error("resolve session", zap.Error(err))
			}
			c.AbortWithStatusJSON(status, body)
			return
		}
		c.Set(ctxAccount, a)
		c.Next()
	}
}

// AccountFromCtx returns the account injected by RequireAccount, or nil.
func AccountFromCtx(c *gin.Context) *accounts.Account {
	v, _ := c.Get(ctxAccount)
	a, _ := v.(*accounts.Account)
	return a
}

func sessionError(err error) (int, gin.H) {
	switch {
	case errors.Is(err, ErrNoToken):
		return http.StatusUnauthorized, gin.H{"message": "no token provided", "code": CodeNoToken}
	case errors.Is(err, ErrTokenInvalid):
		return http.StatusUnauthorized, gin.H{"message": "invalid or expired token", "code": CodeInvalidToken}
	case errors.Is(err, ErrAccountGone):
		return http.StatusUnauthorized, gin.H{"message": "user not found", "code": CodeUserNotFound}
	default:
		return http.StatusInternalServerError, gin.H{"message": "internal server error"}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
