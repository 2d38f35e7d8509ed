// Package handler exposes the gallery over HTTP with Gin.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/photogallery/internal/accounts"
	"github.com/jmerrifield20/photogallery/internal/identity"
	"github.com/jmerrifield20/photogallery/internal/oauth"
	"go.uber.org/zap"
)

// accountSvc is the interface expected by AuthHandler, satisfied by *accounts.Service.
type accountSvc interface {
	Register(ctx context.Context, in accounts.RegisterInput) (*accounts.Session, error)
	PasswordLogin(ctx context.Context, email, password string) (*accounts.Session, error)
	ProviderCallback(ctx context.Context, p accounts.ProviderProfile) (*accounts.Session, error)
	ExplicitLink(ctx context.Context, in accounts.LinkInput) (*accounts.Account, error)
	Unlink(ctx context.Context, accountID uuid.UUID, kind accounts.MethodKind) (*accounts.Account, error)
	RequestReset(ctx context.Context, email string) error
	CompleteReset(ctx context.Context, token, newPassword string) error
	UpdateProfile(ctx context.Context, accountID uuid.UUID, upd accounts.ProfileUpdate) (*accounts.Account, error)
	ChangePassword(ctx context.Context, accountID uuid.UUID, current, next string) error
}

// stateIssuer signs and checks OAuth state values, satisfied by *identity.TokenIssuer.
type stateIssuer interface {
	IssueOAuthState(provider string) (string, error)
	VerifyOAuthState(state string) (*identity.OAuthState, error)
}

// OAuthProvider runs one provider's consent flow, satisfied by *oauth.Provider.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (accounts.ProviderProfile, error)
}

// AuthHandler handles account and sign-in routes.
type AuthHandler struct {
	accounts          accountSvc
	sessions          *identity.SessionResolver
	states            stateIssuer
	guard             oauth.StateGuard
	providers         map[accounts.MethodKind]OAuthProvider
	frontendURL       string
	revealResetErrors bool
	logger            *zap.Logger
}

// NewAuthHandler creates an AuthHandler. Provider routes answer 422 until
// SetProvider registers the provider.
func NewAuthHandler(
	svc accountSvc,
	sessions *identity.SessionResolver,
	states stateIssuer,
	guard oauth.StateGuard,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts:    svc,
		sessions:    sessions,
		states:      states,
		guard:       guard,
		providers:   make(map[accounts.MethodKind]OAuthProvider),
		frontendURL: "http://localhost:3000",
		logger:      logger,
	}
}

// SetFrontendURL sets the base URL of the frontend for OAuth callback redirects.
func (h *AuthHandler) SetFrontendURL(url string) {
	h.frontendURL = strings.TrimRight(url, "/")
}

// SetProvider enables the consent flow for one provider kind.
func (h *AuthHandler) SetProvider(kind accounts.MethodKind, p OAuthProvider) {
	h.providers[kind] = p
}

// SetRevealResetErrors makes forgot-password report unknown emails (404) and
// provider-only accounts (400) instead of always answering 200.
func (h *AuthHandler) SetRevealResetErrors(reveal bool) {
	h.revealResetErrors = reveal
}

// Register mounts all auth routes under rg/auth. mw runs before every route.
func (h *AuthHandler) Register(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	auth := rg.Group("/auth", mw...)
	{
		auth.POST("/register", h.RegisterAccount)
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)
		auth.POST("/forgot-password", h.ForgotPassword)
		auth.POST("/reset-password", h.ResetPassword)

		authed := auth.Group("", h.sessions.RequireAccount())
		authed.GET("/me", h.Me)
		authed.PATCH("/me", h.UpdateMe)
		authed.POST("/me/password", h.ChangePassword)
		authed.POST("/link-provider", h.LinkProvider)
		authed.DELETE("/link-provider/:provider", h.UnlinkProvider)

		for _, kind := range []accounts.MethodKind{accounts.MethodGoogle, accounts.MethodDiscord} {
			auth.GET("/"+string(kind), h.oauthRedirect(kind))
			auth.GET("/"+string(kind)+"/callback", h.oauthCallback(kind))
		}
	}
}

// ─── Request types ───────────────────────────────────────────────────────────

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"     binding:"required"`
	Phone     string `json:"phone"`
	Password  string `json:"password"  binding:"required"`
	Role      string `json:"role"`
	StudentID string `json:"studentId"`
}

type loginRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"       binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

type updateMeRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Phone     *string `json:"phone"`
	Avatar    *string `json:"avatar"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword"     binding:"required"`
}

type linkProviderRequest struct {
	Email      string `json:"email"`
	Provider   string `json:"provider"`
	ProviderID string `json:"providerId"`
	Password   string `json:"password"`
}

// ─── Local accounts ──────────────────────────────────────────────────────────

// RegisterAccount handles POST /auth/register.
func (h *AuthHandler) RegisterAccount(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}

	sess, err := h.accounts.Register(c.Request.Context(), accounts.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Role:      req.Role,
		StudentID: req.StudentID,
	})
	recordAuthEvent("register", err)
	if err != nil {
		respondError(c, h.logger, "register", err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// Login handles POST /auth/login. Unknown email, wrong password and a
// provider-only account all receive the same message.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}

	sess, err := h.accounts.PasswordLogin(c.Request.Context(), req.Email, req.Password)
	recordAuthEvent("login", err)
	if err != nil {
		if errors.Is(err, accounts.ErrNoLocalMethod) || errors.Is(err, accounts.ErrInvalidCredentials) {
			h.logger.Info("login refused", zap.String("reason", err.Error()))
			badRequest(c, msgInvalidLogin)
			return
		}
		respondError(c, h.logger, "login", err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// Logout handles POST /auth/logout. Tokens are stateless; the client discards
// its copy.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// ForgotPassword handles POST /auth/forgot-password.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email is required")
		return
	}

	err := h.accounts.RequestReset(c.Request.Context(), req.Email)
	recordAuthEvent("password_reset_request", err)
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrMissingField):
			badRequest(c, "email is required")
			return
		case h.revealResetErrors && errors.Is(err, accounts.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"message": "no account with that email"})
			return
		case h.revealResetErrors && errors.Is(err, accounts.ErrNoLocalMethod):
			badRequest(c, "this account has no password; sign in with Google or Discord instead")
			return
		case errors.Is(err, accounts.ErrAccountNotFound), errors.Is(err, accounts.ErrNoLocalMethod):
			h.logger.Info("password reset not sent", zap.String("reason", err.Error()))
		default:
			respondError(c, h.logger, "forgot password", err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "if an account with that email exists, a password reset link has been sent",
	})
}

// ResetPassword handles POST /auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "token and newPassword are required")
		return
	}

	err := h.accounts.CompleteReset(c.Request.Context(), req.Token, req.NewPassword)
	recordAuthEvent("password_reset", err)
	if err != nil {
		respondError(c, h.logger, "reset password", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated, please log in with your new password"})
}

// ─── Current account ─────────────────────────────────────────────────────────

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": identity.AccountFromCtx(c)})
}

// UpdateMe handles PATCH /auth/me.
func (h *AuthHandler) UpdateMe(c *gin.Context) {
	var req updateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	me := identity.AccountFromCtx(c)
	a, err := h.accounts.UpdateProfile(c.Request.Context(), me.ID, accounts.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Avatar:    req.Avatar,
	})
	if err != nil {
		respondError(c, h.logger, "update profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": a})
}

// ChangePassword handles POST /auth/me/password.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "currentPassword and newPassword are required")
		return
	}

	me := identity.AccountFromCtx(c)
	err := h.accounts.ChangePassword(c.Request.Context(), me.ID, req.CurrentPassword, req.NewPassword)
	recordAuthEvent("password_change", err)
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrInvalidCredentials):
			badRequest(c, "current password is incorrect")
		case errors.Is(err, accounts.ErrNoLocalMethod):
			badRequest(c, "account has no password; set one through link-provider")
		default:
			respondError(c, h.logger, "change password", err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

// LinkProvider handles POST /auth/link-provider. The body email must belong
// to the signed-in account.
func (h *AuthHandler) LinkProvider(c *gin.Context) {
	var req linkProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	me := identity.AccountFromCtx(c)
	if req.Email != "" && accounts.NormalizeEmail(req.Email) != me.Email {
		c.JSON(http.StatusForbidden, gin.H{"message": "email does not match the signed-in account"})
		return
	}

	var kind accounts.MethodKind
	if req.Provider != "" {
		k, ok := accounts.ParseMethodKind(req.Provider)
		if !ok || !k.IsProvider() {
			badRequest(c, "unknown provider")
			return
		}
		kind = k
	}

	a, err := h.accounts.ExplicitLink(c.Request.Context(), accounts.LinkInput{
		Email:      req.Email,
		Kind:       kind,
		ExternalID: req.ProviderID,
		Password:   req.Password,
	})
	recordAuthEvent("link", err)
	if err != nil {
		respondError(c, h.logger, "link provider", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "account linked", "user": a})
}

// UnlinkProvider handles DELETE /auth/link-provider/:provider.
func (h *AuthHandler) UnlinkProvider(c *gin.Context) {
	kind, ok := accounts.ParseMethodKind(c.Param("provider"))
	if !ok {
		badRequest(c, "unknown authentication method")
		return
	}

	me := identity.AccountFromCtx(c)
	a, err := h.accounts.Unlink(c.Request.Context(), me.ID, kind)
	recordAuthEvent("unlink", err)
	if err != nil {
		respondError(c, h.logger, "unlink provider", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "authentication method removed", "user": a})
}

// ─── Provider sign-in ────────────────────────────────────────────────────────

// oauthRedirect handles GET /auth/{provider}.
func (h *AuthHandler) oauthRedirect(kind accounts.MethodKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := h.providers[kind]
		if !ok {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "sign-in with " + string(kind) + " is not configured"})
			return
		}

		state, err := h.states.IssueOAuthState(string(kind))
		if err != nil {
			h.logger.Error("generate oauth state", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
			return
		}
		c.Redirect(http.StatusFound, p.AuthURL(state))
	}
}

// oauthCallback handles GET /auth/{provider}/callback. On success the browser
// is sent to the frontend with the session token in the URL fragment.
func (h *AuthHandler) oauthCallback(kind accounts.MethodKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := h.providers[kind]
		if !ok {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "sign-in with " + string(kind) + " is not configured"})
			return
		}
		ctx := c.Request.Context()

		st, err := h.states.VerifyOAuthState(c.Query("state"))
		if err != nil || st.Provider != string(kind) {
			badRequest(c, "invalid OAuth state")
			return
		}

		code := c.Query("code")
		if code == "" {
			errMsg := c.Query("error_description")
			if errMsg == "" {
				errMsg = c.Query("error")
			}
			badRequest(c, "OAuth authorization failed: "+errMsg)
			return
		}

		if err := h.guard.Consume(ctx, st.ID, st.ExpiresAt); err != nil {
			if errors.Is(err, oauth.ErrStateReused) {
				badRequest(c, "invalid OAuth state")
				return
			}
			respondError(c, h.logger, "consume oauth state", err)
			return
		}

		profile, err := p.Exchange(ctx, code)
		if err != nil {
			recordAuthEvent("provider_callback", err)
			h.logger.Warn("oauth exchange", zap.String("provider", string(kind)), zap.Error(err))
			switch {
			case errors.Is(err, oauth.ErrInvalidCode):
				badRequest(c, "OAuth code exchange failed")
			case errors.Is(err, oauth.ErrNoEmail), errors.Is(err, oauth.ErrUnverifiedEmail):
				badRequest(c, "the provider did not supply a verified email address")
			default:
				c.JSON(http.StatusBadGateway, gin.H{"message": "failed to fetch user info from provider"})
			}
			return
		}

		sess, err := h.accounts.ProviderCallback(ctx, profile)
		recordAuthEvent("provider_callback", err)
		if err != nil {
			respondError(c, h.logger, "provider callback", err)
			return
		}

		c.Redirect(http.StatusFound, h.frontendURL+"/oauth/callback#token="+sess.Token)
	}
}
