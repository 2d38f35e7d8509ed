package handler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/photogallery/internal/accounts"
	"github.com/jmerrifield20/photogallery/internal/gallery/handler"
	"github.com/jmerrifield20/photogallery/internal/identity"
	"github.com/jmerrifield20/photogallery/internal/oauth"
	"go.uber.org/zap"
)

// ── Stub account service ─────────────────────────────────────────────────

type stubAccountSvc struct {
	registerErr error
	loginErr    error
	callbackErr error
	linkErr     error
	unlinkErr   error
	resetReqErr error
	resetErr    error
	changeErr   error

	lastRegister accounts.RegisterInput
	lastLink     accounts.LinkInput
	lastProfile  accounts.ProviderProfile
	lastUpdate   accounts.ProfileUpdate
	lastUnlink   accounts.MethodKind
}

func (s *stubAccountSvc) session(email string) *accounts.Session {
	a := &accounts.Account{
		ID:          uuid.New(),
		Email:       email,
		Role:        accounts.RoleUser,
		AuthMethods: []accounts.AuthMethod{{Kind: accounts.MethodLocal}},
	}
	return &accounts.Session{Token: "tok-" + a.ID.String(), Account: a}
}

func (s *stubAccountSvc) Register(_ context.Context, in accounts.RegisterInput) (*accounts.Session, error) {
	s.lastRegister = in
	if s.registerErr != nil {
		return nil, s.registerErr
	}
	return s.session(in.Email), nil
}

func (s *stubAccountSvc) PasswordLogin(_ context.Context, email, _ string) (*accounts.Session, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return s.session(email), nil
}

func (s *stubAccountSvc) ProviderCallback(_ context.Context, p accounts.ProviderProfile) (*accounts.Session, error) {
	s.lastProfile = p
	if s.callbackErr != nil {
		return nil, s.callbackErr
	}
	return &accounts.Session{Token: "provider-token", Account: &accounts.Account{ID: uuid.New(), Email: p.Email}}, nil
}

func (s *stubAccountSvc) ExplicitLink(_ context.Context, in accounts.LinkInput) (*accounts.Account, error) {
	s.lastLink = in
	if s.linkErr != nil {
		return nil, s.linkErr
	}
	return &accounts.Account{ID: uuid.New(), Email: in.Email}, nil
}

func (s *stubAccountSvc) Unlink(_ context.Context, id uuid.UUID, kind accounts.MethodKind) (*accounts.Account, error) {
	s.lastUnlink = kind
	if s.unlinkErr != nil {
		return nil, s.unlinkErr
	}
	return &accounts.Account{ID: id}, nil
}

func (s *stubAccountSvc) RequestReset(_ context.Context, _ string) error { return s.resetReqErr }

func (s *stubAccountSvc) CompleteReset(_ context.Context, _, _ string) error { return s.resetErr }

func (s *stubAccountSvc) UpdateProfile(_ context.Context, id uuid.UUID, upd accounts.ProfileUpdate) (*accounts.Account, error) {
	s.lastUpdate = upd
	a := &accounts.Account{ID: id}
	if upd.FirstName != nil {
		a.FirstName = *upd.FirstName
	}
	return a, nil
}

func (s *stubAccountSvc) ChangePassword(_ context.Context, _ uuid.UUID, _, _ string) error {
	return s.changeErr
}

// ── Stub OAuth provider ──────────────────────────────────────────────────

type stubProvider struct {
	profile accounts.ProviderProfile
	err     error
}

func (p *stubProvider) AuthURL(state string) string {
	return "https://provider.example/authorize?state=" + url.QueryEscape(state)
}

func (p *stubProvider) Exchange(_ context.Context, code string) (accounts.ProviderProfile, error) {
	if p.err != nil {
		return accounts.ProviderProfile{}, p.err
	}
	if code != "good-code" {
		return accounts.ProviderProfile{}, oauth.ErrInvalidCode
	}
	return p.profile, nil
}

// ── Test setup ────────────────────────────────────────────────────────────

type authFixture struct {
	router *gin.Engine
	svc    *stubAccountSvc
	h      *handler.AuthHandler
	tokens *identity.TokenIssuer
	lookup *stubLookup
}

func setupAuthRouter(t *testing.T, svc *stubAccountSvc) *authFixture {
	t.Helper()
	tokens := testIssuer(t)
	lookup := newStubLookup()
	sessions := identity.NewSessionResolver(tokens, lookup, zap.NewNop())

	h := handler.NewAuthHandler(svc, sessions, tokens, oauth.NewMemoryStateGuard(), zap.NewNop())
	h.SetFrontendURL("https://gallery.example/")

	r := gin.New()
	h.Register(r.Group("/api"))
	return &authFixture{router: r, svc: svc, h: h, tokens: tokens, lookup: lookup}
}

// ── Register / login ──────────────────────────────────────────────────────

func TestRegister_201(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})

	body := `{"firstName":"Ada","email":"a@x.com","password":"Abc12345!","role":"photographer","studentId":""}`
	w := doJSON(f.router, http.MethodPost, "/api/auth/register", body, "")
	wantStatus(t, w, http.StatusCreated)

	resp := decode(t, w)
	if resp["token"] == nil || resp["user"] == nil {
		t.Errorf("expected token and user, got %v", resp)
	}
	if f.svc.lastRegister.Role != "photographer" || f.svc.lastRegister.FirstName != "Ada" {
		t.Errorf("unexpected input: %+v", f.svc.lastRegister)
	}
}

func TestRegister_400(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
	}{
		{"missing password", `{"email":"a@x.com"}`, nil},
		{"duplicate", `{"email":"a@x.com","password":"Abc12345!"}`, accounts.ErrDuplicateEmail},
		{"admin without student id", `{"email":"a@x.com","password":"Abc12345!","role":"admin"}`, accounts.ErrMissingStudentID},
		{"short password", `{"email":"a@x.com","password":"x"}`, accounts.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupAuthRouter(t, &stubAccountSvc{registerErr: tc.err})
			w := doJSON(f.router, http.MethodPost, "/api/auth/register", tc.body, "")
			wantStatus(t, w, http.StatusBadRequest)
			if decode(t, w)["message"] == nil {
				t.Error("expected message in response")
			}
		})
	}
}

func TestRegister_500_hidesDetail(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{registerErr: errors.New("pq: connection reset")})
	w := doJSON(f.router, http.MethodPost, "/api/auth/register", `{"email":"a@x.com","password":"Abc12345!"}`, "")
	wantStatus(t, w, http.StatusInternalServerError)
	if strings.Contains(w.Body.String(), "connection reset") {
		t.Errorf("internal detail leaked: %s", w.Body.String())
	}
}

func TestClientErrors_dropOperationPrefixes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			"validation detail kept",
			fmt.Errorf("persist reset token: %w", fmt.Errorf("%w: password must be at least 8 characters", accounts.ErrValidation)),
			"validation failed: password must be at least 8 characters",
		},
		{
			"student id under validation",
			fmt.Errorf("create account: %w", fmt.Errorf("%w: %w", accounts.ErrValidation, accounts.ErrMissingStudentID)),
			accounts.ErrMissingStudentID.Error(),
		},
		{
			"unknown method",
			fmt.Errorf("save linked account: %w: %q", accounts.ErrUnknownMethod, "github"),
			`unknown authentication method: "github"`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupAuthRouter(t, &stubAccountSvc{registerErr: tc.err})
			w := doJSON(f.router, http.MethodPost, "/api/auth/register", `{"email":"a@x.com","password":"Abc12345!"}`, "")
			wantStatus(t, w, http.StatusBadRequest)
			if got := decode(t, w)["message"]; got != tc.want {
				t.Errorf("message = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLogin_200(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})
	w := doJSON(f.router, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Abc12345!"}`, "")
	wantStatus(t, w, http.StatusOK)
	if decode(t, w)["token"] == nil {
		t.Error("expected token in response")
	}
}

func TestLogin_collapsesFailureReasons(t *testing.T) {
	var bodies []string
	for _, err := range []error{accounts.ErrInvalidCredentials, accounts.ErrNoLocalMethod} {
		f := setupAuthRouter(t, &stubAccountSvc{loginErr: err})
		w := doJSON(f.router, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"wrong-pass"}`, "")
		wantStatus(t, w, http.StatusBadRequest)
		bodies = append(bodies, w.Body.String())
	}
	if bodies[0] != bodies[1] {
		t.Errorf("login failures must be indistinguishable: %q vs %q", bodies[0], bodies[1])
	}
}

func TestLogout_200(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})
	w := doJSON(f.router, http.MethodPost, "/api/auth/logout", "", "")
	wantStatus(t, w, http.StatusOK)
}

// ── Password reset ────────────────────────────────────────────────────────

func TestForgotPassword_genericByDefault(t *testing.T) {
	for _, err := range []error{nil, accounts.ErrAccountNotFound, accounts.ErrNoLocalMethod} {
		f := setupAuthRouter(t, &stubAccountSvc{resetReqErr: err})
		w := doJSON(f.router, http.MethodPost, "/api/auth/forgot-password", `{"email":"a@x.com"}`, "")
		wantStatus(t, w, http.StatusOK)
	}
}

func TestForgotPassword_revealedErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{accounts.ErrAccountNotFound, http.StatusNotFound},
		{accounts.ErrNoLocalMethod, http.StatusBadRequest},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		f := setupAuthRouter(t, &stubAccountSvc{resetReqErr: tc.err})
		f.h.SetRevealResetErrors(true)
		w := doJSON(f.router, http.MethodPost, "/api/auth/forgot-password", `{"email":"a@x.com"}`, "")
		wantStatus(t, w, tc.want)
	}
}

func TestForgotPassword_400_missingEmail(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})
	w := doJSON(f.router, http.MethodPost, "/api/auth/forgot-password", `{}`, "")
	wantStatus(t, w, http.StatusBadRequest)
}

func TestResetPassword(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})
	w := doJSON(f.router, http.MethodPost, "/api/auth/reset-password", `{"token":"abc","newPassword":"NewPass1!"}`, "")
	wantStatus(t, w, http.StatusOK)

	f = setupAuthRouter(t, &stubAccountSvc{resetErr: accounts.ErrInvalidOrExpiredToken})
	w = doJSON(f.router, http.MethodPost, "/api/auth/reset-password", `{"token":"abc","newPassword":"NewPass1!"}`, "")
	wantStatus(t, w, http.StatusBadRequest)
	if !strings.Contains(w.Body.String(), accounts.ErrInvalidOrExpiredToken.Error()) {
		t.Errorf("expected expiry message, got %s", w.Body.String())
	}
}

// ── Current account ───────────────────────────────────────────────────────

func TestMe(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})

	w := doJSON(f.router, http.MethodGet, "/api/auth/me", "", "")
	wantStatus(t, w, http.StatusUnauthorized)
	if decode(t, w)["code"] != identity.CodeNoToken {
		t.Errorf("expected NO_TOKEN_PROVIDED, got %s", w.Body.String())
	}

	w = doJSON(f.router, http.MethodGet, "/api/auth/me", "", "Bearer not-a-jwt")
	wantStatus(t, w, http.StatusUnauthorized)
	if decode(t, w)["code"] != identity.CodeInvalidToken {
		t.Errorf("expected INVALID_OR_EXPIRED_TOKEN, got %s", w.Body.String())
	}

	orphan, _ := f.tokens.Issue(uuid.New().String())
	w = doJSON(f.router, http.MethodGet, "/api/auth/me", "", "Bearer "+orphan)
	wantStatus(t, w, http.StatusUnauthorized)
	if decode(t, w)["code"] != identity.CodeUserNotFound {
		t.Errorf("expected USER_NOT_FOUND, got %s", w.Body.String())
	}

	auth := signIn(t, f.tokens, f.lookup, &accounts.Account{Email: "a@x.com", PasswordHash: "secret-digest"})
	w = doJSON(f.router, http.MethodGet, "/api/auth/me", "", auth)
	wantStatus(t, w, http.StatusOK)
	user, _ := decode(t, w)["user"].(map[string]any)
	if user["email"] != "a@x.com" {
		t.Errorf("expected user email, got %v", user)
	}
	if strings.Contains(w.Body.String(), "secret-digest") {
		t.Error("password hash must never be serialized")
	}
}

func TestUpdateMe(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})
	auth := signIn(t, f.tokens, f.lookup, &accounts.Account{Email: "a@x.com"})

	w := doJSON(f.router, http.MethodPatch, "/api/auth/me", `{"firstName":"Grace"}`, auth)
	wantStatus(t, w, http.StatusOK)
	if f.svc.lastUpdate.FirstName == nil || *f.svc.lastUpdate.FirstName != "Grace" {
		t.Errorf("expected firstName update, got %+v", f.svc.lastUpdate)
	}
	if f.svc.lastUpdate.LastName != nil {
		t.Error("absent fields must stay nil")
	}
}

func TestChangePassword(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{accounts.ErrInvalidCredentials, http.StatusBadRequest},
		{accounts.ErrNoLocalMethod, http.StatusBadRequest},
		{accounts.ErrValidation, http.StatusBadRequest},
	}
	for _, tc := range cases {
		f := setupAuthRouter(t, &stubAccountSvc{changeErr: tc.err})
		auth := signIn(t, f.tokens, f.lookup, &accounts.Account{Email: "a@x.com"})
		w := doJSON(f.router, http.MethodPost, "/api/auth/me/password", `{"currentPassword":"old-pass","newPassword":"NewPass1!"}`, auth)
		wantStatus(t, w, tc.want)
	}
}

// ── Linking ───────────────────────────────────────────────────────────────

func TestLinkProvider_200(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})
	auth := signIn(t, f.tokens, f.lookup, &accounts.Account{Email: "a@x.com"})

	w := doJSON(f.router, http.MethodPost, "/api/auth/link-provider",
		`{"email":"A@X.com","provider":"google","providerId":"g1"}`, auth)
	wantStatus(t, w, http.StatusOK)

	if f.svc.lastLink.Kind != accounts.MethodGoogle || f.svc.lastLink.ExternalID != "g1" {
		t.Errorf("unexpected link input: %+v", f.svc.lastLink)
	}
	resp := decode(t, w)
	if resp["message"] == nil || resp["user"] == nil {
		t.Errorf("expected message and user, got %v", resp)
	}
}

func TestLinkProvider_rejections(t *testing.T) {
	cases := []struct {
		name string
		body string
		auth bool
		err  error
		want int
	}{
		{"no session", `{"email":"a@x.com","password":"Abc12345!"}`, false, nil, http.StatusUnauthorized},
		{"someone else's email", `{"email":"b@x.com","password":"Abc12345!"}`, true, nil, http.StatusForbidden},
		{"unknown provider", `{"email":"a@x.com","provider":"myspace","providerId":"m1"}`, true, nil, http.StatusBadRequest},
		{"local is not a provider", `{"email":"a@x.com","provider":"local","providerId":"x"}`, true, nil, http.StatusBadRequest},
		{"already linked", `{"email":"a@x.com","provider":"google","providerId":"g1"}`, true, accounts.ErrAlreadyLinked, http.StatusBadRequest},
		{"already has password", `{"email":"a@x.com","password":"Abc12345!"}`, true, accounts.ErrAlreadyHasPassword, http.StatusBadRequest},
		{"missing fields", `{"email":"a@x.com"}`, true, accounts.ErrMissingField, http.StatusBadRequest},
		{"account gone", `{"email":"a@x.com","password":"Abc12345!"}`, true, accounts.ErrAccountNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupAuthRouter(t, &stubAccountSvc{linkErr: tc.err})
			auth := ""
			if tc.auth {
				auth = signIn(t, f.tokens, f.lookup, &accounts.Account{Email: "a@x.com"})
			}
			w := doJSON(f.router, http.MethodPost, "/api/auth/link-provider", tc.body, auth)
			wantStatus(t, w, tc.want)
		})
	}
}

func TestUnlinkProvider(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})
	auth := signIn(t, f.tokens, f.lookup, &accounts.Account{Email: "a@x.com"})

	w := doJSON(f.router, http.MethodDelete, "/api/auth/link-provider/discord", "", auth)
	wantStatus(t, w, http.StatusOK)
	if f.svc.lastUnlink != accounts.MethodDiscord {
		t.Errorf("expected discord, got %q", f.svc.lastUnlink)
	}

	w = doJSON(f.router, http.MethodDelete, "/api/auth/link-provider/myspace", "", auth)
	wantStatus(t, w, http.StatusBadRequest)

	f = setupAuthRouter(t, &stubAccountSvc{unlinkErr: accounts.ErrLastAuthMethod})
	auth = signIn(t, f.tokens, f.lookup, &accounts.Account{Email: "a@x.com"})
	w = doJSON(f.router, http.MethodDelete, "/api/auth/link-provider/local", "", auth)
	wantStatus(t, w, http.StatusBadRequest)

	f = setupAuthRouter(t, &stubAccountSvc{unlinkErr: accounts.ErrMethodNotLinked})
	auth = signIn(t, f.tokens, f.lookup, &accounts.Account{Email: "a@x.com"})
	w = doJSON(f.router, http.MethodDelete, "/api/auth/link-provider/google", "", auth)
	wantStatus(t, w, http.StatusNotFound)
}

// ── Provider sign-in ──────────────────────────────────────────────────────

func TestOAuthRedirect_notConfigured(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})
	w := doJSON(f.router, http.MethodGet, "/api/auth/google", "", "")
	wantStatus(t, w, http.StatusUnprocessableEntity)
}

func redirectState(t *testing.T, f *authFixture, provider string) string {
	t.Helper()
	w := doJSON(f.router, http.MethodGet, "/api/auth/"+provider, "", "")
	wantStatus(t, w, http.StatusFound)
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("expected state in redirect")
	}
	return state
}

func TestOAuthCallback_success(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})
	f.h.SetProvider(accounts.MethodDiscord, &stubProvider{profile: accounts.ProviderProfile{
		Kind: accounts.MethodDiscord, ExternalID: "d1", Email: "b@x.com", FirstName: "Jane",
	}})

	state := redirectState(t, f, "discord")
	w := doJSON(f.router, http.MethodGet, "/api/auth/discord/callback?code=good-code&state="+url.QueryEscape(state), "", "")
	wantStatus(t, w, http.StatusFound)

	if got := w.Header().Get("Location"); got != "https://gallery.example/oauth/callback#token=provider-token" {
		t.Errorf("unexpected redirect %q", got)
	}
	if f.svc.lastProfile.ExternalID != "d1" || f.svc.lastProfile.FirstName != "Jane" {
		t.Errorf("unexpected profile: %+v", f.svc.lastProfile)
	}

	// The same state cannot be replayed.
	w = doJSON(f.router, http.MethodGet, "/api/auth/discord/callback?code=good-code&state="+url.QueryEscape(state), "", "")
	wantStatus(t, w, http.StatusBadRequest)
}

func TestOAuthCallback_rejections(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})
	f.h.SetProvider(accounts.MethodGoogle, &stubProvider{profile: accounts.ProviderProfile{Kind: accounts.MethodGoogle, ExternalID: "g1", Email: "a@x.com"}})
	f.h.SetProvider(accounts.MethodDiscord, &stubProvider{})

	// Bad state.
	w := doJSON(f.router, http.MethodGet, "/api/auth/google/callback?code=good-code&state=forged", "", "")
	wantStatus(t, w, http.StatusBadRequest)

	// State issued for another provider.
	discordState := redirectState(t, f, "discord")
	w = doJSON(f.router, http.MethodGet, "/api/auth/google/callback?code=good-code&state="+url.QueryEscape(discordState), "", "")
	wantStatus(t, w, http.StatusBadRequest)

	// Consent denied.
	w = doJSON(f.router, http.MethodGet, "/api/auth/google/callback?error=access_denied&state="+url.QueryEscape(redirectState(t, f, "google")), "", "")
	wantStatus(t, w, http.StatusBadRequest)
	if !strings.Contains(w.Body.String(), "access_denied") {
		t.Errorf("expected provider error in message, got %s", w.Body.String())
	}

	// Code rejected by the provider.
	w = doJSON(f.router, http.MethodGet, "/api/auth/google/callback?code=bad-code&state="+url.QueryEscape(redirectState(t, f, "google")), "", "")
	wantStatus(t, w, http.StatusBadRequest)

	// Expired state.
	f.tokens.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	old := redirectState(t, f, "google")
	f.tokens.SetClock(func() time.Time { return time.Now().UTC() })
	w = doJSON(f.router, http.MethodGet, "/api/auth/google/callback?code=good-code&state="+url.QueryEscape(old), "", "")
	wantStatus(t, w, http.StatusBadRequest)
}

func TestOAuthCallback_unverifiedEmail(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})
	f.h.SetProvider(accounts.MethodGoogle, &stubProvider{err: oauth.ErrUnverifiedEmail})

	state := redirectState(t, f, "google")
	w := doJSON(f.router, http.MethodGet, "/api/auth/google/callback?code=good-code&state="+url.QueryEscape(state), "", "")
	wantStatus(t, w, http.StatusBadRequest)
}

func TestOAuthCallback_providerDown(t *testing.T) {
	f := setupAuthRouter(t, &stubAccountSvc{})
	f.h.SetProvider(accounts.MethodGoogle, &stubProvider{err: errors.New("google profile api returned 503")})

	state := redirectState(t, f, "google")
	w := doJSON(f.router, http.MethodGet, "/api/auth/google/callback?code=good-code&state="+url.QueryEscape(state), "", "")
	wantStatus(t, w, http.StatusBadGateway)
}
