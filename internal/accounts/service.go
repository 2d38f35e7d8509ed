package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/photogallery/internal/email"
	"go.uber.org/zap"
)

// DefaultResetTTL is how long a password-reset token stays valid.
const DefaultResetTTL = 15 * time.Minute

// maxWriteAttempts bounds read-modify-write retries on ErrVersionConflict.
const maxWriteAttempts = 3

// tokenIssuer is the session-token dependency, satisfied by *identity.TokenIssuer.
type tokenIssuer interface {
	Issue(accountID string) (string, error)
}

// Service reconciles authentication events against the account store:
// registration, password login, provider callbacks, explicit linking and
// the two-phase password reset.
type Service struct {
	store       *Store
	hasher      *Hasher
	tokens      tokenIssuer
	mailer      email.EmailSender
	frontendURL string
	resetTTL    time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewService creates a Service.
func NewService(store *Store, hasher *Hasher, tokens tokenIssuer, mailer email.EmailSender, logger *zap.Logger) *Service {
	return &Service{
		store:       store,
		hasher:      hasher,
		tokens:      tokens,
		mailer:      mailer,
		frontendURL: "http://localhost:3000",
		resetTTL:    DefaultResetTTL,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

// SetFrontendURL sets the base URL used to build password-reset links.
func (s *Service) SetFrontendURL(url string) {
	s.frontendURL = strings.TrimRight(url, "/")
}

// SetResetTTL overrides the password-reset token lifetime.
func (s *Service) SetResetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.resetTTL = ttl
	}
}

// SetClock replaces the time source used for reset expiry.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RegisterInput is the payload of a local registration.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	Role      string
	StudentID string
}

// Register creates an account with a single local method and issues a token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	emailAddr := NormalizeEmail(in.Email)
	if emailAddr == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrMissingField)
	}
	role, ok := ParseRole(in.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, in.Role)
	}
	studentID := strings.TrimSpace(in.StudentID)
	if role == RoleAdmin && studentID == "" {
		return nil, ErrMissingStudentID
	}
	if !looksLikeEmail(emailAddr) {
		return nil, fmt.Errorf("%w: email is malformed", ErrValidation)
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	if _, err := s.store.FindByEmail(ctx, emailAddr); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	a := &Account{
		Email:       emailAddr,
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		Phone:       strings.TrimSpace(in.Phone),
		Role:        role,
		StudentID:   studentID,
		AuthMethods: []AuthMethod{{Kind: MethodLocal}},
	}
	a.SetPassword(in.Password)
	if err := s.store.Create(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.logger.Info("account registered",
		zap.String("account_id", a.ID.String()),
		zap.String("role", string(a.Role)),
	)
	return s.issue(a)
}

// PasswordLogin verifies email/password credentials. An unknown email and a
// wrong password both yield ErrInvalidCredentials; a provider-only account
// yields ErrNoLocalMethod.
func (s *Service) PasswordLogin(ctx context.Context, emailAddr, password string) (*Session, error) {
	emailAddr = NormalizeEmail(emailAddr)
	if emailAddr == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrMissingField)
	}

	a, err := s.store.FindByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.hasher.VerifyDummy(ctx, password)
			s.logger.Info("login rejected", zap.String("reason", "unknown email"))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if a.PasswordHash != "" && a.needsLocalRepair() {
		s.repairInPlace(ctx, a)
	}
	if !a.HasMethod(MethodLocal) || a.PasswordHash == "" {
		s.hasher.VerifyDummy(ctx, password)
		s.logger.Info("login rejected",
			zap.String("account_id", a.ID.String()),
			zap.String("reason", "no local method"),
		)
		return nil, ErrNoLocalMethod
	}
	if !s.hasher.Verify(ctx, password, a.PasswordHash) {
		s.logger.Info("login rejected",
			zap.String("account_id", a.ID.String()),
			zap.String("reason", "wrong password"),
		)
		return nil, ErrInvalidCredentials
	}
	return s.issue(a)
}

// ProviderCallback resolves a provider login to an account: it creates one
// for an unseen email, attaches the provider to an existing account
// (backfilling empty profile fields), or does nothing when already linked.
func (s *Service) ProviderCallback(ctx context.Context, p ProviderProfile) (*Session, error) {
	if !p.Kind.IsProvider() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, p.Kind)
	}
	emailAddr := NormalizeEmail(p.Email)
	if p.ExternalID == "" || emailAddr == "" {
		return nil, fmt.Errorf("%w: provider id and email are required", ErrMissingField)
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		a, err := s.store.FindByEmail(ctx, emailAddr)
		if errors.Is(err, ErrAccountNotFound) {
			a = &Account{
				Email:       emailAddr,
				FirstName:   strings.TrimSpace(p.FirstName),
				LastName:    strings.TrimSpace(p.LastName),
				Avatar:      p.Avatar,
				Role:        RoleUser,
				AuthMethods: []AuthMethod{{Kind: p.Kind, ExternalID: p.ExternalID}},
			}
			if err := s.store.Create(ctx, a); err != nil {
				if errors.Is(err, ErrDuplicateEmail) {
					continue
				}
				return nil, fmt.Errorf("create provider account: %w", err)
			}
			s.logger.Info("account created from provider",
				zap.String("account_id", a.ID.String()),
				zap.String("provider", string(p.Kind)),
			)
			return s.issue(a)
		}
		if err != nil {
			return nil, fmt.Errorf("lookup account: %w", err)
		}

		if existing, ok := a.Method(p.Kind); ok {
			if existing.ExternalID != p.ExternalID {
				s.logger.Warn("provider id differs from linked id",
					zap.String("account_id", a.ID.String()),
					zap.String("provider", string(p.Kind)),
				)
			}
			return s.issue(a)
		}

		a.addMethod(AuthMethod{Kind: p.Kind, ExternalID: p.ExternalID})
		backfillProfile(a, p)
		if err := s.store.Save(ctx, a); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return nil, fmt.Errorf("link provider: %w", err)
		}
		s.logger.Info("provider linked on login",
			zap.String("account_id", a.ID.String()),
			zap.String("provider", string(p.Kind)),
		)
		return s.issue(a)
	}
	return nil, fmt.Errorf("provider callback: %w", ErrVersionConflict)
}

// backfillProfile copies provider profile fields into empty account fields.
// Existing values are never overwritten.
func backfillProfile(a *Account, p ProviderProfile) {
	if a.FirstName == "" {
		a.FirstName = strings.TrimSpace(p.FirstName)
	}
	if a.LastName == "" {
		a.LastName = strings.TrimSpace(p.LastName)
	}
	if a.Avatar == "" {
		a.Avatar = p.Avatar
	}
}

// LinkInput is the payload of an explicit link request. Kind+ExternalID
// links a provider, Password sets a local password; both may be given.
type LinkInput struct {
	Email      string
	Kind       MethodKind
	ExternalID string
	Password   string
}

// ExplicitLink attaches a provider and/or a local password to an existing
// account. Both requested changes are validated before either is applied and
// they are persisted in one version-checked write.
func (s *Service) ExplicitLink(ctx context.Context, in LinkInput) (*Account, error) {
	emailAddr := NormalizeEmail(in.Email)
	linkProvider := in.Kind != "" || in.ExternalID != ""
	setPassword := in.Password != ""

	if emailAddr == "" || (!linkProvider && !setPassword) {
		return nil, fmt.Errorf("%w: email and a provider or password are required", ErrMissingField)
	}
	if linkProvider {
		if in.Kind == "" || in.ExternalID == "" {
			return nil, fmt.Errorf("%w: provider and providerId are required together", ErrMissingField)
		}
		if !in.Kind.IsProvider() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, in.Kind)
		}
	}
	if setPassword {
		if err := validatePassword(in.Password); err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		a, err := s.store.FindByEmail(ctx, emailAddr)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return nil, ErrAccountNotFound
			}
			return nil, fmt.Errorf("lookup account: %w", err)
		}

		a.repairLocal()
		if linkProvider && a.HasMethod(in.Kind) {
			return nil, ErrAlreadyLinked
		}
		if setPassword && (a.HasMethod(MethodLocal) || a.PasswordHash != "") {
			return nil, ErrAlreadyHasPassword
		}

		if linkProvider {
			a.addMethod(AuthMethod{Kind: in.Kind, ExternalID: in.ExternalID})
		}
		if setPassword {
			a.addMethod(AuthMethod{Kind: MethodLocal})
			a.SetPassword(in.Password)
		}

		if err := s.store.Save(ctx, a); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return nil, fmt.Errorf("save linked account: %w", err)
		}
		s.logger.Info("authentication method linked",
			zap.String("account_id", a.ID.String()),
			zap.Bool("provider", linkProvider),
			zap.Bool("password", setPassword),
		)
		return a, nil
	}
	return nil, fmt.Errorf("explicit link: %w", ErrVersionConflict)
}

// Unlink removes one authentication method. The last remaining method can
// never be removed.
func (s *Service) Unlink(ctx context.Context, accountID uuid.UUID, kind MethodKind) (*Account, error) {
	if _, ok := ParseMethodKind(string(kind)); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, kind)
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		a, err := s.store.FindByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if !a.HasMethod(kind) {
			return nil, ErrMethodNotLinked
		}
		if len(a.AuthMethods) == 1 {
			return nil, ErrLastAuthMethod
		}

		a.removeMethod(kind)
		if kind == MethodLocal {
			a.PasswordHash = ""
			a.clearReset()
		}
		if err := s.store.Save(ctx, a); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return nil, fmt.Errorf("save unlinked account: %w", err)
		}
		s.logger.Info("authentication method removed",
			zap.String("account_id", a.ID.String()),
			zap.String("method", string(kind)),
		)
		return a, nil
	}
	return nil, fmt.Errorf("unlink: %w", ErrVersionConflict)
}

// RequestReset stores a fresh reset token on the account and emails it.
// Delivery failures are logged and not retried.
func (s *Service) RequestReset(ctx context.Context, emailAddr string) error {
	emailAddr = NormalizeEmail(emailAddr)
	if emailAddr == "" {
		return fmt.Errorf("%w: email is required", ErrMissingField)
	}

	var (
		a     *Account
		token string
	)
	for attempt := 0; ; attempt++ {
		var err error
		a, err = s.store.FindByEmail(ctx, emailAddr)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("lookup account: %w", err)
		}
		a.repairLocal()
		// An account left with no method at all can only recover by reset.
		if !a.HasMethod(MethodLocal) && len(a.AuthMethods) > 0 {
			s.logger.Info("password reset refused",
				zap.String("account_id", a.ID.String()),
				zap.String("reason", "no local method"),
			)
			return ErrNoLocalMethod
		}

		token, err = generateSecureToken(resetTokenBytes)
		if err != nil {
			return fmt.Errorf("generate reset token: %w", err)
		}
		expires := s.now().Add(s.resetTTL)
		a.PasswordResetToken = digestToken(token)
		a.PasswordResetExpiry = &expires

		err = s.store.Save(ctx, a)
		if err == nil {
			break
		}
		if errors.Is(err, ErrVersionConflict) && attempt+1 < maxWriteAttempts {
			continue
		}
		return fmt.Errorf("persist reset token: %w", err)
	}

	link := s.frontendURL + "/reset-password?token=" + token
	body, err := renderResetEmail(displayName(a), link, s.resetTTL)
	if err != nil {
		return fmt.Errorf("render reset email: %w", err)
	}
	if err := s.mailer.Send(ctx, email.Message{
		To:       a.Email,
		Subject:  "Reset your gallery password",
		HTMLBody: body,
		Tag:      "password-reset",
	}); err != nil {
		s.logger.Warn("send password reset email",
			zap.String("account_id", a.ID.String()),
			zap.Error(err),
		)
	}
	return nil
}

// CompleteReset consumes a reset token and sets the new password.
func (s *Service) CompleteReset(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return fmt.Errorf("%w: token and newPassword are required", ErrMissingField)
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		a, err := s.store.FindByResetToken(ctx, token, s.now())
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return ErrInvalidOrExpiredToken
			}
			return fmt.Errorf("lookup reset token: %w", err)
		}

		a.addMethod(AuthMethod{Kind: MethodLocal})
		a.SetPassword(newPassword)
		a.clearReset()
		if err := s.store.Save(ctx, a); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return fmt.Errorf("save new password: %w", err)
		}
		s.logger.Info("password reset", zap.String("account_id", a.ID.String()))
		return nil
	}
	return fmt.Errorf("complete reset: %w", ErrVersionConflict)
}

// ProfileUpdate carries optional profile edits; nil fields are unchanged.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Phone     *string
	Avatar    *string
}

// UpdateProfile applies display-field edits to an account.
func (s *Service) UpdateProfile(ctx context.Context, accountID uuid.UUID, upd ProfileUpdate) (*Account, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		a, err := s.store.FindByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		applyString(&a.FirstName, upd.FirstName)
		applyString(&a.LastName, upd.LastName)
		applyString(&a.Phone, upd.Phone)
		applyString(&a.Avatar, upd.Avatar)

		if err := s.store.Save(ctx, a); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return nil, fmt.Errorf("save profile: %w", err)
		}
		return a, nil
	}
	return nil, fmt.Errorf("update profile: %w", ErrVersionConflict)
}

func applyString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

// ChangePassword replaces the local password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, accountID uuid.UUID, current, next string) error {
	if current == "" || next == "" {
		return fmt.Errorf("%w: currentPassword and newPassword are required", ErrMissingField)
	}
	if err := validatePassword(next); err != nil {
		return err
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		a, err := s.store.FindByID(ctx, accountID)
		if err != nil {
			return err
		}
		if !a.HasMethod(MethodLocal) || a.PasswordHash == "" {
			return ErrNoLocalMethod
		}
		if !s.hasher.Verify(ctx, current, a.PasswordHash) {
			return ErrInvalidCredentials
		}

		a.SetPassword(next)
		a.clearReset()
		if err := s.store.Save(ctx, a); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return fmt.Errorf("save password: %w", err)
		}
		s.logger.Info("password changed", zap.String("account_id", a.ID.String()))
		return nil
	}
	return fmt.Errorf("change password: %w", ErrVersionConflict)
}

// GetByID returns the account without side effects.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.store.FindByID(ctx, id)
}

// Lookup resolves an account id for an authenticated request, repairing a
// legacy methods array on the way.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.needsLocalRepair() {
		s.repairInPlace(ctx, a)
	}
	return a, nil
}

// repairInPlace fixes the local-method invariant and persists it best-effort.
func (s *Service) repairInPlace(ctx context.Context, a *Account) {
	if !a.repairLocal() {
		return
	}
	if err := s.store.Save(ctx, a); err != nil {
		s.logger.Warn("persist legacy account repair",
			zap.String("account_id", a.ID.String()),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("legacy account repaired", zap.String("account_id", a.ID.String()))
}

func (s *Service) issue(a *Account) (*Session, error) {
	tok, err := s.tokens.Issue(a.ID.String())
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: tok, Account: a}, nil
}

func displayName(a *Account) string {
	if name := strings.TrimSpace(a.FirstName + " " + a.LastName); name != "" {
		return name
	}
	return a.Email
}
