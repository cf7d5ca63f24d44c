package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/auth"
	"github.com/MarcoPoloResearchLab/intentions/internal/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidIdentity    = errors.New("users: invalid identity")
	ErrInvalidCredentials = errors.New("users: invalid email or password")
	ErrEmailNotVerified   = errors.New("users: email not verified")
	ErrEmailTaken         = errors.New("users: email already registered")
	ErrAccountNotFound    = errors.New("users: account not found")

	errMissingDatabase = errors.New("database handle is required")
	errMissingHasher   = errors.New("password hasher is required")
	errMissingTokens   = errors.New("token issuer is required")
	errMissingMailer   = errors.New("mailer is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a dotted operation.reason code and the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew        = "users.service.new"
	opSignUp            = "users.sign_up"
	opSignIn            = "users.sign_in"
	opSignOut           = "users.sign_out"
	opVerifyEmail       = "users.verify_email"
	opSendReset         = "users.send_password_reset"
	opResetPassword     = "users.reset_password"
	opCurrentUser       = "users.current_user"
	opUpdateProfile     = "users.update_profile"
	opToggleFavourite   = "users.toggle_favourite"
	opSubscription      = "users.subscription_status"
	opResolveIdentity   = "users.resolve_identity"
	logMessageFail      = "users service error"
	minimumPasswordSize = 6
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// TokenIssuer issues and redeems session and mail tokens.
type TokenIssuer interface {
	Issue(subject string, purpose auth.Purpose) (auth.Token, error)
	Validate(token string, purpose auth.Purpose) (auth.Claims, error)
}

// Mailer delivers verification and password-reset mail.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to string, token string) error
	SendPasswordResetEmail(ctx context.Context, to string, token string) error
}

// SignOutPublisher is told when a user's session ends.
type SignOutPublisher interface {
	PublishSignedOut(userID string)
}

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database *gorm.DB
	Hasher   auth.PasswordHasher
	Tokens   TokenIssuer
	Mailer   Mailer
	Events   SignOutPublisher
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages accounts, sessions and third-party identities.
type Service struct {
	db     *gorm.DB
	hasher auth.PasswordHasher
	tokens TokenIssuer
	mailer Mailer
	events SignOutPublisher
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService validates cfg and constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Hasher == nil {
		return nil, newServiceError(opServiceNew, "missing_hasher", errMissingHasher)
	}
	if cfg.Tokens == nil {
		return nil, newServiceError(opServiceNew, "missing_tokens", errMissingTokens)
	}
	if cfg.Mailer == nil {
		return nil, newServiceError(opServiceNew, "missing_mailer", errMissingMailer)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		hasher: cfg.Hasher,
		tokens: cfg.Tokens,
		mailer: cfg.Mailer,
		events: cfg.Events,
		now:    clock,
		logger: logger,
	}, nil
}

// SignUpRequest carries the registration form.
type SignUpRequest struct {
	FirstName       string `json:"firstName" validate:"notblank"`
	Surname         string `json:"surname" validate:"notblank"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"omitempty,eqfield=Password"`
	DateOfBirth     string `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	Country         string `json:"country"`
	MailingList     bool   `json:"mailingList"`
}

// SignInRequest carries email/password credentials.
type SignInRequest struct {
	Email    string `json:"email" validate:"notblank"`
	Password string `json:"password" validate:"notblank"`
}

// ProfileUpdate carries the editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	FirstName   *string `json:"firstName" validate:"omitempty,notblank"`
	Surname     *string `json:"surname" validate:"omitempty,notblank"`
	MailingList *bool   `json:"mailingList"`
}

// Session is an issued session token together with the signed-in profile.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Profile   Profile   `json:"user"`
}

// SignUp registers an account with an unverified email and the basic subscription, then
// sends a verification mail. Mail failures are logged; the account still exists.
func (s *Service) SignUp(ctx context.Context, request SignUpRequest) (Profile, error) {
	if err := validation.Struct(request); err != nil {
		return Profile{}, err
	}
	email := normalizeEmail(request.Email)

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		s.logError(opSignUp, "lookup_failed", err)
		return Profile{}, newServiceError(opSignUp, "lookup_failed", err)
	}
	if existing > 0 {
		return Profile{}, ErrEmailTaken
	}

	hash, err := s.hasher.Hash(request.Password)
	if err != nil {
		s.logError(opSignUp, "hash_failed", err)
		return Profile{}, newServiceError(opSignUp, "hash_failed", err)
	}
	accountID, err := uuid.NewV7()
	if err != nil {
		s.logError(opSignUp, "id_generation_failed", err)
		return Profile{}, newServiceError(opSignUp, "id_generation_failed", err)
	}

	account := Account{
		ID:                 accountID.String(),
		Email:              email,
		PasswordHash:       hash,
		FirstName:          normalize(request.FirstName),
		Surname:            normalize(request.Surname),
		DateOfBirth:        normalize(request.DateOfBirth),
		Country:            normalize(request.Country),
		MailingList:        request.MailingList,
		AgreedToTerms:      true,
		SubscriptionStatus: string(StatusBasic),
		FavouritesJSON:     "[]",
		JoinedAt:           s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		s.logError(opSignUp, "write_failed", err, zap.String("email", email))
		return Profile{}, newServiceError(opSignUp, "write_failed", err)
	}

	s.sendVerification(ctx, opSignUp, account)
	return account.profile(), nil
}

// SignIn checks credentials and issues a session. Unverified accounts get a fresh
// verification mail and ErrEmailNotVerified instead of a session.
func (s *Service) SignIn(ctx context.Context, request SignInRequest) (Session, error) {
	if err := validation.Struct(request); err != nil {
		return Session{}, err
	}
	email := normalizeEmail(request.Email)
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return Session{}, validation.NewError("email", "email must contain @ and .")
	}

	account, err := s.accountBy(ctx, opSignIn, "email = ?", email)
	if errors.Is(err, ErrAccountNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if account.PasswordHash == "" || s.hasher.Verify(request.Password, account.PasswordHash) != nil {
		s.logger.Info("sign in rejected", zap.String("operation", opSignIn), zap.String("user_id", account.ID))
		return Session{}, ErrInvalidCredentials
	}
	if !account.EmailVerified {
		s.sendVerification(ctx, opSignIn, account)
		return Session{}, ErrEmailNotVerified
	}
	return s.issueSession(opSignIn, account)
}

// SignOut ends the user's session and notifies listeners.
func (s *Service) SignOut(_ context.Context, userID string) error {
	userID = normalize(userID)
	if userID == "" {
		return newServiceError(opSignOut, "missing_user", ErrInvalidIdentity)
	}
	if s.events != nil {
		s.events.PublishSignedOut(userID)
	}
	return nil
}

// ResendVerification sends another verification mail to the account's address.
func (s *Service) ResendVerification(ctx context.Context, userID string) error {
	account, err := s.accountBy(ctx, opVerifyEmail, "id = ?", normalize(userID))
	if err != nil {
		return err
	}
	if account.EmailVerified {
		return nil
	}
	s.sendVerification(ctx, opVerifyEmail, account)
	return nil
}

// VerifyEmail redeems a verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) (Profile, error) {
	claims, err := s.tokens.Validate(token, auth.PurposeVerifyEmail)
	if err != nil {
		s.logger.Info("verification token rejected", zap.String("operation", opVerifyEmail), zap.Error(err))
		return Profile{}, err
	}
	account, err := s.accountBy(ctx, opVerifyEmail, "id = ?", claims.Subject)
	if err != nil {
		return Profile{}, err
	}
	if account.EmailVerified {
		return account.profile(), nil
	}
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("id = ?", account.ID).Update("email_verified", true).Error; err != nil {
		s.logError(opVerifyEmail, "write_failed", err, zap.String("user_id", account.ID))
		return Profile{}, newServiceError(opVerifyEmail, "write_failed", err)
	}
	account.EmailVerified = true
	return account.profile(), nil
}

// SendPasswordReset mails a reset link. Unknown addresses succeed silently.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return validation.NewError("email", "email is required")
	}
	account, err := s.accountBy(ctx, opSendReset, "email = ?", email)
	if errors.Is(err, ErrAccountNotFound) {
		s.logger.Info("password reset for unknown email", zap.String("operation", opSendReset))
		return nil
	}
	if err != nil {
		return err
	}
	token, err := s.tokens.Issue(account.ID, auth.PurposeResetPassword)
	if err != nil {
		s.logError(opSendReset, "token_failed", err, zap.String("user_id", account.ID))
		return newServiceError(opSendReset, "token_failed", err)
	}
	if err := s.mailer.SendPasswordResetEmail(ctx, account.Email, token.Value); err != nil {
		s.logError(opSendReset, "mail_failed", err, zap.String("user_id", account.ID))
		return newServiceError(opSendReset, "mail_failed", err)
	}
	return nil
}

// ResetPassword redeems a reset token and stores newPassword.
func (s *Service) ResetPassword(ctx context.Context, token string, newPassword string) error {
	if len(newPassword) < minimumPasswordSize {
		return validation.NewError("password", fmt.Sprintf("password must be at least %d characters long", minimumPasswordSize))
	}
	claims, err := s.tokens.Validate(token, auth.PurposeResetPassword)
	if err != nil {
		s.logger.Info("reset token rejected", zap.String("operation", opResetPassword), zap.Error(err))
		return err
	}
	account, err := s.accountBy(ctx, opResetPassword, "id = ?", claims.Subject)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.logError(opResetPassword, "hash_failed", err, zap.String("user_id", account.ID))
		return newServiceError(opResetPassword, "hash_failed", err)
	}
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("id = ?", account.ID).Update("password_hash", hash).Error; err != nil {
		s.logError(opResetPassword, "write_failed", err, zap.String("user_id", account.ID))
		return newServiceError(opResetPassword, "write_failed", err)
	}
	return nil
}

// CurrentUser returns the profile of userID.
func (s *Service) CurrentUser(ctx context.Context, userID string) (Profile, error) {
	account, err := s.accountBy(ctx, opCurrentUser, "id = ?", normalize(userID))
	if err != nil {
		return Profile{}, err
	}
	return account.profile(), nil
}

// UpdateProfile applies the non-nil fields of update.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (Profile, error) {
	if err := validation.Struct(update); err != nil {
		return Profile{}, err
	}
	account, err := s.accountBy(ctx, opUpdateProfile, "id = ?", normalize(userID))
	if err != nil {
		return Profile{}, err
	}

	changes := map[string]interface{}{}
	if update.FirstName != nil {
		account.FirstName = normalize(*update.FirstName)
		changes["first_name"] = account.FirstName
	}
	if update.Surname != nil {
		account.Surname = normalize(*update.Surname)
		changes["surname"] = account.Surname
	}
	if update.MailingList != nil {
		account.MailingList = *update.MailingList
		changes["mailing_list"] = account.MailingList
	}
	if len(changes) == 0 {
		return account.profile(), nil
	}
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("id = ?", account.ID).Updates(changes).Error; err != nil {
		s.logError(opUpdateProfile, "write_failed", err, zap.String("user_id", account.ID))
		return Profile{}, newServiceError(opUpdateProfile, "write_failed", err)
	}
	return account.profile(), nil
}

// ToggleFavourite adds value to the user's favourites or removes it when present.
func (s *Service) ToggleFavourite(ctx context.Context, userID string, value string) ([]string, error) {
	value = normalize(value)
	if value == "" {
		return nil, validation.NewError("exerciseType", "exerciseType is required")
	}
	var favourites []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account Account
		if err := tx.Where("id = ?", normalize(userID)).First(&account).Error; err != nil {
			return err
		}
		favourites = toggleMembership(account.favourites(), value)
		encoded, err := json.Marshal(favourites)
		if err != nil {
			return err
		}
		return tx.Model(&Account{}).Where("id = ?", account.ID).Update("favourites_json", string(encoded)).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		s.logError(opToggleFavourite, "write_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opToggleFavourite, "write_failed", err)
	}
	return favourites, nil
}

func toggleMembership(values []string, value string) []string {
	result := make([]string, 0, len(values)+1)
	removed := false
	for _, existing := range values {
		if existing == value {
			removed = true
			continue
		}
		result = append(result, existing)
	}
	if !removed {
		result = append(result, value)
	}
	return result
}

// SubscriptionStatus returns the persisted subscription status of userID.
func (s *Service) SubscriptionStatus(ctx context.Context, userID string) (SubscriptionStatus, error) {
	account, err := s.accountBy(ctx, opSubscription, "id = ?", normalize(userID))
	if err != nil {
		return "", err
	}
	if account.SubscriptionStatus == "" {
		return StatusBasic, nil
	}
	return SubscriptionStatus(account.SubscriptionStatus), nil
}

// SetSubscriptionStatus persists status on the account.
func (s *Service) SetSubscriptionStatus(ctx context.Context, userID string, status SubscriptionStatus) error {
	result := s.db.WithContext(ctx).Model(&Account{}).Where("id = ?", normalize(userID)).Update("subscription_status", string(status))
	if result.Error != nil {
		s.logError(opSubscription, "write_failed", result.Error, zap.String("user_id", userID))
		return newServiceError(opSubscription, "write_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ResolveExternalIdentity links a verified third-party identity to an account, creating the
// account on first sign-in, and issues a session.
func (s *Service) ResolveExternalIdentity(ctx context.Context, claims auth.IdentityClaims) (Session, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return Session{}, ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if userID, ok := cached.(string); ok {
			account, err := s.accountBy(ctx, opResolveIdentity, "id = ?", userID)
			if err == nil {
				s.touchIdentity(ctx, provider, subject)
				return s.issueSession(opResolveIdentity, account)
			}
			s.cache.Delete(cacheKey)
		}
	}

	var account Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var identity Identity
		lookupErr := tx.Where("provider = ? AND subject = ?", provider, subject).First(&identity).Error
		if lookupErr == nil {
			return tx.Where("id = ?", identity.UserID).First(&account).Error
		}
		if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			return lookupErr
		}

		email := normalizeEmail(claims.Email)
		if email == "" {
			return ErrInvalidIdentity
		}
		findErr := tx.Where("email = ?", email).First(&account).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			accountID, idErr := uuid.NewV7()
			if idErr != nil {
				return idErr
			}
			account = Account{
				ID:                 accountID.String(),
				Email:              email,
				EmailVerified:      true,
				AgreedToTerms:      true,
				SubscriptionStatus: string(StatusBasic),
				FavouritesJSON:     "[]",
				JoinedAt:           s.now().UTC(),
			}
			if createErr := tx.Create(&account).Error; createErr != nil {
				return createErr
			}
		case findErr != nil:
			return findErr
		case !claims.EmailVerified:
			return ErrInvalidIdentity
		}

		identity = Identity{
			Provider:   provider,
			Subject:    subject,
			UserID:     account.ID,
			Email:      email,
			LastSeenAt: s.now().UTC(),
		}
		return tx.Create(&identity).Error
	})
	if errors.Is(err, ErrInvalidIdentity) {
		return Session{}, ErrInvalidIdentity
	}
	if err != nil {
		s.logError(opResolveIdentity, "write_failed", err, zap.String("provider", provider))
		return Session{}, newServiceError(opResolveIdentity, "write_failed", err)
	}

	s.cache.Store(cacheKey, account.ID)
	return s.issueSession(opResolveIdentity, account)
}

func (s *Service) touchIdentity(ctx context.Context, provider, subject string) {
	err := s.db.WithContext(ctx).Model(&Identity{}).
		Where("provider = ? AND subject = ?", provider, subject).
		Update("last_seen_at", s.now().UTC()).
		Error
	if err != nil {
		s.logger.Warn("identity touch failed", zap.String("provider", provider), zap.Error(err))
	}
}

// deriveProviderSubject names the provider by its issuer host so that
// "https://accounts.google.com" and "accounts.google.com" collapse to one provider.
func deriveProviderSubject(claims auth.IdentityClaims) (string, string) {
	issuer := normalize(claims.Issuer)
	provider := issuer
	if parsed, err := url.Parse(issuer); err == nil && parsed.Host != "" {
		provider = parsed.Host
	}
	if provider == "" {
		provider = "default"
	}
	return strings.ToLower(provider), normalize(claims.Subject)
}

func (s *Service) issueSession(operation string, account Account) (Session, error) {
	token, err := s.tokens.Issue(account.ID, auth.PurposeSession)
	if err != nil {
		s.logError(operation, "token_failed", err, zap.String("user_id", account.ID))
		return Session{}, newServiceError(operation, "token_failed", err)
	}
	return Session{Token: token.Value, ExpiresAt: token.ExpiresAt, Profile: account.profile()}, nil
}

func (s *Service) sendVerification(ctx context.Context, operation string, account Account) {
	token, err := s.tokens.Issue(account.ID, auth.PurposeVerifyEmail)
	if err != nil {
		s.logError(operation, "token_failed", err, zap.String("user_id", account.ID))
		return
	}
	if err := s.mailer.SendVerificationEmail(ctx, account.Email, token.Value); err != nil {
		s.logError(operation, "mail_failed", err, zap.String("user_id", account.ID))
	}
}

func (s *Service) accountBy(ctx context.Context, operation string, query string, value string) (Account, error) {
	if value == "" {
		return Account{}, ErrAccountNotFound
	}
	var account Account
	err := s.db.WithContext(ctx).Where(query, value).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		s.logError(operation, "read_failed", err)
		return Account{}, newServiceError(operation, "read_failed", err)
	}
	return account, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s.logger == nil || err == nil {
		return
	}
	logFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error(logMessageFail, logFields...)
}
