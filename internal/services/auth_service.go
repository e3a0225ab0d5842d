package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/stuffguard/internal/auth"
	"github.com/BradenHooton/stuffguard/internal/models"
	pkgauth "github.com/BradenHooton/stuffguard/pkg/auth"
	pkglogger "github.com/BradenHooton/stuffguard/pkg/logger"
)

// AccountRepository defines the account store operations used by login
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	SetTOTPSecret(ctx context.Context, id string, secret, nonce []byte) error
	TouchTOTP(ctx context.Context, id string, at time.Time) error
}

// TokenIssuer issues session credentials
type TokenIssuer interface {
	GenerateAccessToken(account *models.Account) (string, error)
	AccessTokenExpiry() time.Duration
}

// TOTPProvider enrolls and validates second factors
type TOTPProvider interface {
	Enroll(accountName string) (*auth.TOTPEnrollment, error)
	ValidateCode(encrypted, nonce []byte, code string, lastUsedAt *time.Time, now time.Time) (bool, error)
}

// TokenRevoker ends session credentials before they expire
type TokenRevoker interface {
	RevokeToken(ctx context.Context, jti, accountID string, expiresAt time.Time, reason string) error
}

// LoginInput is one login attempt as seen by the HTTP layer
type LoginInput struct {
	Username              string
	Password              string
	TOTPCode              string
	ClientIP              string
	UsedSessionCredential bool
}

// AuthService composes account lockout, credential checks, MFA and the
// Scorer into the login flow.
type AuthService struct {
	accounts   AccountRepository
	policies   *PolicyService
	scorer     *ScoreService
	security   EnforcementState
	tokens     TokenIssuer
	revoker    TokenRevoker
	totp       TOTPProvider
	timing     *auth.TimingDelay
	logger     *slog.Logger
	audit      *pkglogger.AuditLogger
	bcryptCost int
	now        func() time.Time
}

func NewAuthService(accounts AccountRepository, policies *PolicyService, scorer *ScoreService, security EnforcementState, tokens TokenIssuer, logger *slog.Logger, audit *pkglogger.AuditLogger) *AuthService {
	return &AuthService{
		accounts:   accounts,
		policies:   policies,
		scorer:     scorer,
		security:   security,
		tokens:     tokens,
		logger:     logger,
		audit:      audit,
		bcryptCost: pkgauth.BcryptCost,
		now:        time.Now,
	}
}

// SetRevoker enables logout
func (s *AuthService) SetRevoker(revoker TokenRevoker) {
	s.revoker = revoker
}

// SetTOTP enables MFA enforcement and enrollment
func (s *AuthService) SetTOTP(totp TOTPProvider) {
	s.totp = totp
}

func (s *AuthService) SetTimingDelay(td *auth.TimingDelay) {
	s.timing = td
}

// SetBcryptCost overrides the hashing cost for new passwords (tests)
func (s *AuthService) SetBcryptCost(cost int) {
	s.bcryptCost = cost
}

// Register creates an account with the user role
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.Account, error) {
	return s.createAccount(ctx, username, password, models.RoleUser)
}

// EnsureAccount creates the account if the username is free. Used to
// bootstrap the operator account at startup.
func (s *AuthService) EnsureAccount(ctx context.Context, username, password, role string) (*models.Account, bool, error) {
	existing, err := s.accounts.GetByUsername(ctx, strings.TrimSpace(username))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	account, err := s.createAccount(ctx, username, password, role)
	if err != nil {
		return nil, false, err
	}
	return account, true, nil
}

func (s *AuthService) createAccount(ctx context.Context, username, password, role string) (*models.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", models.ErrValidation)
	}
	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	hash, err := pkgauth.HashPasswordWithCost(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.Create(ctx, &models.Account{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create account", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("account registered", slog.String("account_id", account.ID))
	return account, nil
}

// Login checks the account lockout first, then the password, then the
// second factor. A locked account yields ErrRateLimited whatever the password.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*models.LoginResult, error) {
	start := s.now()

	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", models.ErrValidation)
	}

	account, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to load account", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		pkgauth.DummyCompare(in.Password)
		return nil, s.loginFailed(ctx, in, nil, 0, models.DetailFailedLogin, start)
	}

	policy, err := s.policies.PolicyFor(ctx, account)
	if err != nil {
		return nil, err
	}

	if s.enforced(ctx) && s.policies.IsAccountRateLimited(account.ID, policy.FailedAttemptsLimit) {
		s.timing.WaitFrom(start, false)
		s.audit.LogAuthAttempt("login", username, in.ClientIP, false, "account_locked")
		return nil, models.ErrRateLimited
	}

	match, err := pkgauth.PasswordMatches(account.PasswordHash, in.Password)
	if err != nil {
		s.logger.Error("failed to verify password", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !match {
		return nil, s.loginFailed(ctx, in, account, policy.FailedAttemptsLimit, models.DetailFailedLogin, start)
	}

	if policy.MFARequired {
		if err := s.checkSecondFactor(ctx, account, in.TOTPCode); err != nil {
			if errors.Is(err, models.ErrInvalidCredentials) {
				return nil, s.loginFailed(ctx, in, account, policy.FailedAttemptsLimit, models.DetailInvalidMFACode, start)
			}
			return nil, err
		}
	}

	if _, err := s.scorer.Score(ctx, models.ScoreInput{
		ClientIP:              in.ClientIP,
		Success:               true,
		AccountID:             account.ID,
		AccountFailLimit:      policy.FailedAttemptsLimit,
		UsedSessionCredential: in.UsedSessionCredential,
	}); err != nil {
		s.logger.Warn("login success not scored", slog.Any("error", err))
	}

	token, err := s.tokens.GenerateAccessToken(account)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.timing.WaitFrom(start, true)
	s.audit.LogAuthAttempt("login", username, in.ClientIP, true, "")

	return &models.LoginResult{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokens.AccessTokenExpiry().Seconds()),
	}, nil
}

// checkSecondFactor returns ErrMFARequired when no code was sent and
// ErrInvalidCredentials when the code is wrong or replayed. Accounts that have
// not enrolled yet are let through so they can enroll.
func (s *AuthService) checkSecondFactor(ctx context.Context, account *models.Account, code string) error {
	if !account.MFAEnrolled() {
		s.logger.Warn("mfa required but account not enrolled", slog.String("account_id", account.ID))
		return nil
	}
	if s.totp == nil {
		return models.ErrMFAUnavailable
	}
	if strings.TrimSpace(code) == "" {
		return models.ErrMFARequired
	}

	now := s.now()
	valid, err := s.totp.ValidateCode(account.TOTPSecret, account.TOTPNonce, strings.TrimSpace(code), account.TOTPLastUsedAt, now)
	if err != nil && !errors.Is(err, auth.ErrTOTPReplay) {
		s.logger.Error("failed to validate totp", slog.String("account_id", account.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !valid {
		return models.ErrInvalidCredentials
	}

	if err := s.accounts.TouchTOTP(ctx, account.ID, now); err != nil {
		s.logger.Warn("failed to record totp use", slog.String("account_id", account.ID), slog.Any("error", err))
	}
	return nil
}

func (s *AuthService) loginFailed(ctx context.Context, in LoginInput, account *models.Account, limit int, reason string, start time.Time) error {
	input := models.ScoreInput{
		ClientIP:              in.ClientIP,
		Success:               false,
		AccountFailLimit:      limit,
		UsedSessionCredential: in.UsedSessionCredential,
		Reason:                reason,
	}
	if account != nil {
		input.AccountID = account.ID
	}

	result, err := s.scorer.Score(ctx, input)
	if err != nil {
		s.logger.Warn("login failure not scored", slog.Any("error", err))
	}

	s.timing.WaitFrom(start, false)
	s.audit.LogAuthAttempt("login", in.Username, in.ClientIP, false, reason)

	if result.Blocked() {
		return models.ErrBlocked
	}
	return models.ErrInvalidCredentials
}

func (s *AuthService) enforced(ctx context.Context) bool {
	enabled, err := s.security.Enabled(ctx)
	if err != nil {
		s.logger.Warn("security state unavailable, enforcing account lockout", slog.Any("error", err))
		return true
	}
	return enabled
}

// Logout revokes the session credential described by claims. Later requests
// carrying it are treated as unauthenticated.
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims) error {
	if claims == nil || claims.ID == "" {
		return models.ErrUnauthorized
	}
	if s.revoker == nil {
		s.logger.Error("logout requested but no revocation store is configured")
		return models.ErrInternalServer
	}

	expiresAt := s.now().Add(s.tokens.AccessTokenExpiry())
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	if err := s.revoker.RevokeToken(ctx, claims.ID, claims.AccountID, expiresAt, "logout"); err != nil {
		s.logger.Error("failed to revoke session",
			slog.String("account_id", claims.AccountID),
			slog.Any("error", err))
		return err
	}

	s.logger.Info("session revoked", slog.String("account_id", claims.AccountID))
	s.audit.LogAuthAttempt("logout", claims.Username, "", true, "")
	return nil
}

// Me returns the account behind a session
func (s *AuthService) Me(ctx context.Context, accountID string) (*models.Account, error) {
	return s.accounts.GetByID(ctx, accountID)
}

// EnrollMFA generates and stores a new TOTP secret, replacing any previous one
func (s *AuthService) EnrollMFA(ctx context.Context, accountID string) (*models.MFAEnrollment, error) {
	if s.totp == nil {
		return nil, models.ErrMFAUnavailable
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.totp.Enroll(account.Username)
	if err != nil {
		s.logger.Error("failed to generate totp secret", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.accounts.SetTOTPSecret(ctx, account.ID, enrollment.EncryptedSecret, enrollment.Nonce); err != nil {
		return nil, err
	}

	s.logger.Info("mfa enrolled", slog.String("account_id", account.ID))
	return &models.MFAEnrollment{
		Secret:    enrollment.Secret,
		QRCodeURL: enrollment.QRCodeDataURL,
	}, nil
}

// AccountFailLimit resolves the lockout limit for an account id supplied to
// the scoring ingress. Unknown accounts and policy errors yield 0, which the
// scorer treats as the default limit.
func (s *AuthService) AccountFailLimit(ctx context.Context, accountID string) int {
	if accountID == "" {
		return 0
	}
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return 0
	}
	policy, err := s.policies.PolicyFor(ctx, account)
	if err != nil {
		return 0
	}
	return policy.FailedAttemptsLimit
}

// VerifyPassword is the credential verifier used by the re-auth gate
func (s *AuthService) VerifyPassword(ctx context.Context, accountID, password string) (bool, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkgauth.DummyCompare(password)
			return false, nil
		}
		return false, err
	}
	return pkgauth.PasswordMatches(account.PasswordHash, password)
}
