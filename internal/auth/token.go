package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/stuffguard/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTypeAccess = "access"

// TokenRevocationChecker reports whether a credential id was revoked
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// TokenManager issues and validates HS256 session credentials
type TokenManager struct {
	secret            string
	accessTokenExpiry time.Duration
	now               func() time.Time

	revocations    TokenRevocationChecker
	revocationMode models.DegradedMode
	logger         *slog.Logger
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:            secret,
		accessTokenExpiry: accessExpiry,
		now:               time.Now,
	}
}

// SetRevocationChecker makes ValidateSession refuse revoked credentials. mode
// decides what happens when the revocation list cannot be read.
func (tm *TokenManager) SetRevocationChecker(checker TokenRevocationChecker, mode models.DegradedMode, logger *slog.Logger) {
	tm.revocations = checker
	tm.revocationMode = mode
	tm.logger = logger
}

// AccessTokenExpiry returns the configured lifetime of issued tokens
func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessTokenExpiry
}

// GenerateAccessToken creates a short-lived access token with JTI
func (tm *TokenManager) GenerateAccessToken(account *models.Account) (string, error) {
	now := tm.now()

	claims := &models.TokenClaims{
		Type:      tokenTypeAccess,
		AccountID: account.ID,
		Username:  account.Username,
		Role:      account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   account.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.accessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != tokenTypeAccess || claims.AccountID == "" {
		return nil, fmt.Errorf("invalid token: %w", models.ErrUnauthorized)
	}

	return claims, nil
}

// ValidateSession verifies a token and checks that it has not been revoked
func (tm *TokenManager) ValidateSession(ctx context.Context, tokenString string) (*models.TokenClaims, error) {
	claims, err := tm.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if tm.revocations == nil {
		return claims, nil
	}

	revoked, err := tm.revocations.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		if tm.logger != nil {
			tm.logger.Error("revocation check failed",
				slog.String("account_id", claims.AccountID),
				slog.String("mode", tm.revocationMode.String()),
				slog.Any("error", err))
		}
		if !tm.revocationMode.AllowOnUnavailable() {
			return nil, fmt.Errorf("revocation list unavailable: %w", models.ErrUnauthorized)
		}
		return claims, nil
	}
	if revoked {
		return nil, fmt.Errorf("token revoked: %w", models.ErrUnauthorized)
	}
	return claims, nil
}
