package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/buildgate/buildgate/internal/models"
	"github.com/buildgate/buildgate/internal/storage"
)

// TokenService handles refresh token operations.
type TokenService struct {
	storage storage.Storage
	ttl     time.Duration
}

// NewTokenService creates a new token service.
func NewTokenService(store storage.Storage, ttl time.Duration) *TokenService {
	return &TokenService{
		storage: store,
		ttl:     ttl,
	}
}

// CreateRefreshToken creates and stores a new refresh token for the
// account. Returns the plaintext token to send to the client.
func (s *TokenService) CreateRefreshToken(ctx context.Context, accountID string) (string, error) {
	token, plainToken, err := models.NewRefreshToken(accountID, s.ttl)
	if err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}

	if err := s.storage.Tokens().Create(ctx, token); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}

	return plainToken, nil
}

// ValidateRefreshToken validates a refresh token and returns the account.
// Tokens held by accounts that are no longer active are refused.
func (s *TokenService) ValidateRefreshToken(ctx context.Context, plainToken string) (*models.Account, error) {
	tokenHash := models.HashToken(plainToken)

	token, err := s.storage.Tokens().GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	if token == nil {
		return nil, fmt.Errorf("token not found")
	}

	if !token.IsValid() {
		return nil, fmt.Errorf("token expired or revoked")
	}

	account, err := s.storage.Accounts().GetByID(ctx, token.AccountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("account not found")
	}
	if !account.IsActive() {
		return nil, fmt.Errorf("account not active")
	}

	return account, nil
}

// RevokeRefreshToken revokes a refresh token.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, plainToken string) error {
	tokenHash := models.HashToken(plainToken)
	return s.storage.Tokens().RevokeByTokenHash(ctx, tokenHash)
}

// RevokeAllAccountTokens revokes all refresh tokens for an account.
func (s *TokenService) RevokeAllAccountTokens(ctx context.Context, accountID string) error {
	return s.storage.Tokens().RevokeAllForUser(ctx, accountID)
}

// RotateRefreshToken revokes the old token and creates a new one.
// Returns the new plaintext token.
func (s *TokenService) RotateRefreshToken(ctx context.Context, oldPlainToken string, accountID string) (string, error) {
	// The old token may already be revoked; rotation proceeds anyway.
	_ = s.RevokeRefreshToken(ctx, oldPlainToken)

	return s.CreateRefreshToken(ctx, accountID)
}

// CleanupExpiredTokens removes expired tokens from storage.
func (s *TokenService) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	return s.storage.Tokens().DeleteExpired(ctx)
}

// TTL returns the refresh token time-to-live.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}
