package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

// TokenSession implements catalog.SessionProvider over a held token pair.
// Refresh rotates the pair with the refresh token.
type TokenSession struct {
	mu     sync.Mutex
	tokens *TokenManager
	pair   TokenPair
	logger *slog.Logger
}

// NewTokenSession creates a session from tokens issued earlier.
func NewTokenSession(tokens *TokenManager, accessToken, refreshToken string, logger *slog.Logger) *TokenSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenSession{
		tokens: tokens,
		pair:   TokenPair{AccessToken: accessToken, RefreshToken: refreshToken},
		logger: logger,
	}
}

// CurrentUser returns the principal of the held access token.
func (s *TokenSession) CurrentUser(_ context.Context) (catalog.Principal, error) {
	s.mu.Lock()
	access := s.pair.AccessToken
	s.mu.Unlock()

	claims, err := s.tokens.ValidateAccessToken(access)
	if err != nil {
		return catalog.Principal{}, fmt.Errorf("%w: %v", catalog.ErrUnauthenticated, err)
	}
	return principal(claims)
}

// Refresh exchanges the refresh token for a new pair.
func (s *TokenSession) Refresh(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	claims, err := s.tokens.ValidateRefreshToken(s.pair.RefreshToken)
	if err != nil {
		return fmt.Errorf("%w: refresh: %v", catalog.ErrUnauthenticated, err)
	}
	p, err := principal(claims)
	if err != nil {
		return err
	}
	pair, err := s.tokens.GenerateTokenPair(p.UserID, p.Owner, claims.Email)
	if err != nil {
		return err
	}
	s.pair = *pair
	s.logger.Info("session refreshed", "user_id", p.UserID)
	return nil
}

func principal(c *Claims) (catalog.Principal, error) {
	userID, err := uuid.Parse(c.UserID)
	if err != nil {
		return catalog.Principal{}, fmt.Errorf("%w: bad user id", catalog.ErrUnauthenticated)
	}
	owner := userID
	if c.OwnerID != "" {
		if owner, err = uuid.Parse(c.OwnerID); err != nil {
			return catalog.Principal{}, fmt.Errorf("%w: bad owner id", catalog.ErrUnauthenticated)
		}
	}
	return catalog.Principal{UserID: userID, Owner: owner, Email: c.Email}, nil
}

// Resolve returns the current principal, refreshing the session at most once.
func Resolve(ctx context.Context, sp catalog.SessionProvider) (catalog.Principal, error) {
	p, err := sp.CurrentUser(ctx)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, catalog.ErrUnauthenticated) {
		return catalog.Principal{}, &catalog.AuthError{Err: err}
	}
	if rerr := sp.Refresh(ctx); rerr != nil {
		return catalog.Principal{}, &catalog.AuthError{Err: errors.Join(err, rerr)}
	}
	p, err = sp.CurrentUser(ctx)
	if err != nil {
		return catalog.Principal{}, &catalog.AuthError{Err: err}
	}
	return p, nil
}
