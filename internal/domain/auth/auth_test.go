package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

func newManager(now time.Time) *TokenManager {
	m := NewTokenManager("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour)
	m.now = func() time.Time { return now }
	return m
}

// ============================================================================
// TokenManager
// ============================================================================

func TestTokenManager_RoundTrip(t *testing.T) {
	m := newManager(time.Now())
	user, owner := uuid.New(), uuid.New()

	pair, err := m.GenerateTokenPair(user, owner, "a@b.c")
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.String(), claims.UserID)
	assert.Equal(t, owner.String(), claims.OwnerID)

	_, err = m.ValidateAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "refresh token is not an access token")

	_, err = m.ValidateRefreshToken(pair.RefreshToken)
	assert.NoError(t, err)

	other := NewTokenManager("other", "other", time.Minute, time.Minute)
	_, err = other.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateAccessToken("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_Expired(t *testing.T) {
	issued := time.Now().Add(-time.Hour)
	pair, err := newManager(issued).GenerateTokenPair(uuid.New(), uuid.New(), "")
	require.NoError(t, err)

	_, err = newManager(time.Now()).ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

// ============================================================================
// Session resolution
// ============================================================================

func TestResolve_RefreshesOnce(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	user, owner := uuid.New(), uuid.New()
	pair, err := newManager(start).GenerateTokenPair(user, owner, "a@b.c")
	require.NoError(t, err)

	session := NewTokenSession(newManager(time.Now()), pair.AccessToken, pair.RefreshToken, nil)

	_, err = session.CurrentUser(context.Background())
	require.ErrorIs(t, err, catalog.ErrUnauthenticated)

	p, err := Resolve(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, user, p.UserID)
	assert.Equal(t, owner, p.Owner)
	assert.Equal(t, "a@b.c", p.Email)
}

type stubSession struct {
	currentErr []error
	refreshErr error
	refreshes  int
	calls      int
}

func (s *stubSession) CurrentUser(context.Context) (catalog.Principal, error) {
	i := s.calls
	s.calls++
	if i < len(s.currentErr) && s.currentErr[i] != nil {
		return catalog.Principal{}, s.currentErr[i]
	}
	return catalog.Principal{UserID: uuid.New()}, nil
}

func (s *stubSession) Refresh(context.Context) error {
	s.refreshes++
	return s.refreshErr
}

func TestResolve_FailFast(t *testing.T) {
	tests := []struct {
		name          string
		session       *stubSession
		wantRefreshes int
	}{
		{"refresh fails", &stubSession{currentErr: []error{catalog.ErrUnauthenticated}, refreshErr: errors.New("revoked")}, 1},
		{"still unauthenticated after refresh", &stubSession{currentErr: []error{catalog.ErrUnauthenticated, catalog.ErrUnauthenticated}}, 1},
		{"provider broken", &stubSession{currentErr: []error{errors.New("network down")}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(context.Background(), tt.session)
			var authErr *catalog.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.wantRefreshes, tt.session.refreshes)
		})
	}
}
