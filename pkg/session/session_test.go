package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequire(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		wantErr bool
	}{
		{name: "no session", ctx: context.Background(), wantErr: true},
		{
			name:    "empty principal",
			ctx:     WithSession(context.Background(), &Session{Token: "t"}),
			wantErr: true,
		},
		{
			name:    "expired",
			ctx:     WithSession(context.Background(), &Session{Principal: "u", ExpiresAt: time.Now().Add(-time.Minute)}),
			wantErr: true,
		},
		{
			name: "valid",
			ctx:  WithSession(context.Background(), &Session{Principal: "u", ExpiresAt: time.Now().Add(time.Hour)}),
		},
		{
			name: "no expiry",
			ctx:  WithSession(context.Background(), &Session{Principal: "u"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Require(tt.ctx)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
				assert.Nil(t, s)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, "u", s.Principal)
		})
	}
}

func TestTokenService(t *testing.T) {
	svc := NewTokenService([]byte("test-signing-key"), "anyflow", time.Hour)

	token, err := svc.Issue("user-1", "ada")
	require.NoError(t, err)

	s, err := svc.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", s.Principal)
	assert.Equal(t, "ada", s.Username)
	assert.Equal(t, token, s.Token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.ExpiresAt, time.Minute)

	t.Run("wrong key", func(t *testing.T) {
		other := NewTokenService([]byte("another-key"), "anyflow", time.Hour)

		_, err := other.Authenticate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewTokenService([]byte("test-signing-key"), "someone-else", time.Hour)

		_, err := other.Authenticate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		expired := NewTokenService([]byte("test-signing-key"), "anyflow", -time.Minute)

		stale, err := expired.Issue("user-1", "ada")
		require.NoError(t, err)

		_, err = svc.Authenticate(stale)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Authenticate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", ExtractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", ExtractBearerToken("bearer  abc"))
	assert.Empty(t, ExtractBearerToken("Basic abc"))
	assert.Empty(t, ExtractBearerToken("Bearer "))
	assert.Empty(t, ExtractBearerToken(""))
}
