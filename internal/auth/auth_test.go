package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsvc/internal/apperr"
	"github.com/chatsvc/internal/crypto/envelope"
	"github.com/chatsvc/internal/model"
	"github.com/chatsvc/internal/repository"
)

type fakeLookup struct {
	users map[string]*model.User
}

func (f *fakeLookup) GetByID(_ context.Context, id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func signToken(t *testing.T, secret, subject string, expiry time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTVerifier(t *testing.T) {
	lookup := &fakeLookup{users: map[string]*model.User{
		"u1": {ID: "u1", Email: "u1@example.com"},
	}}
	v := NewJWTVerifier("test-secret", lookup)
	ctx := context.Background()

	user, err := v.Verify(ctx, signToken(t, "test-secret", "u1", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	_, err = v.Verify(ctx, signToken(t, "wrong-secret", "u1", time.Hour))
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))

	_, err = v.Verify(ctx, signToken(t, "test-secret", "u1", -time.Hour))
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))

	_, err = v.Verify(ctx, signToken(t, "test-secret", "ghost", time.Hour))
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))

	_, err = v.Verify(ctx, "not-a-token")
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
}

func TestRemoteVerifier(t *testing.T) {
	codec, err := envelope.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	principal := map[string]string{
		"id": "u1", "firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/validate", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		opaque, err := codec.Encrypt(principal)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]string{"data": opaque})
	}))
	defer srv.Close()

	v := NewRemoteVerifier(srv.URL, codec)
	ctx := context.Background()

	user, err := v.Verify(ctx, "good-token")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "ada@example.com", user.Email)

	_, err = v.Verify(ctx, "bad-token")
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
}

func TestRemoteVerifierForeignKey(t *testing.T) {
	codec, err := envelope.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	other, err := envelope.New("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opaque, err := other.Encrypt(map[string]string{"id": "u1", "email": "a@b.c"})
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]string{"data": opaque})
	}))
	defer srv.Close()

	_, err = NewRemoteVerifier(srv.URL, codec).Verify(context.Background(), "token")
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
}
