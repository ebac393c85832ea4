package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip/shared-calendar/logger"
	models "github.com/phillip/shared-calendar/models"
	"github.com/phillip/shared-calendar/repository"
)

func newAuth(t *testing.T) (*AuthService, *repository.MemoryUserRepository) {
	t.Helper()
	users := repository.NewMemoryUserRepository()
	return NewAuthService(users, "test-secret", time.Hour, logger.Discard()), users
}

func TestAuthService_Login(t *testing.T) {
	auth, users := newAuth(t)
	ctx := context.Background()

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, users.Create(ctx, &models.User{Username: "ana", Password: hash}))

	user, token, err := auth.Login(ctx, "ana", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, models.RoleGeneral, user.Role)

	claims, err := auth.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "ana", claims.Username)
	assert.Equal(t, user.ID.Hex(), claims.UserID)

	_, _, err = auth.Login(ctx, "ana", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = auth.Login(ctx, "nobody", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = auth.Login(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAuthService_LoginMigratesPlaintext(t *testing.T) {
	auth, users := newAuth(t)
	ctx := context.Background()
	require.NoError(t, users.Create(ctx, &models.User{Username: "legacy", Password: "plain", Role: models.RoleAdmin}))

	_, _, err := auth.Login(ctx, "legacy", "plain")
	require.NoError(t, err)

	stored, err := users.FindByUsername(ctx, "legacy")
	require.NoError(t, err)
	assert.True(t, isBcryptHash(stored.Password))

	// The migrated hash keeps working.
	_, _, err = auth.Login(ctx, "legacy", "plain")
	assert.NoError(t, err)
}

func TestAuthService_EnsureAdmin(t *testing.T) {
	auth, users := newAuth(t)
	ctx := context.Background()

	require.NoError(t, auth.EnsureAdmin(ctx, "root", "s3cret"))
	require.NoError(t, auth.EnsureAdmin(ctx, "root", "other"))

	user, err := users.FindByUsername(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)

	_, _, err = auth.Login(ctx, "root", "s3cret")
	assert.NoError(t, err)

	assert.NoError(t, auth.EnsureAdmin(ctx, "", ""))
}

func TestAuthService_RejectsForeignTokens(t *testing.T) {
	ctx := context.Background()
	auth, users := newAuth(t)
	other := NewAuthService(users, "other-secret", time.Hour, logger.Discard())

	hash, err := HashPassword("pw")
	require.NoError(t, err)
	require.NoError(t, users.Create(ctx, &models.User{Username: "x", Password: hash}))

	_, token, err := other.Login(ctx, "x", "pw")
	require.NoError(t, err)

	_, err = other.Authenticate(token)
	assert.NoError(t, err)
	_, err = auth.Authenticate(token)
	assert.Error(t, err)
}
