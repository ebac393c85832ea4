package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/shared-calendar/models"
)

func TestToken_RoundTrip(t *testing.T) {
	user := &models.User{ID: primitive.NewObjectID(), Username: "ada", Role: models.RoleAdmin}
	raw, err := GenerateToken("secret", time.Hour, user)
	require.NoError(t, err)

	claims, err := ParseToken("secret", raw)
	require.NoError(t, err)
	assert.Equal(t, user.ID.Hex(), claims.UserID)
	assert.Equal(t, "ada", claims.Username)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	_, err = ParseToken("other", raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestToken_Expired(t *testing.T) {
	user := &models.User{ID: primitive.NewObjectID(), Username: "ada"}
	raw, err := GenerateToken("secret", -time.Minute, user)
	require.NoError(t, err)
	_, err = ParseToken("secret", raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestToken_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{Username: "ada"})
	raw, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ParseToken("secret", raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateETag(t *testing.T) {
	id := primitive.NewObjectID()
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	a := GenerateETag(id, at)
	assert.Equal(t, a, GenerateETag(id, at))
	assert.NotEqual(t, a, GenerateETag(id, at.Add(time.Millisecond)))
	assert.Regexp(t, `^"[0-9a-f]{40}"$`, a)
}

func TestWindowETagAndLastModified(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	base := &models.Event{UpdatedAt: newer}
	occs := []models.Occurrence{
		{ID: "a", UpdatedAt: older},
		{ID: "b::2024-01-08", BaseEvent: base},
	}

	tag := WindowETag("2024-01-01/2024-01-31", occs)
	assert.Equal(t, tag, WindowETag("2024-01-01/2024-01-31", occs))
	assert.NotEqual(t, tag, WindowETag("2024-02-01/2024-02-29", occs))
	assert.NotEqual(t, tag, WindowETag("2024-01-01/2024-01-31", occs[:1]))

	assert.Equal(t, newer, LastModified(occs))
	assert.True(t, LastModified(nil).IsZero())
}

func TestExtractPublicID(t *testing.T) {
	cases := map[string]string{
		"https://res.cloudinary.com/demo/image/upload/v1234567890/events/abc123.jpg": "events/abc123",
		"https://res.cloudinary.com/demo/image/upload/events/abc123.png":             "events/abc123",
		"https://res.cloudinary.com/demo/image/upload/sample.jpg":                    "sample",
	}
	for in, want := range cases {
		got, err := extractPublicID(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"https://example.com/photo.jpg", "https://res.cloudinary.com/demo/image/upload/"} {
		_, err := extractPublicID(bad)
		assert.Error(t, err, bad)
	}
}
