package util

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("5f0c7c4e-1111-4a2b-9c3d-000000000001", "s3cret", time.Hour)
	require.NoError(t, err)

	userID, err := ParseJWT(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "5f0c7c4e-1111-4a2b-9c3d-000000000001", userID)

	_, err = ParseJWT(token, "other")
	assert.Error(t, err)
}

func TestParseJWT_Expired(t *testing.T) {
	token, err := GenerateJWT("u-1", "s3cret", -time.Minute)
	require.NoError(t, err)

	_, err = ParseJWT(token, "s3cret")
	assert.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, ExtractToken(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", ExtractToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, ExtractToken(r))
}

func TestCheckSecret(t *testing.T) {
	hash, err := HashSecret("cron-secret")
	require.NoError(t, err)

	assert.True(t, CheckSecret("cron-secret", hash))
	assert.False(t, CheckSecret("wrong", hash))
	assert.False(t, CheckSecret("cron-secret", "not-a-hash"))
}
