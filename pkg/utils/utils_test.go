package utils

import (
	"testing"

	"discussion_forum/internal/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	config.GlobalConfig.JWT.Secret = "0123456789abcdef0123456789abcdef"
	config.GlobalConfig.JWT.Expire = 1

	token, expireAt, err := GenerateToken("u1", "Alice")
	require.NoError(t, err)
	require.NotNil(t, expireAt)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "Alice", claims.UserName)

	config.GlobalConfig.JWT.Secret = "another-secret-another-secret-000"
	_, err = ParseToken(token)
	assert.Error(t, err)
}

func TestPaginationNormalize(t *testing.T) {
	tests := []struct {
		in, want Pagination
	}{
		{Pagination{}, Pagination{Page: 1, Limit: 10}},
		{Pagination{Page: 3, Limit: 500}, Pagination{Page: 3, Limit: 100}},
		{Pagination{Page: -1, Limit: 20}, Pagination{Page: 1, Limit: 20}},
	}
	for _, tt := range tests {
		p := tt.in
		p.Normalize()
		assert.Equal(t, tt.want, p)
	}
}
