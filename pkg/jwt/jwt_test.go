package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	m, err := NewManager("secret", "call-service")
	require.NoError(t, err)

	token, err := m.Issue("U1", "alice", time.Minute)
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "U1", claims.Identity())
	assert.Equal(t, "alice", claims.Username)
}

func TestVerify_Errors(t *testing.T) {
	m, err := NewManager("secret", "call-service")
	require.NoError(t, err)

	expired, err := m.Issue("U1", "alice", -time.Hour)
	require.NoError(t, err)
	_, err = m.Verify(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	other, err := NewManager("other-secret", "call-service")
	require.NoError(t, err)
	forged, err := other.Issue("U1", "alice", time.Minute)
	require.NoError(t, err)
	_, err = m.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := NewManager("secret", "someone-else")
	require.NoError(t, err)
	token, err := wrongIssuer.Issue("U1", "alice", time.Minute)
	require.NoError(t, err)
	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_LegacyAndSubjectClaims(t *testing.T) {
	m, err := NewManager("secret", "")
	require.NoError(t, err)

	sign := func(c *Claims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("secret"))
		require.NoError(t, err)
		return s
	}
	exp := jwt.NewNumericDate(time.Now().Add(time.Minute))

	claims, err := m.Verify(sign(&Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}, LegacyUserID: "legacy"}))
	require.NoError(t, err)
	assert.Equal(t, "legacy", claims.Identity())

	claims, err = m.Verify(sign(&Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp, Subject: "sub"}}))
	require.NoError(t, err)
	assert.Equal(t, "sub", claims.Identity())

	_, err = m.Verify(sign(&Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}}))
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestNewManager_EmptySecret(t *testing.T) {
	_, err := NewManager("", "")
	assert.ErrorIs(t, err, ErrEmptySecret)
}
