package callback

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_RoundTrip(t *testing.T) {
	t.Parallel()

	s := NewSigner("secret", time.Hour, "https://shop.example/")
	raw, err := s.CallbackURL("txn-1", "ORD-261016103005-AB12CD")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "shop.example", u.Host)
	assert.Equal(t, Path, u.Path)

	claims, err := s.Verify(u.Query().Get(QueryParam))
	require.NoError(t, err)
	assert.Equal(t, "txn-1", claims.TransactionID())
	assert.Equal(t, "ORD-261016103005-AB12CD", claims.OrderNumber())
}

func TestSigner_RejectsForeignSecret(t *testing.T) {
	t.Parallel()

	token, err := NewSigner("attacker", time.Hour, "").Token("txn-1", "ORD-1")
	require.NoError(t, err)

	_, err = NewSigner("secret", time.Hour, "").Verify(token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestSigner_RejectsExpired(t *testing.T) {
	t.Parallel()

	s := NewSigner("secret", time.Minute, "")
	issued := time.Now().Add(-time.Hour)
	s.now = func() time.Time { return issued }
	token, err := s.Token("txn-1", "ORD-1")
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Verify(token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestSigner_RejectsGarbage(t *testing.T) {
	t.Parallel()

	s := NewSigner("secret", time.Hour, "")
	for _, token := range []string{"", "not-a-jwt", strings.Repeat("a.", 2) + "a"} {
		_, err := s.Verify(token)
		assert.True(t, errors.Is(err, ErrInvalidToken), token)
	}
}
