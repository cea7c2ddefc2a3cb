package cryptox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt-value")

	key1 := DeriveKey(password, salt)
	key2 := DeriveKey(password, salt)

	assert.Len(t, key1, KeySize)
	assert.True(t, bytes.Equal(key1, key2), "same inputs must give same key")
}

func TestDeriveKey_DifferentSalts(t *testing.T) {
	password := []byte("secret-password")

	key1 := DeriveKey(password, []byte("salt-1"))
	key2 := DeriveKey(password, []byte("salt-2"))

	assert.False(t, bytes.Equal(key1, key2))
}

func TestNewSalt(t *testing.T) {
	s1, err := NewSalt()
	require.NoError(t, err)
	s2, err := NewSalt()
	require.NoError(t, err)

	assert.Len(t, s1, SaltSize)
	assert.NotEqual(t, s1, s2)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := DeriveKey([]byte("pw"), []byte("0123456789abcdef"))
	plain := []byte(`[{"id":"bug-1"}]`)

	sealed, err := Seal(plain, key)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "bug-1")

	got, err := Open(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestSeal_FreshNonceEachTime(t *testing.T) {
	key := make([]byte, KeySize)

	a, err := Seal([]byte("same"), key)
	require.NoError(t, err)
	b, err := Seal([]byte("same"), key)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOpen_WrongKey(t *testing.T) {
	key := DeriveKey([]byte("right"), []byte("0123456789abcdef"))
	other := DeriveKey([]byte("wrong"), []byte("0123456789abcdef"))

	sealed, err := Seal([]byte("payload"), key)
	require.NoError(t, err)

	_, err = Open(sealed, other)
	assert.Error(t, err)
}

func TestOpen_TooShort(t *testing.T) {
	_, err := Open([]byte{1, 2, 3}, make([]byte, KeySize))
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestSeal_BadKeySize(t *testing.T) {
	_, err := Seal([]byte("x"), []byte("short"))
	assert.Error(t, err)
}
