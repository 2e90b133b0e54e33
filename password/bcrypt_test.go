package password

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBCryptRoundTrip(t *testing.T) {
	enc, err := NewBCrypt(BCryptOptions{Cost: 4})
	require.NoError(t, err)

	hash, err := enc.Encode("correct horse")
	require.NoError(t, err)

	assert.True(t, enc.IsValid(hash, "correct horse"))
	assert.False(t, enc.IsValid(hash, "wrong horse"))
	assert.False(t, enc.NeedsRehash(hash))
}

func TestBCryptLengthCap(t *testing.T) {
	enc, err := NewBCrypt(BCryptOptions{Cost: 4})
	require.NoError(t, err)

	_, err = enc.Encode(strings.Repeat("a", BCryptMaxLen+1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPasswordTooLong))

	// Exactly at the cap is fine.
	_, err = enc.Encode(strings.Repeat("a", BCryptMaxLen))
	assert.NoError(t, err)
}

func TestBCryptIgnoresBytesBeyond72(t *testing.T) {
	enc, err := NewBCrypt(BCryptOptions{Cost: 4})
	require.NoError(t, err)

	prefix := strings.Repeat("x", BCryptMaxLen)
	hash, err := enc.Encode(prefix)
	require.NoError(t, err)

	// Two inputs identical in their first 72 bytes validate as equal.
	assert.True(t, enc.IsValid(hash, prefix+"tail-that-does-not-matter"))
	assert.True(t, enc.IsValid(hash, prefix+"different-tail"))
	assert.False(t, enc.IsValid(hash, strings.Repeat("y", BCryptMaxLen)+"tail"))
}

func TestBCryptNeedsRehashOnCostChange(t *testing.T) {
	low, err := NewBCrypt(BCryptOptions{Cost: 4})
	require.NoError(t, err)
	high, err := NewBCrypt(BCryptOptions{Cost: 5})
	require.NoError(t, err)

	hash, err := low.Encode("secret")
	require.NoError(t, err)

	assert.False(t, low.NeedsRehash(hash))
	assert.True(t, high.NeedsRehash(hash))
	assert.True(t, high.NeedsRehash("not-a-bcrypt-hash"))
}

func TestBCryptCostValidation(t *testing.T) {
	_, err := NewBCrypt(BCryptOptions{Cost: 3})
	assert.Error(t, err)
	_, err = NewBCrypt(BCryptOptions{Cost: 32})
	assert.Error(t, err)
	_, err = NewBCrypt(BCryptOptions{})
	assert.NoError(t, err)
}
