package password

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArgon2Options() Argon2Options {
	return Argon2Options{MemoryKB: 8 * 1024, Time: 1, Threads: 1}
}

func TestArgon2iRoundTrip(t *testing.T) {
	enc, err := NewArgon2i(testArgon2Options())
	require.NoError(t, err)

	hash, err := enc.Encode("hunter2hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2i$"))

	assert.True(t, enc.IsValid(hash, "hunter2hunter2"))
	assert.False(t, enc.IsValid(hash, "hunter2hunter3"))
	assert.False(t, enc.NeedsRehash(hash))
}

func TestArgon2iSaltedHashesDiffer(t *testing.T) {
	enc, err := NewArgon2i(testArgon2Options())
	require.NoError(t, err)

	h1, err := enc.Encode("same input")
	require.NoError(t, err)
	h2, err := enc.Encode("same input")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.True(t, enc.IsValid(h1, "same input"))
	assert.True(t, enc.IsValid(h2, "same input"))
}

func TestArgon2iLengthCap(t *testing.T) {
	enc, err := NewArgon2i(testArgon2Options())
	require.NoError(t, err)

	_, err = enc.Encode(strings.Repeat("a", Argon2MaxLen+1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPasswordTooLong))

	hash, err := enc.Encode("short")
	require.NoError(t, err)
	assert.False(t, enc.IsValid(hash, strings.Repeat("a", Argon2MaxLen+1)))
}

func TestArgon2iNeedsRehashOnParameterChange(t *testing.T) {
	old, err := NewArgon2i(testArgon2Options())
	require.NoError(t, err)

	hash, err := old.Encode("secret")
	require.NoError(t, err)

	bumped, err := NewArgon2i(Argon2Options{MemoryKB: 16 * 1024, Time: 1, Threads: 1})
	require.NoError(t, err)
	assert.True(t, bumped.NeedsRehash(hash))

	moreTime, err := NewArgon2i(Argon2Options{MemoryKB: 8 * 1024, Time: 2, Threads: 1})
	require.NoError(t, err)
	assert.True(t, moreTime.NeedsRehash(hash))

	assert.True(t, old.NeedsRehash("$argon2id$v=19$m=8192,t=1,p=1$AAAA$AAAA"))
	assert.True(t, old.NeedsRehash("garbage"))
}

func TestArgon2iOptionValidation(t *testing.T) {
	// Memory below 8 KB per thread.
	_, err := NewArgon2i(Argon2Options{MemoryKB: 8, Threads: 4, Time: 1})
	assert.Error(t, err)

	// Defaults apply for zero values.
	enc, err := NewArgon2i(Argon2Options{})
	require.NoError(t, err)
	assert.Equal(t, Argon2MaxLen, enc.MaxAllowedLen())
}

func TestArgon2iRejectsMalformedHashes(t *testing.T) {
	enc, err := NewArgon2i(testArgon2Options())
	require.NoError(t, err)

	for _, encoded := range []string{
		"",
		"$argon2i$v=19$m=8192,t=1$AAAA$AAAA",    // missing parameter
		"$argon2i$v=18$m=8192,t=1,p=1$AAAA$AAAA", // wrong version
		"$scrypt$v=19$m=8192,t=1,p=1$AAAA$AAAA",  // wrong algorithm
		"$argon2i$v=19$m=8192,t=1,p=1$!!$AAAA",   // bad salt encoding
	} {
		assert.False(t, enc.IsValid(encoded, "anything"), encoded)
	}
}
