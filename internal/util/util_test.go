package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAES(t *testing.T) {
	key, err := RandomBytes(AESKeySize)
	require.NoError(t, err)
	plainText := []byte(`"eyJhbGciOiJIUzI1NiJ9.payload.sig"`)
	aad := []byte("credentials:access_token")

	t.Run("SealOpen", func(t *testing.T) {
		sealed, err := SealAES(plainText, key, aad)
		require.NoError(t, err)
		opened, err := OpenAES(sealed, key, aad)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(plainText, opened))
	})

	t.Run("WrongAAD", func(t *testing.T) {
		sealed, _ := SealAES(plainText, key, aad)
		_, err := OpenAES(sealed, key, []byte("credentials:refresh_token"))
		assert.Error(t, err)
	})

	t.Run("Tampered", func(t *testing.T) {
		sealed, _ := SealAES(plainText, key, aad)
		sealed[len(sealed)-1] ^= 0xFF
		_, err := OpenAES(sealed, key, aad)
		assert.Error(t, err)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := OpenAES([]byte{1, 2, 3}, key, aad)
		assert.Error(t, err)
	})

	t.Run("BadKeySize", func(t *testing.T) {
		_, err := SealAES(plainText, []byte("short"), aad)
		assert.Error(t, err)
	})
}

func TestDeriveStorageKey(t *testing.T) {
	params := Argon2idParams{Time: 1, MemoryKiB: 1024, Parallelism: 1}
	salt := []byte("0123456789abcdef")

	k1, err := DeriveStorageKey("correct horse", salt, params, "honeycomb:test")
	require.NoError(t, err)
	assert.Len(t, k1, AESKeySize)

	k2, err := DeriveStorageKey("correct horse", salt, params, "honeycomb:test")
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "derivation must be deterministic")

	k3, err := DeriveStorageKey("correct horse", salt, params, "honeycomb:other")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3, "info must separate keys")

	_, err = DeriveStorageKey("", salt, params, "x")
	assert.Error(t, err)
	_, err = DeriveStorageKey("p", nil, params, "x")
	assert.Error(t, err)
}

func TestTruncateRunes(t *testing.T) {
	cases := []struct {
		in      string
		n       int
		want    string
		wantCut bool
	}{
		{"short", 30, "short", false},
		{"Deploy the new pricing service to staging", 30, "Deploy the new pricing service", true},
		{"인수인계서를 작성해 주세요", 5, "인수인계서", true},
		{"exactly", 7, "exactly", false},
		{"", 3, "", false},
	}
	for _, c := range cases {
		got, cut := TruncateRunes(c.in, c.n)
		assert.Equal(t, c.want, got, c.in)
		assert.Equal(t, c.wantCut, cut, c.in)
	}
}

func TestNormalizeNFC(t *testing.T) {
	decomposed := "e\u0301"
	assert.Equal(t, "\u00e9", NormalizeNFC(decomposed))
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
