package crypto

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey  = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	otherKey = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
)

var cbcFormat = regexp.MustCompile(`^[0-9a-f]{32}:[0-9a-f]+$`)

func TestNewEncryptorKeyLength(t *testing.T) {
	_, err := NewEncryptor("abcd")
	assert.ErrorIs(t, err, ErrBadKey)

	_, err = NewEncryptor(strings.Repeat("zz", 32))
	assert.ErrorIs(t, err, ErrBadKey)

	_, err = NewEncryptor(testKey)
	assert.NoError(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e, err := NewEncryptor(testKey)
	require.NoError(t, err)

	payloads := []map[string]interface{}{
		{"username": "alice", "password": "s3cret"},
		{"api_key": "xyz", "nested": map[string]interface{}{"a": float64(1)}},
		{},
	}

	for _, payload := range payloads {
		plaintext, err := json.Marshal(payload)
		require.NoError(t, err)

		ciphertext, err := e.Encrypt(plaintext)
		require.NoError(t, err)
		assert.Regexp(t, cbcFormat, ciphertext)
		assert.NotContains(t, ciphertext, string(plaintext))

		decrypted, err := e.Decrypt(ciphertext)
		require.NoError(t, err)

		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(decrypted, &got))
		assert.Equal(t, payload, got)
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	e, err := NewEncryptor(testKey)
	require.NoError(t, err)
	other, err := NewEncryptor(otherKey)
	require.NoError(t, err)

	ciphertext, err := e.Encrypt([]byte(`{"token":"abc"}`))
	require.NoError(t, err)

	_, err = other.Decrypt(ciphertext)
	require.Error(t, err)
	assert.True(t, err == ErrBadKey || strings.Contains(err.Error(), "bad"),
		"wrong-key decrypt must fail with a bad-key or bad-ciphertext error, got %v", err)
}

func TestDecryptRejectsMalformedShapes(t *testing.T) {
	e, err := NewEncryptor(testKey)
	require.NoError(t, err)

	cases := []string{
		"",
		"nocolonhere",
		"abcd:efgh:ijkl:mnop",
		"zzzz:abcdef",                          // IV not hex
		"00112233445566778899aabbccddeeff:xyz", // body not hex
		"0011:aabbccddeeff00112233445566778899", // short IV
		"00112233445566778899aabbccddeeff:aabb", // not whole blocks
	}

	for _, c := range cases {
		_, err := e.Decrypt(c)
		assert.ErrorIs(t, err, ErrBadCiphertext, "shape %q", c)
	}
}

func TestGCMWriteAndDualRead(t *testing.T) {
	cbc, err := NewEncryptor(testKey)
	require.NoError(t, err)
	gcm, err := NewEncryptor(testKey, WithGCM())
	require.NoError(t, err)

	plaintext := []byte(`{"access_token":"tok"}`)

	sealed, err := gcm.Encrypt(plaintext)
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{24}:[0-9a-f]*:[0-9a-f]{32}$`, sealed)

	// Either encryptor reads either format.
	for _, e := range []*Encryptor{cbc, gcm} {
		got, err := e.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}

	legacy, err := cbc.Encrypt(plaintext)
	require.NoError(t, err)
	got, err := gcm.Decrypt(legacy)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestGCMTamperDetection(t *testing.T) {
	gcm, err := NewEncryptor(testKey, WithGCM())
	require.NoError(t, err)

	sealed, err := gcm.Encrypt([]byte(`{"a":1}`))
	require.NoError(t, err)

	// Flip a nibble in the body group.
	parts := strings.Split(sealed, ":")
	body := []byte(parts[1])
	if body[0] == 'a' {
		body[0] = 'b'
	} else {
		body[0] = 'a'
	}
	tampered := parts[0] + ":" + string(body) + ":" + parts[2]

	_, err = gcm.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrBadKey)
}
