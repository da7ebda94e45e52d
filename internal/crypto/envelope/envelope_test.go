package envelope

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	codec, err := New("test-secret")
	require.NoError(t, err)

	cases := []any{
		map[string]any{"chatId": "abc", "content": "hello"},
		[]any{"a", float64(1), true},
		"just a string",
		float64(42),
		nil,
		map[string]any{"nested": map[string]any{"deep": []any{float64(1), float64(2)}}},
	}
	for _, in := range cases {
		opaque, err := codec.Encrypt(in)
		require.NoError(t, err)

		var out any
		require.NoError(t, codec.Decrypt(opaque, &out))
		assert.Equal(t, in, out)
	}
}

func TestEncryptNondeterministic(t *testing.T) {
	codec, err := New("test-secret")
	require.NoError(t, err)

	a, err := codec.Encrypt("same payload")
	require.NoError(t, err)
	b, err := codec.Encrypt("same payload")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per message")
}

func TestDecryptTampered(t *testing.T) {
	codec, err := New("test-secret")
	require.NoError(t, err)

	opaque, err := codec.Encrypt(map[string]string{"secret": "payload"})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(opaque)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	var out any
	err = codec.Decrypt(tampered, &out)
	assert.ErrorIs(t, err, ErrDecrypt)
	assert.Nil(t, out)
	assert.NotContains(t, err.Error(), "payload")
}

func TestDecryptForeignKey(t *testing.T) {
	a, err := New("secret-a")
	require.NoError(t, err)
	b, err := New("secret-b")
	require.NoError(t, err)

	opaque, err := a.Encrypt("cross-key")
	require.NoError(t, err)

	var out any
	assert.ErrorIs(t, b.Decrypt(opaque, &out), ErrDecrypt)
}

func TestDecryptGarbage(t *testing.T) {
	codec, err := New("test-secret")
	require.NoError(t, err)

	var out any
	assert.ErrorIs(t, codec.Decrypt("not base64 at all!!!", &out), ErrDecrypt)
	assert.ErrorIs(t, codec.Decrypt("aGVsbG8=", &out), ErrDecrypt) // too short for a nonce
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
