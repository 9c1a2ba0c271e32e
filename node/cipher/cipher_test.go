package cipher

import (
	"bytes"
	"testing"

	"github.com/brocaar/lorawan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = lorawan.AES128Key{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}

func TestUnkeyedPassThrough(t *testing.T) {
	var c Cipher
	assert.Equal(t, Unkeyed, c.State())

	in := []byte("hello")
	out, err := c.Seal(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRoundTrip(t *testing.T) {
	var c Cipher
	c.SetKey(testKey)
	require.Equal(t, Keyed, c.State())

	for size := 0; size <= 255; size++ {
		in := make([]byte, size)
		for i := range in {
			in[i] = byte(i * 7)
		}

		sealed, err := c.Seal(in)
		require.NoError(t, err)
		require.Len(t, sealed, size)
		if size >= 4 {
			assert.False(t, bytes.Equal(in, sealed), "size %d was not transformed", size)
		}

		opened, err := c.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, in, opened, "size %d", size)
	}
}

func TestSealDoesNotMutateInput(t *testing.T) {
	var c Cipher
	c.SetKey(testKey)
	in := []byte{1, 2, 3, 4, 5}
	_, err := c.Seal(in)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, in)
}

func TestFixedKeystream(t *testing.T) {
	var c Cipher
	c.SetKey(testKey)

	// Same plaintext always yields the same ciphertext.
	a, _ := c.Seal([]byte("ping"))
	b, _ := c.Seal([]byte("ping"))
	assert.Equal(t, a, b)

	want, err := lorawan.EncryptFRMPayload(testKey, false, lorawan.DevAddr{0xDF, 0xDF, 0xDF, 0xDF}, 0x66, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, want, a)
}

func TestRekeyStaysKeyed(t *testing.T) {
	var c Cipher
	c.SetKey(testKey)
	first, _ := c.Seal([]byte("data"))

	c.SetKey(lorawan.AES128Key{})
	assert.Equal(t, Keyed, c.State())
	second, _ := c.Seal([]byte("data"))
	assert.NotEqual(t, first, second)
}
