package cryptocore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIsDeterministic(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	m1, err := Derive(secret)
	require.NoError(t, err)
	m2, err := Derive(secret)
	require.NoError(t, err)

	assert.Equal(t, m1.KSig, m2.KSig)
	assert.Equal(t, m1.KMac, m2.KMac)
	assert.Equal(t, m1.SAS, m2.SAS)
	assert.Len(t, m1.SAS, 16)
}

func TestDeriveDistinctSecretsDiverge(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	ma, err := Derive(a)
	require.NoError(t, err)
	mb, err := Derive(b)
	require.NoError(t, err)

	assert.NotEqual(t, ma.KSig, mb.KSig)
	assert.NotEqual(t, ma.SAS, mb.SAS)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	m, err := Derive(secret)
	require.NoError(t, err)

	plaintext := []byte("sdp offer goes here, opaque to the server")
	ct, err := Encrypt(m.KSig, plaintext)
	require.NoError(t, err)

	pt, err := Decrypt(m.KSig, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestDecryptRejectsBitFlip(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	m, err := Derive(secret)
	require.NoError(t, err)

	ct, err := Encrypt(m.KSig, []byte("hello"))
	require.NoError(t, err)

	flipped := append([]byte(nil), ct...)
	flipped[len(flipped)-1] ^= 0x01

	_, err = Decrypt(m.KSig, flipped)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestParseSecretHexRoundTrip(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	parsed, err := ParseSecretHex(secret.Hex())
	require.NoError(t, err)
	assert.Equal(t, secret, parsed)
}
