// Package cryptocore implements the pairing protocol's key derivation and
// message framing. None of its inputs or outputs ever reach the server: a
// client imports this package to derive k_sig/k_mac/SAS locally and to
// seal/open handshake payloads before they are handed to the mailbox store
// as opaque ciphertext.
package cryptocore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	secretLen = 32
	nonceLen  = 24
	sasLen    = 16 // hex chars
)

var (
	infoSig = []byte("pairing-sig-v1")
	infoMAC = []byte("pairing-mac-v1")
	infoSAS = []byte("pairing-sas-v1")
)

// ErrDecrypt is returned when a ciphertext fails authentication, whether due
// to a bit flip, truncation, or use of the wrong key.
var ErrDecrypt = errors.New("cryptocore: message authentication failed")

// Secret is the 256-bit high-entropy value shared out-of-band (in the
// link's URL fragment). It never touches the server.
type Secret [secretLen]byte

// GenerateSecret produces a fresh random secret.
func GenerateSecret() (Secret, error) {
	var s Secret
	if _, err := io.ReadFull(rand.Reader, s[:]); err != nil {
		return Secret{}, err
	}
	return s, nil
}

// ParseSecretHex decodes a hex-encoded secret as carried in a link fragment.
func ParseSecretHex(s string) (Secret, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Secret{}, err
	}
	if len(b) != secretLen {
		return Secret{}, errors.New("cryptocore: secret must be 32 bytes")
	}
	var out Secret
	copy(out[:], b)
	return out, nil
}

func (s Secret) Hex() string { return hex.EncodeToString(s[:]) }

// Material is the set of values a client derives locally from the shared
// secret. KSig and KMac are raw 32-byte keys and are not hex-encoded; only
// SAS is returned as a hex string.
type Material struct {
	KSig [32]byte
	KMac [32]byte
	SAS  string
}

// Derive expands secret into k_sig, k_mac and a short authentication string
// using HKDF-SHA256 with a zero salt and fixed, purpose-scoped info strings.
func Derive(secret Secret) (Material, error) {
	var m Material

	if err := expand(secret, infoSig, m.KSig[:]); err != nil {
		return Material{}, err
	}
	if err := expand(secret, infoMAC, m.KMac[:]); err != nil {
		return Material{}, err
	}

	sasBytes := make([]byte, sasLen/2)
	if err := expand(secret, infoSAS, sasBytes); err != nil {
		return Material{}, err
	}
	m.SAS = hex.EncodeToString(sasBytes)[:sasLen]

	return m, nil
}

func expand(secret Secret, info []byte, out []byte) error {
	r := hkdf.New(sha256.New, secret[:], nil, info)
	_, err := io.ReadFull(r, out)
	return err
}

// Encrypt seals plaintext under key using a fresh random nonce, prepended to
// the returned ciphertext. The result is hex-free binary; callers base64url
// encode it for wire transport (the server only ever sees the encoded blob).
func Encrypt(key [32]byte, plaintext []byte) ([]byte, error) {
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &key), nil
}

// Decrypt authenticates and opens a ciphertext produced by Encrypt. It fails
// closed on any tampering, including a single flipped bit.
func Decrypt(key [32]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceLen {
		return nil, ErrDecrypt
	}
	var nonce [nonceLen]byte
	copy(nonce[:], ciphertext[:nonceLen])

	out, ok := secretbox.Open(nil, ciphertext[nonceLen:], &nonce, &key)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}
