// Package crypto holds the token sealing, key derivation and password
// hashing primitives.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// TokenVersion prefixes every sealed token and is authenticated as AAD.
const TokenVersion byte = 0x01

const tokenOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var (
	hkdfInfoSeal   = []byte("orgdesk.token.seal.v1")
	hkdfInfoLookup = []byte("orgdesk.token.lookup.v1")
)

// ErrInvalidToken covers every reason a token cannot be opened.
var ErrInvalidToken = errors.New("crypto: invalid token")

// Sealer encrypts payloads into URL-safe opaque tokens and derives
// deterministic lookup keys. Both keys come from one secret through HKDF.
type Sealer struct {
	sealKey   []byte
	lookupKey []byte
}

func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) < keySize {
		return nil, fmt.Errorf("crypto: secret must be at least %d bytes", keySize)
	}
	sealKey, err := deriveKey(secret, hkdfInfoSeal)
	if err != nil {
		return nil, err
	}
	lookupKey, err := deriveKey(secret, hkdfInfoLookup)
	if err != nil {
		return nil, err
	}
	return &Sealer{sealKey: sealKey, lookupKey: lookupKey}, nil
}

func deriveKey(ikm, info []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, ikm, nil, info)
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("crypto: hkdf: %w", err)
	}
	return key, nil
}

func buildAAD(version byte, domain string) []byte {
	aad := make([]byte, 1+len(domain))
	aad[0] = version
	copy(aad[1:], domain)
	return aad
}

// Seal encrypts plaintext with XChaCha20-Poly1305. The domain is bound as
// AAD, so a token sealed for one purpose will not open for another.
//
//	base64url( version | nonce[24] | ciphertext+tag )
func (s *Sealer) Seal(domain string, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(s.sealKey)
	if err != nil {
		return "", fmt.Errorf("crypto: cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), tokenOverhead+len(plaintext))
	out[0] = TokenVersion
	copy(out[1:], nonce[:])
	out = aead.Seal(out, nonce[:], plaintext, buildAAD(TokenVersion, domain))

	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *Sealer) Open(domain, token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < tokenOverhead || raw[0] != TokenVersion {
		return nil, ErrInvalidToken
	}

	aead, err := chacha20poly1305.NewX(s.sealKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}

	nonce := raw[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, raw[1+chacha20poly1305.NonceSizeX:], buildAAD(raw[0], domain))
	if err != nil {
		return nil, ErrInvalidToken
	}
	return plaintext, nil
}

// LookupKey is a keyed BLAKE3 hash of value under domain. It is stable for
// a given secret and opaque without it.
func (s *Sealer) LookupKey(domain, value string) string {
	h, err := blake3.NewKeyed(s.lookupKey)
	if err != nil {
		panic("crypto: blake3 keyed hash requires a 32 byte key: " + err.Error())
	}
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}
