package relay

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Sealed wire format: ephemeral X25519 public key[32] || nonce[12] ||
// ChaCha20-Poly1305 ciphertext with tag.
const (
	sealInfo       = "encode-now-sealed-v1"
	ephemeralSize  = 32
	nonceSize      = chacha20poly1305.NonceSize
	overhead       = ephemeralSize + nonceSize + chacha20poly1305.Overhead
	publicKeyBytes = ed25519.PublicKeySize
)

// ErrOpen is returned when a sealed message cannot be opened.
var ErrOpen = errors.New("relay: cannot open sealed message")

// DecodePublicKey parses a base64 Ed25519 public key as used for relay
// identities.
func DecodePublicKey(pubB64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return nil, fmt.Errorf("public key is not base64: %w", err)
	}
	if len(raw) != publicKeyBytes {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", publicKeyBytes, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// EncodePublicKey returns the base64 identity string for a public key.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

func montgomeryPublic(pub ed25519.PublicKey) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("invalid Ed25519 public key: %w", err)
	}
	return p.BytesMontgomery(), nil
}

func montgomeryPrivate(priv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(priv.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32]
}

func sealKey(shared, ephemeral, recipient []byte) ([]byte, error) {
	salt := make([]byte, 0, len(ephemeral)+len(recipient))
	salt = append(salt, ephemeral...)
	salt = append(salt, recipient...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(sealInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext so only the holder of the private key behind
// recipient can read it. Every call produces a fresh ciphertext.
func Seal(plaintext []byte, recipient ed25519.PublicKey) ([]byte, error) {
	recipientX, err := montgomeryPublic(recipient)
	if err != nil {
		return nil, err
	}

	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, err
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(ephPriv[:], recipientX)
	if err != nil {
		return nil, err
	}

	key, err := sealKey(shared, ephPub, recipientX)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, ephemeralSize+nonceSize, overhead+len(plaintext))
	copy(out, ephPub)
	if _, err := rand.Read(out[ephemeralSize:]); err != nil {
		return nil, err
	}
	return aead.Seal(out, out[ephemeralSize:], plaintext, nil), nil
}

// Open decrypts a message produced by Seal for priv's public key.
func Open(sealed []byte, priv ed25519.PrivateKey) ([]byte, error) {
	if len(sealed) < overhead {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d byte minimum", ErrOpen, len(sealed), overhead)
	}
	ephPub := sealed[:ephemeralSize]
	nonce := sealed[ephemeralSize : ephemeralSize+nonceSize]
	box := sealed[ephemeralSize+nonceSize:]

	ownPriv := montgomeryPrivate(priv)
	ownPub, err := curve25519.X25519(ownPriv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(ownPriv, ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ephemeral key", ErrOpen)
	}

	key, err := sealKey(shared, ephPub, ownPub)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong key or tampered ciphertext", ErrOpen)
	}
	return plaintext, nil
}
