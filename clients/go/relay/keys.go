package relay

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const privateKeyFile = "private.key"

// Keyring is a local Ed25519 identity. Its base64 public key is the relay
// identity; the private key opens sealed messages addressed to it.
type Keyring struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// Identity returns the relay identity string.
func (k *Keyring) Identity() string {
	return EncodePublicKey(k.PublicKey)
}

// GenerateKeyring creates a new random identity.
func GenerateKeyring() (*Keyring, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keyring{PublicKey: pub, PrivateKey: priv}, nil
}

// LoadKeyring reads the identity saved in dir.
func LoadKeyring(dir string) (*Keyring, error) {
	data, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	if err != nil {
		return nil, err
	}

	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &Keyring{PublicKey: priv.Public().(ed25519.PublicKey), PrivateKey: priv}, nil
}

// Save writes the identity seed to dir with owner-only permissions.
func (k *Keyring) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	seed := base64.StdEncoding.EncodeToString(k.PrivateKey.Seed())
	return os.WriteFile(filepath.Join(dir, privateKeyFile), []byte(seed+"\n"), 0600)
}
