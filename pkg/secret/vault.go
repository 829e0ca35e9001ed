package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecrypt is returned when a stored ciphertext cannot be opened with the
// configured key. Callers on read paths treat this as an absent credential
// rather than a fatal error.
var ErrDecrypt = errors.New("secret: decryption failed")

// Vault encrypts credentials before they reach the database and decrypts
// them on read. A single process-wide symmetric key is derived from the
// configured secret at startup.
type Vault struct {
	key [32]byte
}

// NewVault creates a Vault from the configured secret key. The key material
// is hashed to the secretbox key size, so any non-empty operator-provided
// string works. An empty key is refused: generating one on the fly would
// orphan everything encrypted under the previous process lifetime.
func NewVault(secretKey string) (*Vault, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("secret: encryption key is not configured")
	}
	v := &Vault{key: sha256.Sum256([]byte(secretKey))}
	return v, nil
}

// Encrypt seals plaintext and returns a base64 string safe for storage.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("secret: nonce generation failed: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &v.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Returns ErrDecrypt when
// the ciphertext is malformed or was sealed under a different key.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(raw) < 24 {
		return "", ErrDecrypt
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	opened, ok := secretbox.Open(nil, raw[24:], &nonce, &v.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(opened), nil
}
