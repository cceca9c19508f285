// Package crypto seals and opens context blobs with AES-256-GCM.
//
// The wire format keeps iv, tag and ciphertext as separate base64 fields so
// blobs produced by other vault clients decrypt unchanged.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// Algorithm is the only sealing algorithm the vault understands.
const Algorithm = "aes-256-gcm"

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

var (
	ErrMissingSecret = errors.New("crypto: missing secret")
	ErrBadAlgorithm  = errors.New("crypto: unsupported algorithm")
	ErrDecrypt       = errors.New("crypto: decryption failed")
)

// EncryptedBlob is an opaque sealed payload.
type EncryptedBlob struct {
	Algorithm  string `json:"algorithm"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
	Ciphertext string `json:"ciphertext"`
}

// deriveKey turns a shared secret of any length into a 32-byte key.
// Secrets of 32+ bytes are used as-is (truncated); shorter ones are hashed.
func deriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if len(secret) >= keySize {
		return []byte(secret)[:keySize], nil
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:], nil
}

// Encrypt seals plaintext under the shared secret with a random nonce.
func Encrypt(plaintext, secret string) (EncryptedBlob, error) {
	key, err := deriveKey(secret)
	if err != nil {
		return EncryptedBlob{}, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return EncryptedBlob{}, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return EncryptedBlob{}, fmt.Errorf("crypto: new gcm: %w", err)
	}
	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return EncryptedBlob{}, fmt.Errorf("crypto: nonce: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return EncryptedBlob{
		Algorithm:  Algorithm,
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt opens a sealed blob. A wrong secret or tampered blob fails with
// ErrDecrypt; the error never reveals which field was wrong.
func Decrypt(blob EncryptedBlob, secret string) (string, error) {
	if blob.Algorithm != "" && blob.Algorithm != Algorithm {
		return "", ErrBadAlgorithm
	}
	key, err := deriveKey(secret)
	if err != nil {
		return "", err
	}
	iv, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil {
		return "", ErrDecrypt
	}
	tag, err := base64.StdEncoding.DecodeString(blob.Tag)
	if err != nil {
		return "", ErrDecrypt
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return "", ErrDecrypt
	}
	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
