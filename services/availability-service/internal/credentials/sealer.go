// Package credentials seals calendar refresh tokens before they are stored.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const saltSize = 16

var ErrSealed = errors.New("credentials: cannot open sealed value")

type kdfParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

var defaultKDF = kdfParams{time: 3, memory: 64 * 1024, threads: 4}

// Sealer encrypts with AES-256-GCM under a key derived from a passphrase
// with argon2id. Every Seal uses a fresh salt and nonce; the output is
// base64(salt | nonce | ciphertext).
type Sealer struct {
	passphrase []byte
	kdf        kdfParams
}

func NewSealer(passphrase string) (*Sealer, error) {
	if len(passphrase) < 16 {
		return nil, errors.New("credentials: passphrase must be at least 16 characters")
	}
	return &Sealer{passphrase: []byte(passphrase), kdf: defaultKDF}, nil
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	gcm, err := s.aead(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	blob := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(blob), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(blob) < saltSize {
		return "", ErrSealed
	}
	gcm, err := s.aead(blob[:saltSize])
	if err != nil {
		return "", err
	}
	rest := blob[saltSize:]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return "", ErrSealed
	}
	plaintext, err := gcm.Open(nil, rest[:gcm.NonceSize()], rest[gcm.NonceSize():], nil)
	if err != nil {
		return "", ErrSealed
	}
	return string(plaintext), nil
}

func (s *Sealer) aead(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(s.passphrase, salt, s.kdf.time, s.kdf.memory, s.kdf.threads, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return gcm, nil
}
