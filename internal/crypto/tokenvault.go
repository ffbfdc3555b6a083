// Package crypto stores the broker connector's API token encrypted at rest.
// Tokens are sealed with PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM so
// a config directory leak does not expose live broker credentials.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the sealed-token JSON schema version.
	currentVersion = 1
)

// sealedTokenJSON is the on-disk format for an encrypted API token.
type sealedTokenJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// TokenConfig carries the information LoadToken needs to resolve the
// connector API token. Populate the fields from environment variables or a
// config file.
type TokenConfig struct {
	// RawToken is the plaintext token. If non-empty, LoadToken returns it
	// directly.
	RawToken string

	// SealedTokenPath is the path to a JSON file produced by SealToken.
	SealedTokenPath string

	// TokenPassword is the password used to decrypt the file at
	// SealedTokenPath.
	TokenPassword string
}

// SealToken encrypts an API token with a password and returns the JSON blob
// suitable for writing to disk.
func SealToken(token, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("crypto: token must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(token), nil)

	out := sealedTokenJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}

	return json.MarshalIndent(out, "", "  ")
}

// UnsealToken decrypts a JSON blob produced by SealToken.
func UnsealToken(sealedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored sealedTokenJSON
	if err := json.Unmarshal(sealedJSON, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing sealed token JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return "", fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	return string(plaintext), nil
}

// LoadToken resolves the connector API token from the provided configuration.
//
// Resolution order:
//  1. If RawToken is set, return it.
//  2. If SealedTokenPath is set, read the file and decrypt with TokenPassword.
//  3. Otherwise, return an empty token (the connector may not require one).
func LoadToken(cfg TokenConfig) (string, error) {
	if cfg.RawToken != "" {
		return strings.TrimSpace(cfg.RawToken), nil
	}

	if cfg.SealedTokenPath != "" {
		data, err := os.ReadFile(cfg.SealedTokenPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading sealed token file: %w", err)
		}
		return UnsealToken(data, cfg.TokenPassword)
	}

	return "", nil
}
