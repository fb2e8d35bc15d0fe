package artifact

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyEnv names the environment variable holding the hex encoded artifact
// key. KeyEnv + "_FILE" may point to a file holding it instead.
const KeyEnv = "ARTIFACT_KEY"

// MissingKeyError is returned by LoadKey when neither variable is set.
type MissingKeyError string

func (k MissingKeyError) Error() string {
	return fmt.Sprintf("%s environment variable not set", string(k))
}

// LoadKey reads the artifact encryption key from the environment.
func LoadKey() ([]byte, error) {
	value := os.Getenv(KeyEnv)
	path := os.Getenv(KeyEnv + "_FILE")
	if value == "" && path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		value = string(content)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, MissingKeyError(KeyEnv)
	}
	return ParseKey(value)
}

// ParseKey decodes a hex encoded 32-byte key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode artifact key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("artifact key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// GenerateKey returns a random key, hex encoded.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
