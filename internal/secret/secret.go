// Package secret encrypts provider credentials at rest using fernet tokens.
// The key lives next to the config file; it is generated on first use and
// credentials are only ever decrypted in memory when a client is built.
package secret

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
)

const keyFileName = "secret.key"

// encPrefix marks values that have been encrypted by this package, so plain
// values written by hand into the config survive a load/save round trip.
const encPrefix = "enc:"

// Keeper encrypts and decrypts credential strings with a single fernet key.
type Keeper struct {
	key *fernet.Key
}

// NewKeeper loads the fernet key from dir, generating and persisting a fresh
// key when none exists yet.
func NewKeeper(dir string) (*Keeper, error) {
	if dir == "" {
		return nil, fmt.Errorf("secret: key directory is required")
	}
	path := filepath.Join(dir, keyFileName)

	if data, err := os.ReadFile(path); err == nil {
		key, errDecode := fernet.DecodeKey(strings.TrimSpace(string(data)))
		if errDecode != nil {
			return nil, fmt.Errorf("secret: decode key file %s: %w", path, errDecode)
		}
		return &Keeper{key: key}, nil
	}

	var key fernet.Key
	if err := key.Generate(); err != nil {
		return nil, fmt.Errorf("secret: generate key: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("secret: create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(key.Encode()), 0o600); err != nil {
		return nil, fmt.Errorf("secret: write key file: %w", err)
	}
	return &Keeper{key: &key}, nil
}

// NewKeeperFromKey builds a Keeper from an already-encoded fernet key,
// typically supplied via environment for containerized deployments.
func NewKeeperFromKey(encoded string) (*Keeper, error) {
	key, err := fernet.DecodeKey(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("secret: decode key: %w", err)
	}
	return &Keeper{key: key}, nil
}

// Encrypt returns the fernet token for plaintext, tagged with the enc: prefix.
// Empty and already-encrypted values pass through unchanged.
func (k *Keeper) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || strings.HasPrefix(plaintext, encPrefix) {
		return plaintext, nil
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), k.key)
	if err != nil {
		return "", fmt.Errorf("secret: encrypt: %w", err)
	}
	return encPrefix + string(tok), nil
}

// Decrypt reverses Encrypt. Values without the enc: prefix are treated as
// plaintext and returned as-is.
func (k *Keeper) Decrypt(value string) (string, error) {
	if value == "" || !strings.HasPrefix(value, encPrefix) {
		return value, nil
	}
	token := strings.TrimPrefix(value, encPrefix)
	msg := fernet.VerifyAndDecrypt([]byte(token), 0*time.Second, []*fernet.Key{k.key})
	if msg == nil {
		return "", fmt.Errorf("secret: invalid token")
	}
	return string(msg), nil
}

// Mask redacts a credential for display, keeping the last four characters.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
