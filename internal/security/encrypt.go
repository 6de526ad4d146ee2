package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/fernet/fernet-go"
)

// ErrUndecryptable is returned when a stored body matches neither the
// current AES-GCM key nor any configured legacy fernet key.
var ErrUndecryptable = errors.New("failed to decrypt message body")

// Encryptor seals message bodies at rest with AES-256-GCM. Rows written by
// the previous Node deployment were fernet tokens; those keys can be passed
// as legacy keys and are only ever used for decryption.
type Encryptor struct {
	aead       cipher.AEAD
	legacyKeys []*fernet.Key
}

// NewEncryptor derives the AES key as SHA-256 of secret, so secrets of any
// length can be used.
func NewEncryptor(secret []byte, legacyKeys []string) (*Encryptor, error) {
	if len(secret) == 0 {
		return nil, errors.New("encryption key must not be empty")
	}
	sum := sha256.Sum256(secret)
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	var keys []*fernet.Key
	for _, raw := range append([]string{string(secret)}, legacyKeys...) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if k, err := fernet.DecodeKey(raw); err == nil {
			keys = append(keys, k)
		}
	}
	return &Encryptor{aead: aead, legacyKeys: keys}, nil
}

func (e *Encryptor) Encrypt(plain string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *Encryptor) Decrypt(enc string) (string, error) {
	if raw, err := base64.StdEncoding.DecodeString(enc); err == nil && len(raw) >= e.aead.NonceSize() {
		n := e.aead.NonceSize()
		if plain, err := e.aead.Open(nil, raw[:n], raw[n:], nil); err == nil {
			return string(plain), nil
		}
	}
	if len(e.legacyKeys) > 0 {
		// ttl 0 disables the fernet age check; stored rows never expire.
		if plain := fernet.VerifyAndDecrypt([]byte(enc), 0, e.legacyKeys); plain != nil {
			return string(plain), nil
		}
	}
	return "", ErrUndecryptable
}
