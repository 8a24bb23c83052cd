package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/tink-crypto/tink-go/v2/aead/subtle"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	gcmNonceSize = 12
	hkdfInfo     = "gophstego payload key v1"
)

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateKey returns 32 fresh random bytes, base64 encoded. The encoded text
// itself is the key material callers pass around.
func GenerateKey() (string, error) {
	b, err := randBytes(KeySize)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	defer zero(b)
	return base64.StdEncoding.EncodeToString(b), nil
}

func nonceSize(s Suite) int {
	if s == XChaCha20Poly1305 {
		return chacha20poly1305.NonceSizeX
	}
	return gcmNonceSize
}

func (s *Sealer) deriveKey(km KeyMaterial, salt []byte) ([]byte, error) {
	if !km.IsPassword() {
		key := make([]byte, KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, km.Key, nil, []byte(hkdfInfo)), key); err != nil {
			return nil, fmt.Errorf("expand key: %w", err)
		}
		return key, nil
	}

	pw := []byte(km.Password)
	defer zero(pw)
	if s.cfg.KDF == Argon2id {
		p := s.cfg.Argon2
		return argon2.IDKey(pw, salt, p.Time, p.Memory, p.Threads, KeySize), nil
	}
	return pbkdf2.Key(pw, salt, s.cfg.Iterations, KeySize, sha256.New), nil
}

// seal returns nonce ‖ ciphertext ‖ tag.
func seal(suite Suite, key, plaintext, aad []byte) ([]byte, error) {
	switch suite {
	case XChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("init xchacha20-poly1305: %w", err)
		}
		nonce, err := randBytes(aead.NonceSize())
		if err != nil {
			return nil, fmt.Errorf("generate nonce: %w", err)
		}
		return aead.Seal(nonce, nonce, plaintext, aad), nil
	default:
		aead, err := subtle.NewAESGCM(key)
		if err != nil {
			return nil, fmt.Errorf("init aes-256-gcm: %w", err)
		}
		// tink prepends its own random 12 byte IV
		out, err := aead.Encrypt(plaintext, aad)
		if err != nil {
			return nil, fmt.Errorf("aes-256-gcm encrypt: %w", err)
		}
		return out, nil
	}
}

func open(suite Suite, key, sealed, aad []byte) ([]byte, error) {
	switch suite {
	case XChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, err
		}
		n := aead.NonceSize()
		return aead.Open(nil, sealed[:n], sealed[n:], aad)
	default:
		aead, err := subtle.NewAESGCM(key)
		if err != nil {
			return nil, err
		}
		return aead.Decrypt(sealed, aad)
	}
}
