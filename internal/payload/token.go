package payload

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenSaltSize  = 16
	tokenHashSize  = 16
	tokenIterCount = 100_000

	// TokenSize is the size of an access token produced by NewAccessToken.
	TokenSize = tokenSaltSize + tokenHashSize
)

// NewAccessToken derives a verification token for an access password:
// salt(16) ‖ PBKDF2-SHA256(password, salt, 100000)[:16].
// The token lets extraction refuse a container without the access password
// even when the decryption key is known.
func NewAccessToken(password string) ([]byte, error) {
	salt := make([]byte, tokenSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate token salt: %w", err)
	}
	return append(salt, pbkdf2.Key([]byte(password), salt, tokenIterCount, tokenHashSize, sha256.New)...), nil
}

// VerifyAccessToken reports whether password matches token in constant time.
func VerifyAccessToken(token []byte, password string) bool {
	if len(token) != TokenSize {
		return false
	}
	salt, want := token[:tokenSaltSize], token[tokenSaltSize:]
	got := pbkdf2.Key([]byte(password), salt, tokenIterCount, tokenHashSize, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
