// Package envelope encrypts and authenticates packed containers.
//
// An envelope is laid out as
//
//	salt(16, password mode only) ‖ nonce ‖ ciphertext ‖ tag(16)
//
// The cipher suite and password KDF are deployment settings, they are not
// recorded in the envelope. Decrypting with a different setting fails
// authentication exactly like a wrong key.
package envelope

import (
	"errors"
	"fmt"

	"github.com/atinyakov/GophStego/internal/models"
)

// Suite selects the AEAD construction.
type Suite string

const (
	// AES256GCM is AES-256 in GCM mode with a 12 byte nonce.
	AES256GCM Suite = "aes-256-gcm"
	// XChaCha20Poly1305 is XChaCha20-Poly1305 with a 24 byte nonce.
	XChaCha20Poly1305 Suite = "xchacha20-poly1305"
)

// KDF selects how passwords are turned into keys.
type KDF string

const (
	// PBKDF2SHA256 is PBKDF2-HMAC-SHA256 with Config.Iterations rounds.
	PBKDF2SHA256 KDF = "pbkdf2-sha256"
	// Argon2id is Argon2id with Config.Argon2 parameters.
	Argon2id KDF = "argon2id"
)

const (
	// SaltSize is the size of the per-operation password salt.
	SaltSize = 16
	// TagSize is the size of the authentication tag of every supported suite.
	TagSize = 16
	// KeySize is the size of the derived symmetric key.
	KeySize = 32
	// MinKeySize is the minimum length of caller supplied raw key material.
	MinKeySize = 32

	// DefaultIterations is the documented PBKDF2 iteration count.
	DefaultIterations = 100_000

	label = "gophstego/v1"
)

// Argon2Params are the Argon2id cost parameters.
type Argon2Params struct {
	Time    uint32 `json:"time" yaml:"time"`
	Memory  uint32 `json:"memory_kib" yaml:"memory_kib"`
	Threads uint8  `json:"threads" yaml:"threads"`
}

// Config holds the envelope settings.
type Config struct {
	Suite      Suite        `json:"suite" yaml:"suite"`
	KDF        KDF          `json:"kdf" yaml:"kdf"`
	Iterations int          `json:"iterations" yaml:"iterations"`
	Argon2     Argon2Params `json:"argon2" yaml:"argon2"`
}

// DefaultConfig returns AES-256-GCM with PBKDF2-SHA256 at 100000 iterations.
func DefaultConfig() Config {
	return Config{
		Suite:      AES256GCM,
		KDF:        PBKDF2SHA256,
		Iterations: DefaultIterations,
		Argon2:     Argon2Params{Time: 3, Memory: 64 * 1024, Threads: 4},
	}
}

// KeyMaterial is exactly one of a raw key or a password.
type KeyMaterial struct {
	// Key is opaque high-entropy key material of at least MinKeySize bytes.
	Key []byte
	// Password is a human password, stretched with the configured KDF.
	Password string
}

// IsPassword reports whether km uses the password path.
func (km KeyMaterial) IsPassword() bool { return km.Password != "" }

// Validate checks that exactly one kind of key material is present.
func (km KeyMaterial) Validate() error {
	switch {
	case len(km.Key) > 0 && km.Password != "":
		return fmt.Errorf("%w: supply either a key or a password, not both", models.ErrInvalidInput)
	case len(km.Key) == 0 && km.Password == "":
		return fmt.Errorf("%w: a key or a password is required", models.ErrInvalidInput)
	case len(km.Key) > 0 && len(km.Key) < MinKeySize:
		return fmt.Errorf("%w: key must be at least %d bytes, got %d", models.ErrInvalidInput, MinKeySize, len(km.Key))
	}
	return nil
}

// Sealer encrypts and decrypts envelopes. It is safe for concurrent use.
type Sealer struct {
	cfg Config
}

// New validates cfg and returns a Sealer. Zero fields take their defaults.
func New(cfg Config) (*Sealer, error) {
	def := DefaultConfig()
	if cfg.Suite == "" {
		cfg.Suite = def.Suite
	}
	if cfg.KDF == "" {
		cfg.KDF = def.KDF
	}
	if cfg.Iterations == 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.Argon2 == (Argon2Params{}) {
		cfg.Argon2 = def.Argon2
	}

	switch cfg.Suite {
	case AES256GCM, XChaCha20Poly1305:
	default:
		return nil, fmt.Errorf("unknown cipher suite %q", cfg.Suite)
	}
	switch cfg.KDF {
	case PBKDF2SHA256, Argon2id:
	default:
		return nil, fmt.Errorf("unknown kdf %q", cfg.KDF)
	}
	if cfg.Iterations < 1 {
		return nil, errors.New("pbkdf2 iterations must be positive")
	}
	if cfg.Argon2.Time < 1 || cfg.Argon2.Memory < 8 || cfg.Argon2.Threads < 1 {
		return nil, errors.New("argon2 parameters out of range")
	}
	return &Sealer{cfg: cfg}, nil
}

// Config returns the effective settings.
func (s *Sealer) Config() Config { return s.cfg }

// Overhead returns how many bytes Encrypt adds to a plaintext for km.
func (s *Sealer) Overhead(km KeyMaterial) int {
	n := nonceSize(s.cfg.Suite) + TagSize
	if km.IsPassword() {
		n += SaltSize
	}
	return n
}

// Encrypt seals plaintext. aad is bound to the ciphertext; the carrier kind
// is passed here so an envelope cannot be moved between carrier kinds.
func (s *Sealer) Encrypt(plaintext []byte, km KeyMaterial, aad []byte) ([]byte, error) {
	if err := km.Validate(); err != nil {
		return nil, err
	}

	var salt []byte
	if km.IsPassword() {
		var err error
		if salt, err = randBytes(SaltSize); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
	}

	key, err := s.deriveKey(km, salt)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	sealed, err := seal(s.cfg.Suite, key, plaintext, associatedData(aad, salt))
	if err != nil {
		return nil, err
	}
	return EncryptedPayload{Salt: salt, Sealed: sealed}.Marshal(), nil
}

// Decrypt authenticates and opens raw. A wrong key, wrong password, mismatched
// settings or any modified byte all return ErrAuthenticationFailed. An envelope
// shorter than its fixed overhead returns ErrMalformedContainer.
func (s *Sealer) Decrypt(raw []byte, km KeyMaterial, aad []byte) ([]byte, error) {
	if err := km.Validate(); err != nil {
		return nil, err
	}

	p, err := Parse(raw, km.IsPassword(), nonceSize(s.cfg.Suite))
	if err != nil {
		return nil, err
	}

	key, err := s.deriveKey(km, p.Salt)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	plaintext, err := open(s.cfg.Suite, key, p.Sealed, associatedData(aad, p.Salt))
	if err != nil {
		return nil, models.ErrAuthenticationFailed
	}
	return plaintext, nil
}

func associatedData(aad, salt []byte) []byte {
	out := make([]byte, 0, len(label)+len(aad)+len(salt))
	out = append(out, label...)
	out = append(out, aad...)
	return append(out, salt...)
}
