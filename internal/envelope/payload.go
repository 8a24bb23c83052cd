package envelope

import (
	"fmt"

	"github.com/atinyakov/GophStego/internal/models"
)

// EncryptedPayload is a parsed envelope.
type EncryptedPayload struct {
	// Salt is the password salt, nil in key mode.
	Salt []byte
	// Sealed is nonce ‖ ciphertext ‖ tag.
	Sealed []byte
}

// Marshal returns salt ‖ nonce ‖ ciphertext ‖ tag.
func (p EncryptedPayload) Marshal() []byte {
	out := make([]byte, 0, len(p.Salt)+len(p.Sealed))
	out = append(out, p.Salt...)
	return append(out, p.Sealed...)
}

// Parse splits raw into its parts without authenticating it.
func Parse(raw []byte, withSalt bool, nonceLen int) (EncryptedPayload, error) {
	need := nonceLen + TagSize
	if withSalt {
		need += SaltSize
	}
	if len(raw) < need {
		return EncryptedPayload{}, fmt.Errorf("%w: envelope is %d bytes, need at least %d", models.ErrMalformedContainer, len(raw), need)
	}
	if !withSalt {
		return EncryptedPayload{Sealed: raw}, nil
	}
	return EncryptedPayload{Salt: raw[:SaltSize], Sealed: raw[SaltSize:]}, nil
}
