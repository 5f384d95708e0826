package auth

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/tetherchat/tether/internal/models"
)

const (
	// SecretKeyPrefix marks server-side keys; never embed these in a
	// browser.
	SecretKeyPrefix = "sk_"
	// PublicKeyPrefix marks browser-exposed keys, subject to the
	// origin gate.
	PublicKeyPrefix = "pk_"

	// testMarker is the segment that flags a key as a test key,
	// independent of environment. The key body after it is hex, which
	// cannot contain the marker, so a substring check is unambiguous.
	testMarker = "test_"

	keyBodyLen = 32 // hex characters
)

// MintKey generates a fresh key of the given kind. Test keys carry the
// test marker between the prefix and the random body:
//
//	sk_2af9... / sk_test_2af9... / pk_2af9... / pk_test_2af9...
func MintKey(kind models.KeyKind, test bool) string {
	prefix := SecretKeyPrefix
	if kind == models.KeyKindPublic {
		prefix = PublicKeyPrefix
	}
	if test {
		prefix += testMarker
	}

	body := make([]byte, keyBodyLen/2)
	_, _ = rand.Read(body)
	return prefix + hex.EncodeToString(body)
}

// ValidSecretKeyFormat reports whether raw looks like a secret key:
// the secret prefix plus one of the two allowed lengths (with or
// without the test marker).
func ValidSecretKeyFormat(raw string) bool {
	return validKeyFormat(raw, SecretKeyPrefix)
}

// ValidPublicKeyFormat reports whether raw looks like a public key.
func ValidPublicKeyFormat(raw string) bool {
	return validKeyFormat(raw, PublicKeyPrefix)
}

func validKeyFormat(raw, prefix string) bool {
	if !strings.HasPrefix(raw, prefix) {
		return false
	}
	switch len(raw) {
	case len(prefix) + keyBodyLen:
		return true
	case len(prefix) + len(testMarker) + keyBodyLen:
		return strings.HasPrefix(raw[len(prefix):], testMarker)
	}
	return false
}

// IsTestKey reports whether raw carries the test marker. Test keys are
// exempt from HTTPS and localhost enforcement regardless of
// environment.
func IsTestKey(raw string) bool {
	return strings.Contains(raw, testMarker)
}
