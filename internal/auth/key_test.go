package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tetherchat/tether/internal/models"
)

func TestMintKeyFormat(t *testing.T) {
	cases := []struct {
		kind   models.KeyKind
		test   bool
		prefix string
	}{
		{models.KeyKindSecret, false, "sk_"},
		{models.KeyKindSecret, true, "sk_test_"},
		{models.KeyKindPublic, false, "pk_"},
		{models.KeyKindPublic, true, "pk_test_"},
	}

	for _, tc := range cases {
		raw := MintKey(tc.kind, tc.test)
		assert.True(t, strings.HasPrefix(raw, tc.prefix), "key %s", raw)
		assert.Len(t, raw, len(tc.prefix)+keyBodyLen)
		assert.Equal(t, tc.test, IsTestKey(raw))

		if tc.kind == models.KeyKindSecret {
			assert.True(t, ValidSecretKeyFormat(raw))
			assert.False(t, ValidPublicKeyFormat(raw))
		} else {
			assert.True(t, ValidPublicKeyFormat(raw))
			assert.False(t, ValidSecretKeyFormat(raw))
		}
	}
}

func TestKeyFormatRejectsMalformedInput(t *testing.T) {
	bad := []string{
		"",
		"sk_",
		"sk_short",
		"pk_" + strings.Repeat("a", 31),
		"pk_" + strings.Repeat("a", 33),
		"sk_test_" + strings.Repeat("a", 31),
		"xx_" + strings.Repeat("a", 32),
		strings.Repeat("a", 35),
		"sk-" + strings.Repeat("a", 32),
		// Right length for the test variant but no test marker.
		"sk_" + strings.Repeat("a", len(testMarker)+keyBodyLen),
	}

	for _, raw := range bad {
		assert.False(t, ValidSecretKeyFormat(raw), "secret: %q", raw)
		assert.False(t, ValidPublicKeyFormat(raw), "public: %q", raw)
	}
}

func TestIsTestKeyIndependentOfKind(t *testing.T) {
	assert.True(t, IsTestKey("sk_test_"+strings.Repeat("0", 32)))
	assert.True(t, IsTestKey("pk_test_"+strings.Repeat("0", 32)))
	assert.False(t, IsTestKey("sk_"+strings.Repeat("0", 32)))
	assert.False(t, IsTestKey("pk_"+strings.Repeat("0", 32)))
}
