package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("   "))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "****6789", MaskSecret("123456789"))
}

func TestIsSensitiveKey(t *testing.T) {
	assert.True(t, IsSensitiveKey("admin_password"))
	assert.True(t, IsSensitiveKey("API_KEY"))
	assert.True(t, IsSensitiveKey("gateway_token"))
	assert.False(t, IsSensitiveKey("subdomain"))
	assert.False(t, IsSensitiveKey("amount"))
}

func TestMaskMap(t *testing.T) {
	masked := MaskMap(map[string]any{
		"password":  "hunter2-hunter2",
		"subdomain": "acme",
		"amount":    2900,
		"nested": map[string]any{
			"client_secret": "sk_live_abcdef123456",
			"plan":          "starter",
		},
	})

	assert.Equal(t, "****ter2", masked["password"])
	assert.Equal(t, "acme", masked["subdomain"])
	assert.Equal(t, 2900, masked["amount"])

	nested := masked["nested"].(map[string]any)
	assert.Equal(t, "starter", nested["plan"])
	assert.NotContains(t, nested["client_secret"], "sk_live_abcdef")
}

func TestMaskMapEmpty(t *testing.T) {
	assert.Nil(t, MaskMap(nil))
	assert.Nil(t, MaskMap(map[string]any{}))
}
