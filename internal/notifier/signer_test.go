package notifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"event":"post.published","data":{"item_id":"abc"}}`)
	secret := "whsec_test"

	sig := Sign(payload, secret)
	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.Len(t, sig, len("sha256=")+64)

	assert.True(t, Verify(payload, secret, sig))
	assert.False(t, Verify(payload, "wrong-secret", sig))
	assert.False(t, Verify([]byte(`tampered`), secret, sig))
	assert.False(t, Verify(payload, secret, "sha256=deadbeef"))
}

func TestSignIsDeterministic(t *testing.T) {
	payload := []byte(`{"event":"metrics.updated"}`)
	assert.Equal(t, Sign(payload, "s"), Sign(payload, "s"))
	assert.NotEqual(t, Sign(payload, "s"), Sign(payload, "t"))
}
