package qrverify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reuse detection needs a running redis, so these tests exercise the
// structural checks that run before the replay guard.

func newTestVerifier() *Verifier {
	return New([]byte("test-secret"), nil, time.Hour)
}

func TestValidateQRCodeMalformed(t *testing.T) {
	v := newTestVerifier()

	for _, token := range []string{"", "garbage", "v2.1.2.3.n.sig", "v1.1.2.3"} {
		res, err := v.ValidateQRCode(context.Background(), token, 20)
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		assert.Equal(t, "malformed token", res.Reason)
	}
}

func TestValidateQRCodeSignatureMismatch(t *testing.T) {
	v := newTestVerifier()
	token := v.Generate(10, 20, time.Now().Add(time.Hour))
	tampered := token[:len(token)-1] + "0"
	if strings.HasSuffix(token, "0") {
		tampered = token[:len(token)-1] + "1"
	}

	res, err := v.ValidateQRCode(context.Background(), tampered, 20)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, "signature mismatch", res.Reason)
}

func TestValidateQRCodeWrongSecret(t *testing.T) {
	issuer := New([]byte("other-secret"), nil, time.Hour)
	token := issuer.Generate(10, 20, time.Now().Add(time.Hour))

	res, err := newTestVerifier().ValidateQRCode(context.Background(), token, 20)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, "signature mismatch", res.Reason)
}

func TestValidateQRCodeWrongUser(t *testing.T) {
	v := newTestVerifier()
	token := v.Generate(10, 20, time.Now().Add(time.Hour))

	res, err := v.ValidateQRCode(context.Background(), token, 21)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, "token issued for another user", res.Reason)
}

func TestValidateQRCodeExpired(t *testing.T) {
	v := newTestVerifier()
	token := v.Generate(10, 20, time.Now().Add(-time.Minute))

	res, err := v.ValidateQRCode(context.Background(), token, 20)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, "token expired", res.Reason)
}

func TestGenerateProducesUniqueNonces(t *testing.T) {
	v := newTestVerifier()
	t1 := v.Generate(10, 20, time.Now().Add(time.Hour))
	t2 := v.Generate(10, 20, time.Now().Add(time.Hour))
	assert.NotEqual(t, t1, t2)
}
