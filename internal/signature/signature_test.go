package signature

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_AcceptsValidSignature(t *testing.T) {
	v := NewVerifier("s3cret", nil)
	body := []byte(`{"windowType":"morning"}`)

	assert.True(t, v.Verify(body, Sign([]byte("s3cret"), body)))
}

func TestVerify_RejectsSingleBitMutations(t *testing.T) {
	v := NewVerifier("s3cret", nil)
	body := []byte(`{"type":"start","week_key":"2026-W42"}`)
	sig := v.Sign(body)

	for i := 0; i < len(body); i++ {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), body...)
			mutated[i] ^= 1 << bit
			require.False(t, v.Verify(mutated, sig), "body byte %d bit %d", i, bit)
		}
	}

	for i := 0; i < len(sig); i++ {
		mutated := []byte(sig)
		mutated[i] ^= 1
		require.False(t, v.Verify(body, string(mutated)), "signature byte %d", i)
	}
}

func TestVerify_RejectsMissingAndWrongKey(t *testing.T) {
	v := NewVerifier("s3cret", nil)
	body := []byte(`{}`)

	assert.False(t, v.Verify(body, ""))
	assert.False(t, v.Verify(body, Sign([]byte("other"), body)))
	assert.False(t, v.Verify(body, "not-hex"))
}

func TestVerify_IsCaseSensitive(t *testing.T) {
	v := NewVerifier("s3cret", nil)
	body := []byte(`{"windowType":"evening"}`)
	sig := v.Sign(body)

	upper := bytes.ToUpper([]byte(sig))
	if string(upper) != sig {
		assert.False(t, v.Verify(body, string(upper)))
	}
}

func TestVerify_NoSecretAcceptsEverything(t *testing.T) {
	v := NewVerifier("", nil)

	assert.False(t, v.Enabled())
	assert.True(t, v.Verify([]byte(`{}`), ""))
	assert.True(t, v.Verify([]byte(`anything`), "garbage"))
}

func TestVerifyRequest_RestoresBody(t *testing.T) {
	v := NewVerifier("s3cret", nil)
	body := []byte(`{"windowType":"morning"}`)

	req := httptest.NewRequest(http.MethodPost, "/jobs/daily-messages", bytes.NewReader(body))
	req.Header.Set(Header, v.Sign(body))

	read, ok := v.VerifyRequest(req)
	require.True(t, ok)
	assert.Equal(t, body, read)

	again, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, again)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestVerifyRequest_UnreadableBodyIsInvalid(t *testing.T) {
	v := NewVerifier("s3cret", nil)

	req := httptest.NewRequest(http.MethodPost, "/jobs/trivia", io.NopCloser(failingReader{}))
	req.Header.Set(Header, v.Sign(nil))

	_, ok := v.VerifyRequest(req)
	assert.False(t, ok)
}
