package signer

import (
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T, cfg config.HMACConfig) *Verifier {
	t.Helper()
	v, err := NewVerifier(cfg)
	require.NoError(t, err)
	return v
}

func headerMap(h map[string]string) func(string) string {
	return func(name string) string { return h[name] }
}

func signedGet(secret, path string, query url.Values, ts int64) Request {
	sig := Sign(secret, "GET", path, CanonicalQuery(query), ts)
	return Request{
		Method: "GET",
		Path:   path,
		Query:  query,
		Header: headerMap(map[string]string{
			"x-signature": sig,
			"x-timestamp": strconv.FormatInt(ts, 10),
		}),
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	v := newTestVerifier(t, config.HMACConfig{
		Secret:             "shared-secret",
		RequireTimestamp:   true,
		TimestampTolerance: 300,
	})
	now := time.Unix(1700000010, 0)
	v.now = func() time.Time { return now }

	query := url.Values{"page": {"2"}, "limit": {"50"}}
	res := v.Verify(signedGet("shared-secret", "/api/test", query, 1700000000))
	assert.True(t, res.Valid)
	assert.False(t, res.Bypassed)
	assert.Equal(t, int64(1700000000), res.Timestamp)
}

func TestVerifyTimestampWindowEdges(t *testing.T) {
	v := newTestVerifier(t, config.HMACConfig{
		Secret:             "shared-secret",
		RequireTimestamp:   true,
		TimestampTolerance: 300,
	})
	base := time.Unix(1700000299, 0)

	// 299s in the past: inside the window
	v.now = func() time.Time { return base }
	res := v.Verify(signedGet("shared-secret", "/api/test", nil, 1700000000))
	assert.True(t, res.Valid)

	// 301s in the past: outside, message names both the skew and the tolerance
	v.now = func() time.Time { return time.Unix(1700000301, 0) }
	res = v.Verify(signedGet("shared-secret", "/api/test", nil, 1700000000))
	assert.False(t, res.Valid)
	assert.Equal(t, CodeStaleTimestamp, res.Code)
	assert.Contains(t, res.Error, "301")
	assert.Contains(t, res.Error, "300")
}

func TestVerifyEndToEndScenario(t *testing.T) {
	// Sign a GET /api/test with no body at timestamp=1700000000; verify 10s
	// later -> valid. Re-verify 310s later -> invalid, error mentions 310/300.
	v := newTestVerifier(t, config.HMACConfig{
		Secret:             "shared-secret",
		RequireTimestamp:   true,
		TimestampTolerance: 300,
	})
	req := signedGet("shared-secret", "/api/test", nil, 1700000000)

	v.now = func() time.Time { return time.Unix(1700000010, 0) }
	assert.True(t, v.Verify(req).Valid)

	v.now = func() time.Time { return time.Unix(1700000310, 0) }
	res := v.Verify(req)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "310")
	assert.Contains(t, res.Error, "300")
}

func TestVerifyFutureTimestampRejected(t *testing.T) {
	v := newTestVerifier(t, config.HMACConfig{
		Secret:             "shared-secret",
		RequireTimestamp:   true,
		TimestampTolerance: 300,
	})
	v.now = func() time.Time { return time.Unix(1700000000, 0) }

	res := v.Verify(signedGet("shared-secret", "/api/test", nil, 1700000500))
	assert.False(t, res.Valid)
	assert.Equal(t, CodeStaleTimestamp, res.Code)
}

func TestVerifyMissingHeaders(t *testing.T) {
	v := newTestVerifier(t, config.HMACConfig{
		Secret:             "shared-secret",
		RequireTimestamp:   true,
		TimestampTolerance: 300,
	})

	res := v.Verify(Request{
		Method: "GET",
		Path:   "/api/test",
		Header: headerMap(nil),
	})
	assert.False(t, res.Valid)
	assert.Equal(t, CodeMissingSignature, res.Code)

	res = v.Verify(Request{
		Method: "GET",
		Path:   "/api/test",
		Header: headerMap(map[string]string{"x-signature": "deadbeef"}),
	})
	assert.False(t, res.Valid)
	assert.Equal(t, CodeMissingTimestamp, res.Code)

	res = v.Verify(Request{
		Method: "GET",
		Path:   "/api/test",
		Header: headerMap(map[string]string{
			"x-signature": "deadbeef",
			"x-timestamp": "not-a-number",
		}),
	})
	assert.False(t, res.Valid)
	assert.Equal(t, CodeBadTimestamp, res.Code)
}

func TestVerifyTamperedBody(t *testing.T) {
	v := newTestVerifier(t, config.HMACConfig{
		Secret:             "shared-secret",
		RequireTimestamp:   true,
		TimestampTolerance: 300,
	})
	ts := int64(1700000000)
	v.now = func() time.Time { return time.Unix(ts, 0) }

	body := []byte(`{"amount":100}`)
	sig := Sign("shared-secret", "POST", "/v1/webhooks/billing", string(body), ts)

	// tampered amount should fail against the original signature
	res := v.Verify(Request{
		Method: "POST",
		Path:   "/v1/webhooks/billing",
		Body:   []byte(`{"amount":900}`),
		Header: headerMap(map[string]string{
			"x-signature": sig,
			"x-timestamp": strconv.FormatInt(ts, 10),
		}),
	})
	assert.False(t, res.Valid)
	assert.Equal(t, CodeMismatch, res.Code)
	assert.NotEmpty(t, res.ComputedSignature)
	assert.Equal(t, sig, res.ProvidedSignature)
}

func TestVerifyBypassWithoutSecret(t *testing.T) {
	v := newTestVerifier(t, config.HMACConfig{
		RequireTimestamp:   true,
		TimestampTolerance: 300,
	})
	assert.False(t, v.Enabled())

	// any input, including garbage headers, passes in bypass mode
	res := v.Verify(Request{
		Method: "DELETE",
		Path:   "/anything",
		Header: headerMap(map[string]string{"x-signature": "garbage"}),
	})
	assert.True(t, res.Valid)
	assert.True(t, res.Bypassed)
}

func TestVerifyTimestampOptional(t *testing.T) {
	v := newTestVerifier(t, config.HMACConfig{
		Secret:             "shared-secret",
		RequireTimestamp:   false,
		TimestampTolerance: 300,
	})

	// with the window disabled the timestamp component signs as zero
	sig := Sign("shared-secret", "GET", "/api/test", "", 0)
	res := v.Verify(Request{
		Method: "GET",
		Path:   "/api/test",
		Header: headerMap(map[string]string{"x-signature": sig}),
	})
	assert.True(t, res.Valid)
}

func TestNewVerifierBadAlgorithm(t *testing.T) {
	_, err := NewVerifier(config.HMACConfig{Secret: "s", Algorithm: "sha1"})
	assert.Error(t, err)
}

func TestVerifyCustomHeaderNames(t *testing.T) {
	v := newTestVerifier(t, config.HMACConfig{
		Secret:             "shared-secret",
		SignatureHeader:    "x-edge-sig",
		TimestampHeader:    "x-edge-ts",
		RequireTimestamp:   true,
		TimestampTolerance: 300,
	})
	ts := int64(1700000000)
	v.now = func() time.Time { return time.Unix(ts, 0) }

	sig := Sign("shared-secret", "GET", "/api/test", "", ts)
	res := v.Verify(Request{
		Method: "GET",
		Path:   "/api/test",
		Header: headerMap(map[string]string{
			"x-edge-sig": sig,
			"x-edge-ts":  strconv.FormatInt(ts, 10),
		}),
	})
	assert.True(t, res.Valid)
}
