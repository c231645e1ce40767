package signer

import (
	"crypto/sha512"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignDeterministic(t *testing.T) {
	a := Sign("secret", "POST", "/v1/functions/create-user", `{"name":"bob"}`, 1700000000)
	b := Sign("secret", "POST", "/v1/functions/create-user", `{"name":"bob"}`, 1700000000)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64) // hex sha256
}

func TestSignTamperSensitivity(t *testing.T) {
	base := Sign("secret", "GET", "/api/test", "a=1", 1700000000)

	mutations := map[string]string{
		"method":    Sign("secret", "PUT", "/api/test", "a=1", 1700000000),
		"path":      Sign("secret", "GET", "/api/tesT", "a=1", 1700000000),
		"payload":   Sign("secret", "GET", "/api/test", "a=2", 1700000000),
		"timestamp": Sign("secret", "GET", "/api/test", "a=1", 1700000001),
		"secret":    Sign("secreT", "GET", "/api/test", "a=1", 1700000000),
	}
	for name, sig := range mutations {
		assert.NotEqual(t, base, sig, "mutating %s must change the signature", name)
	}
}

func TestSignMethodCaseInsensitive(t *testing.T) {
	// canonicalization upper-cases the method, so case differences on input
	// do not change the wire signature
	assert.Equal(t,
		Sign("secret", "get", "/api/test", "", 1700000000),
		Sign("secret", "GET", "/api/test", "", 1700000000),
	)
}

func TestCanonicalQuerySorted(t *testing.T) {
	values := url.Values{}
	values.Set("zebra", "1")
	values.Set("alpha", "2")
	values.Add("mid", "a")
	values.Add("mid", "b")

	assert.Equal(t, "alpha=2&mid=a&mid=b&zebra=1", CanonicalQuery(values))
}

func TestCanonicalQueryEmpty(t *testing.T) {
	assert.Equal(t, "", CanonicalQuery(nil))
	assert.Equal(t, "", CanonicalQuery(url.Values{}))
}

func TestCanonicalPayloadPrefersBody(t *testing.T) {
	values := url.Values{"a": {"1"}}
	assert.Equal(t, `{"x":1}`, CanonicalPayload([]byte(`{"x":1}`), values))
	assert.Equal(t, "a=1", CanonicalPayload(nil, values))
}

func TestCanonicalString(t *testing.T) {
	assert.Equal(t,
		"GET|/api/test|a=1&b=2|1700000000",
		CanonicalString("get", "/api/test", "a=1&b=2", 1700000000),
	)
}

func TestHashFunc(t *testing.T) {
	_, err := HashFunc("md5")
	assert.Error(t, err)

	fn, err := HashFunc(AlgSHA512)
	assert.NoError(t, err)
	sig := SignWith(fn, "secret", "GET", "/", "", 0)
	assert.Len(t, sig, sha512.Size*2)
}

func BenchmarkSign(b *testing.B) {
	payload := `{"order":{"sku":"abc-123","qty":4},"note":"benchmark payload"}`
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Sign("benchmark-secret", "POST", "/v1/functions/orders", payload, 1700000000)
	}
}
