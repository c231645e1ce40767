package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"net/url"
	"sort"
	"strings"
)

// Wire format: hex-encoded HMAC digest over the canonical string
//
//	METHOD_UPPERCASE|PATH|PAYLOAD|TIMESTAMP
//
// PATH never includes the query string. PAYLOAD is the sorted query string for
// body-less requests and the raw body bytes otherwise. Both sides (this
// gateway and the edge functions) must build the exact same bytes.

// Algorithm selects the underlying hash. sha256 is the default everywhere.
type Algorithm string

const (
	AlgSHA256 Algorithm = "sha256"
	AlgSHA512 Algorithm = "sha512"
)

// HashFunc resolves an algorithm name to its hash constructor.
func HashFunc(alg Algorithm) (func() hash.Hash, error) {
	switch alg {
	case "", AlgSHA256:
		return sha256.New, nil
	case AlgSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported hmac algorithm: %q", alg)
	}
}

// CanonicalQuery builds the signed payload for a request without a body:
// query parameters sorted lexicographically by key and joined as k=v&k=v.
// Repeated keys keep their original value order. Values are the decoded form.
func CanonicalQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

// CanonicalPayload picks the signed payload for a request: the raw body when
// one is present, the sorted query string otherwise.
func CanonicalPayload(body []byte, query url.Values) string {
	if len(body) > 0 {
		return string(body)
	}
	return CanonicalQuery(query)
}

// CanonicalString assembles the exact bytes that get signed.
func CanonicalString(method, path, payload string, timestamp int64) string {
	return fmt.Sprintf("%s|%s|%s|%d", strings.ToUpper(method), path, payload, timestamp)
}

// Sign computes the hex HMAC-SHA256 signature for a request tuple. Pure and
// deterministic: identical inputs always produce the identical signature, so
// clients can generate matching signatures offline.
func Sign(secret, method, path, payload string, timestamp int64) string {
	return SignWith(sha256.New, secret, method, path, payload, timestamp)
}

// SignWith is Sign with an explicit hash constructor.
func SignWith(h func() hash.Hash, secret, method, path, payload string, timestamp int64) string {
	mac := hmac.New(h, []byte(secret))
	mac.Write([]byte(CanonicalString(method, path, payload, timestamp)))
	return hex.EncodeToString(mac.Sum(nil))
}
