package signer

import (
	"crypto/hmac"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"time"

	"github.com/edgegate/edgegate/internal/config"
)

// Verification failure codes. These stay server-side; clients only ever see
// the generic 401 body.
const (
	CodeMissingSignature = "MISSING_SIGNATURE_HEADER"
	CodeMissingTimestamp = "MISSING_TIMESTAMP_HEADER"
	CodeBadTimestamp     = "INVALID_TIMESTAMP"
	CodeStaleTimestamp   = "TIMESTAMP_OUT_OF_TOLERANCE"
	CodeMismatch         = "SIGNATURE_MISMATCH"
)

// Request is the inbound tuple under verification. Headers are passed as a
// lookup function so both net/http and gin requests plug in without copying.
type Request struct {
	Method string
	Path   string // request path, no query string
	Query  url.Values
	Body   []byte
	Header func(name string) string
}

// Result is the structured outcome of a verification. Verify never panics and
// never returns an error: this sits on a security boundary and malformed
// input must produce a failed Result, not a crash.
type Result struct {
	Valid             bool   `json:"valid"`
	Bypassed          bool   `json:"bypassed,omitempty"`
	Code              string `json:"code,omitempty"`
	Error             string `json:"error,omitempty"`
	Timestamp         int64  `json:"timestamp,omitempty"`
	ComputedSignature string `json:"-"`
	ProvidedSignature string `json:"-"`
}

// Verifier checks inbound request signatures against the shared secret.
type Verifier struct {
	secret          string
	signatureHeader string
	timestampHeader string
	requireTS       bool
	tolerance       time.Duration
	hashFn          func() hash.Hash

	// now is swappable for the timestamp-window tests
	now func() time.Time
}

// NewVerifier builds a Verifier from config. An unknown hash algorithm is a
// configuration error and is reported here, once, instead of failing every
// request later.
func NewVerifier(cfg config.HMACConfig) (*Verifier, error) {
	hashFn, err := HashFunc(Algorithm(cfg.Algorithm))
	if err != nil {
		return nil, err
	}
	sigHeader := cfg.SignatureHeader
	if sigHeader == "" {
		sigHeader = "x-signature"
	}
	tsHeader := cfg.TimestampHeader
	if tsHeader == "" {
		tsHeader = "x-timestamp"
	}
	tolerance := time.Duration(cfg.TimestampTolerance) * time.Second
	if tolerance <= 0 {
		tolerance = 300 * time.Second
	}
	return &Verifier{
		secret:          cfg.Secret,
		signatureHeader: sigHeader,
		timestampHeader: tsHeader,
		requireTS:       cfg.RequireTimestamp,
		tolerance:       tolerance,
		hashFn:          hashFn,
		now:             time.Now,
	}, nil
}

// Enabled reports whether a secret is configured. When false every Verify
// call passes (explicit bypass, warned by the caller).
func (v *Verifier) Enabled() bool {
	return v.secret != ""
}

// Verify checks the signature (and, when required, the timestamp window) of
// an inbound request.
func (v *Verifier) Verify(req Request) Result {
	// No secret configured: verification is disabled. The bypass is explicit
	// and the middleware logs a warning per call; it must never be silent.
	if v.secret == "" {
		return Result{Valid: true, Bypassed: true}
	}

	provided := req.Header(v.signatureHeader)
	if provided == "" {
		return Result{
			Code:  CodeMissingSignature,
			Error: fmt.Sprintf("missing %s header", v.signatureHeader),
		}
	}

	var timestamp int64
	if v.requireTS {
		raw := req.Header(v.timestampHeader)
		if raw == "" {
			return Result{
				Code:  CodeMissingTimestamp,
				Error: fmt.Sprintf("missing %s header", v.timestampHeader),
			}
		}
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Result{
				Code:  CodeBadTimestamp,
				Error: fmt.Sprintf("timestamp %q is not a unix-seconds integer", raw),
			}
		}
		timestamp = parsed

		diff := v.now().Unix() - timestamp
		if diff < 0 {
			diff = -diff
		}
		allowed := int64(v.tolerance / time.Second)
		if diff > allowed {
			// Both numbers in the message so tests (and operators) can see
			// exactly how far outside the window the request was.
			return Result{
				Code:      CodeStaleTimestamp,
				Error:     fmt.Sprintf("timestamp skew %ds exceeds tolerance %ds", diff, allowed),
				Timestamp: timestamp,
			}
		}
	}

	payload := CanonicalPayload(req.Body, req.Query)
	computed := SignWith(v.hashFn, v.secret, req.Method, req.Path, payload, timestamp)

	// hmac.Equal is the constant-time comparison; a byte-wise early-exit loop
	// would reintroduce the timing side channel.
	if !hmac.Equal([]byte(computed), []byte(provided)) {
		return Result{
			Code:              CodeMismatch,
			Error:             "signature mismatch",
			Timestamp:         timestamp,
			ComputedSignature: computed,
			ProvidedSignature: provided,
		}
	}

	return Result{
		Valid:             true,
		Timestamp:         timestamp,
		ComputedSignature: computed,
		ProvidedSignature: provided,
	}
}
