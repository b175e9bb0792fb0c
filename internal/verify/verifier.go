package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/venuehq/webhook-ingestion/internal/domain"
)

var (
	ErrMissingSignature = errors.New("signature header is required")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrStaleTimestamp   = errors.New("signature timestamp outside tolerance window")
	ErrUnknownSource    = errors.New("no signing secret for source")
)

// DefaultTolerance is the maximum allowed clock skew between the signature
// timestamp and the time of verification.
const DefaultTolerance = 5 * time.Minute

// Verifier checks inbound webhook authenticity per source. It is pure
// validation: no side effects, and the body passed in must be the raw bytes
// exactly as received — verifying a re-serialized payload breaks signatures
// that are byte-sensitive.
type Verifier struct {
	secrets   map[domain.Source]string
	tolerance time.Duration
}

func New(secrets map[domain.Source]string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secrets: secrets, tolerance: tolerance}
}

// Verify validates a `t=<unix>,v1=<hex>` signature header against the raw
// body. It returns the signature timestamp on success.
func (v *Verifier) Verify(source domain.Source, rawBody []byte, sigHeader string, now time.Time) (time.Time, error) {
	if sigHeader == "" {
		return time.Time{}, ErrMissingSignature
	}

	secret, ok := v.secrets[source]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	ts, sig, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return time.Time{}, err
	}

	expected := ComputeSignature(secret, ts, rawBody)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return time.Time{}, ErrInvalidSignature
	}

	signedAt := time.Unix(ts, 0)
	age := now.Sub(signedAt)
	if age < 0 {
		age = -age
	}
	if age > v.tolerance {
		return time.Time{}, ErrStaleTimestamp
	}

	return signedAt, nil
}

// ComputeSignature returns the hex HMAC-SHA256 of "<ts>.<body>". Shared with
// the test-delivery CLI so both sides agree on the signing base.
func ComputeSignature(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader renders the header value the providers send.
func SignatureHeader(secret string, ts int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, ComputeSignature(secret, ts, body))
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>". A malformed header is
// treated as an invalid signature, not a missing one.
func parseSignatureHeader(header string) (int64, string, error) {
	var tsPart, sigPart string
	for _, part := range strings.Split(header, ",") {
		k, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			tsPart = val
		case "v1":
			sigPart = val
		}
	}
	if tsPart == "" || sigPart == "" {
		return 0, "", ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, "", ErrInvalidSignature
	}
	return ts, sigPart, nil
}
