package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds the age of a signed delivery.
const DefaultTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrInvalidHeader    = errors.New("malformed signature header")
	ErrSignatureExpired = errors.New("signature timestamp outside tolerance")
	ErrSignatureInvalid = errors.New("signature mismatch")
)

// VerifySignature checks a "t=<unix>,v1=<hex>" header against an HMAC-SHA256
// of "<t>.<payload>". Any of several v1 entries may match, which covers secret rotation.
func VerifySignature(payload []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	header = strings.TrimSpace(header)
	secret = strings.TrimSpace(secret)
	if header == "" || secret == "" {
		return ErrMissingSignature
	}

	var ts string
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			decoded, err := hex.DecodeString(strings.ToLower(value))
			if err != nil {
				continue
			}
			sigs = append(sigs, decoded)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrInvalidHeader
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidHeader
	}
	signedAt := time.Unix(unix, 0)
	if tolerance > 0 {
		if age := now.Sub(signedAt); age > tolerance || age < -tolerance {
			return ErrSignatureExpired
		}
	}

	expected := computeSignature(ts, payload, []byte(secret))
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

// SignatureHeader builds the header value a provider would send. Used by tests and the local replay tooling.
func SignatureHeader(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(computeSignature(ts, payload, []byte(secret)))
}

func computeSignature(ts string, payload, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
