package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the HMAC of a generic webhook body when the
// channel config sets "secret".
//
// Format: t=<unix>,v1=<hex>[,v1_old=<hex>]
//
// The signed content is "<unix>.<body>" where body is the uncompressed JSON.
// During rotation, "previous_secret" with a future
// "previous_secret_expires_at" (RFC3339) adds a v1_old signature.
const SignatureHeader = "X-AlertRelay-Signature"

// signPayload returns the header value for payload, or "" when cfg has no
// secret.
func signPayload(payload []byte, cfg map[string]any, now time.Time) string {
	secret, _ := cfg["secret"].(string)
	if secret == "" {
		return ""
	}

	ts := now.Unix()
	content := fmt.Sprintf("%d.%s", ts, payload)
	header := fmt.Sprintf("t=%d,v1=%s", ts, computeHMAC(content, secret))

	prev, _ := cfg["previous_secret"].(string)
	expires, _ := cfg["previous_secret_expires_at"].(string)
	if prev == "" || expires == "" {
		return header
	}
	// An unparseable expiry never extends the old secret.
	expiresAt, err := time.Parse(time.RFC3339, expires)
	if err != nil || now.After(expiresAt) {
		return header
	}
	return header + ",v1_old=" + computeHMAC(content, prev)
}

// VerifySignature checks header against payload using secret and rejects
// signatures older than tolerance. Receivers can use it to authenticate
// deliveries; a zero tolerance disables the age check.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) bool {
	var ts string
	var sigs []string
	for _, segment := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(segment), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1", "v1_old":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 || secret == "" {
		return false
	}

	if tolerance > 0 {
		unix, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return false
		}
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}

	expected := computeHMAC(ts+"."+string(payload), secret)
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func computeHMAC(content, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}
