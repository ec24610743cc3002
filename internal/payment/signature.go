package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_pay/internal/domain"
)

const SignatureHeader = "Payment-Signature"

const defaultTolerance = 5 * time.Minute

// Verifier checks "t=<unix>,v1=<hex>" signature headers: HMAC-SHA256 of "<t>.<payload>"
// keyed with the endpoint secret. Several v1 entries may be present during secret rotation.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:    []byte(secret),
		tolerance: defaultTolerance,
		now:       time.Now,
	}
}

func (v *Verifier) Verify(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no webhook secret configured", domain.ErrInvalidSignature)
	}

	var (
		ts         int64
		haveTS     bool
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", domain.ErrInvalidSignature)
			}
			ts, haveTS = n, true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err == nil {
				signatures = append(signatures, sig)
			}
		}
	}
	if !haveTS || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed header", domain.ErrInvalidSignature)
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", domain.ErrInvalidSignature)
	}

	expected := v.mac(ts, payload)
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", domain.ErrInvalidSignature)
}

// Sign produces a header value for payload at time ts.
func (v *Verifier) Sign(payload []byte, ts time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(v.mac(ts.Unix(), payload)))
}

func (v *Verifier) mac(ts int64, payload []byte) []byte {
	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(strconv.FormatInt(ts, 10)))
	m.Write([]byte("."))
	m.Write(payload)
	return m.Sum(nil)
}
