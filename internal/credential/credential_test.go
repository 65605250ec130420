package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/testboil"
)

func referenceToken(id, secret string, ms int64) string {
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"HS256","sign_type":"SIGN"}`))
	payload := enc.EncodeToString([]byte(
		`{"api_key":"` + id + `","exp":` + strconv.FormatInt(ms+3600*1000, 10) + `,"timestamp":` + strconv.FormatInt(ms, 10) + `}`,
	))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(header + "." + payload))
	return header + "." + payload + "." + enc.EncodeToString(mac.Sum(nil))
}

func TestSign_MatchesReference(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	got := Sign("id123.secretkey", at)
	want := referenceToken("id123", "secretkey", 1700000000123)
	testboil.FailTestIfDiff(t, got, want)
}

func TestSign_Deterministic(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	a := Sign("id123.secretkey", at)
	b := Sign("id123.secretkey", at)
	testboil.FailTestIfDiff(t, a, b)
	if strings.Count(a, ".") != 2 {
		t.Fatalf("expected three segments, got %q", a)
	}
	if strings.Contains(a, "=") {
		t.Fatalf("token must not carry base64 padding: %q", a)
	}
}

func TestSign_MalformedKeyReturnedUnchanged(t *testing.T) {
	for _, key := range []string{"noseparator", ".secret", "id.", ""} {
		got := Sign(key, time.Now())
		testboil.FailTestIfDiff(t, got, key)
	}
}

func TestSigner_UsesClock(t *testing.T) {
	at := time.UnixMilli(1700000000999)
	s := &Signer{Key: "id123.secretkey", Now: func() time.Time { return at }}
	testboil.FailTestIfDiff(t, s.Credential(), referenceToken("id123", "secretkey", 1700000000999))
}

func TestRaw_Credential(t *testing.T) {
	testboil.FailTestIfDiff(t, Raw("k").Credential(), "k")
}
