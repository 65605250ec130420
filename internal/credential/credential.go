package credential

import (
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenLifetime is how long a signed token stays valid.
const TokenLifetime = 3600 * time.Second

// Provider turns the configured API key into the value sent as the bearer credential.
type Provider interface {
	Credential() string
}

// Raw sends the configured key unchanged.
type Raw string

func (r Raw) Credential() string { return string(r) }

// Signer derives a short-lived compact signed token from an "id.secret" key.
type Signer struct {
	Key string
	Now func() time.Time
}

// NewSigner creates a signer using the wall clock.
func NewSigner(key string) *Signer {
	return &Signer{Key: key, Now: time.Now}
}

// Credential returns a freshly signed token, or the raw key when it cannot be signed.
func (s *Signer) Credential() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return Sign(s.Key, now())
}

// Sign builds the token for key at the given instant. Header and claims are
// serialized as compact JSON with sorted keys and base64url without padding.
// Timestamps are milliseconds since the epoch.
func Sign(key string, at time.Time) string {
	id, secret, ok := strings.Cut(key, ".")
	if !ok || id == "" || secret == "" {
		slog.Warn("api key is not in id.secret form, sending it unsigned")
		return key
	}

	ms := at.UnixMilli()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"api_key":   id,
		"exp":       ms + TokenLifetime.Milliseconds(),
		"timestamp": ms,
	})
	delete(token.Header, "typ")
	token.Header["sign_type"] = "SIGN"

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		slog.Warn("failed to sign api token, sending key unsigned", "err", err)
		return key
	}
	return signed
}
