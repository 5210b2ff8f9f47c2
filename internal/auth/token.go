package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

var errMalformedToken = errors.New("malformed token")

// Tokens issues and checks opaque bearer tokens of the form "{id}|{secret}".
// Only an HMAC of the secret is persisted.
type Tokens struct {
	key []byte
}

func NewTokens(secretKey string) *Tokens {
	return &Tokens{key: []byte(secretKey)}
}

// NewSecret returns 40 bytes of randomness, URL-safe encoded.
func (t *Tokens) NewSecret() (string, error) {
	buf := make([]byte, 40)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (t *Tokens) Hash(secret string) string {
	mac := hmac.New(sha256.New, t.key)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether secret matches a stored hash.
func (t *Tokens) Verify(secret, hash string) bool {
	expected, err := hex.DecodeString(hash)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, t.key)
	mac.Write([]byte(secret))
	return hmac.Equal(mac.Sum(nil), expected)
}

func Format(id uint, secret string) string {
	return strconv.FormatUint(uint64(id), 10) + "|" + secret
}

// Parse splits a plain token into its id and secret.
func Parse(plain string) (uint, string, error) {
	idPart, secret, ok := strings.Cut(plain, "|")
	if !ok || secret == "" {
		return 0, "", errMalformedToken
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || id == 0 {
		return 0, "", errMalformedToken
	}
	return uint(id), secret, nil
}
