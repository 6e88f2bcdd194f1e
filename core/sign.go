package core

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	tsEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
)

// TokenGenerator makes and checks timestamped, HMAC signed tokens of the form "<b32 days>-<signature>".
// A token is bound to whatever the caller hashes in (ids, password hashes, ...), so changing
// any of those values invalidates it.
type TokenGenerator struct {
	Salt    string
	Timeout time.Duration
	NowFunc func() time.Time
}

func (gen TokenGenerator) now() time.Time {
	if gen.NowFunc != nil {
		return gen.NowFunc()
	}
	return time.Now()
}

// Make generates a token for the given values.
func (gen TokenGenerator) Make(values ...string) string {
	return gen.makeWithTimestamp(numDaysSince2001(gen.now()), values)
}

// Verify checks that the token was made for values and has not expired.
func (gen TokenGenerator) Verify(token string, values ...string) error {
	if token == "" {
		return ErrInvalidToken
	}

	parts := strings.SplitN(token, "-", 2)
	if len(parts) < 2 {
		return ErrInvalidToken
	}

	data, err := tsEncoding.DecodeString(parts[0])
	if err != nil {
		return ErrInvalidToken
	}
	ts, err := strconv.Atoi(string(data))
	if err != nil {
		return ErrInvalidToken
	}

	// check that token has not been tampered with
	if subtle.ConstantTimeCompare([]byte(gen.makeWithTimestamp(ts, values)), []byte(token)) == 0 {
		return ErrInvalidToken
	}

	// check that the timestamp is within limit
	if (numDaysSince2001(gen.now()) - ts) > int(gen.Timeout/(24*time.Hour)) {
		return ErrTokenExpired
	}
	return nil
}

func (gen TokenGenerator) makeWithTimestamp(ts int, values []string) string {
	tsB32 := tsEncoding.EncodeToString([]byte(strconv.Itoa(ts)))

	var val bytes.Buffer
	for _, v := range values {
		val.WriteString(v)
		val.WriteByte(0)
	}
	val.WriteString(strconv.Itoa(ts))
	return fmt.Sprintf("%s-%s", tsB32, Sign(gen.Salt, val.Bytes()))
}

// Sign returns the base64 url encoded HMAC-SHA256 of val, keyed with salt and the app secret key.
func Sign(salt string, val []byte) string {
	key := sha256.Sum256([]byte(salt + Conf.SecretKey))
	h := hmac.New(sha256.New, key[:])
	h.Write(val)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// EncodeUID base64 encodes an object ID for use in URLs.
func EncodeUID(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// DecodeUID reverses EncodeUID.
func DecodeUID(uid string) (string, error) {
	idBytes, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return "", err
	}
	return string(idBytes), nil
}

func numDaysSince2001(t time.Time) int {
	ref := time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	return int(math.Ceil(t.Sub(ref).Hours() / 24))
}
