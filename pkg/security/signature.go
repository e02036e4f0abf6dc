package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"
)

// ErrSignatureMismatch is returned when a callback signature does not verify.
var ErrSignatureMismatch = errors.New("signature mismatch")

// ErrSecretRequired is returned when signing is attempted without a secret.
var ErrSecretRequired = errors.New("signing secret required")

// ErrMalformedField is returned for a callback field that is empty or holds
// the separator or whitespace.
var ErrMalformedField = errors.New("malformed callback field")

// CallbackMessage joins the signed callback fields with "|". Fields must be
// non-empty and free of "|" and whitespace, so a message splits back into
// exactly one set of fields.
func CallbackMessage(parts ...string) (string, error) {
	for _, part := range parts {
		if part == "" || strings.ContainsFunc(part, separatorOrSpace) {
			return "", ErrMalformedField
		}
	}
	return strings.Join(parts, "|"), nil
}

func separatorOrSpace(r rune) bool {
	return r == '|' || unicode.IsSpace(r)
}

// Sign returns hex(HMAC-SHA256(secret, message)).
func Sign(secret, message string) (string, error) {
	if secret == "" {
		return "", ErrSecretRequired
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a hex signature in constant time. Malformed hex is a mismatch.
func Verify(secret, message, signature string) error {
	if secret == "" {
		return ErrSecretRequired
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(given) != sha256.Size {
		return ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	if !hmac.Equal(mac.Sum(nil), given) {
		return ErrSignatureMismatch
	}
	return nil
}
