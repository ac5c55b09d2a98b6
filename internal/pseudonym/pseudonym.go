// Package pseudonym derives the opaque identifier under which a subject's
// consent events are stored.
//
// A pseudonym is HMAC-SHA256(subject key, decimal subject id), hex encoded.
// Without the subject key the pseudonym cannot be recomputed, which is what
// makes destroying the key equivalent to unlinking every stored event.
package pseudonym

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"

	"consentvault/pkg/domain"
)

// KeySize is the required subject key length in bytes.
const KeySize = 32

// Length is the length of a pseudonym string (hex-encoded SHA-256).
const Length = sha256.Size * 2

// ErrInvalidKey is returned for a missing or wrongly sized key. Callers must
// confirm the subject key is active before deriving.
var ErrInvalidKey = errors.New("pseudonym: subject key must be 32 bytes")

// ErrInvalidSubject is returned for a non-positive subject id.
var ErrInvalidSubject = errors.New("pseudonym: subject id must be positive")

// Derive computes the pseudonym for subject under key. The result is stable
// for fixed inputs.
func Derive(subject domain.SubjectID, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", ErrInvalidKey
	}
	if subject.IsZero() {
		return "", ErrInvalidSubject
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(strconv.AppendInt(nil, int64(subject), 10))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
