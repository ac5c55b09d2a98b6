package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"consentvault/internal/pseudonym"
	"consentvault/pkg/domain"
)

// MasterKeySize is the required master key length.
const MasterKeySize = 32

// wrappedKeyVersion prefixes every wrapped key and is authenticated as AAD.
const wrappedKeyVersion byte = 0x01

// wrappedKeyOverhead is 1 (version) + 24 (nonce) + 16 (tag).
const wrappedKeyOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var hkdfInfoWrap = []byte("consentvault.subject-key.wrap.v1")

const kekFingerprintContext = "consentvault 2026-01 master key fingerprint v1"

// ErrKeyWrapMismatch means a stored key was wrapped under a different master
// key, or the wrapped blob was tampered with or moved to another subject.
var ErrKeyWrapMismatch = errors.New("key wrap mismatch")

// Wrapper seals subject keys at rest with XChaCha20-Poly1305 under a key
// derived from the master key.
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes] [Ciphertext+Tag: 32+16 bytes]
//
// The AAD is the version byte followed by the big-endian subject id, so a
// wrapped key only opens on the row it was written for.
type Wrapper struct {
	wrapKey []byte
	kekID   string
}

// NewWrapper derives the wrapping key from master.
func NewWrapper(master []byte) (*Wrapper, error) {
	if len(master) != MasterKeySize {
		return nil, fmt.Errorf("master key is %d bytes, want %d", len(master), MasterKeySize)
	}
	wrapKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, hkdfInfoWrap), wrapKey); err != nil {
		return nil, fmt.Errorf("derive wrap key: %w", err)
	}

	var fingerprint [16]byte
	blake3.DeriveKey(kekFingerprintContext, master, fingerprint[:])

	return &Wrapper{wrapKey: wrapKey, kekID: hex.EncodeToString(fingerprint[:])}, nil
}

// KEKID identifies the master key without revealing it.
func (w *Wrapper) KEKID() string {
	return w.kekID
}

// Wrap seals key for subject.
func (w *Wrapper) Wrap(subject domain.SubjectID, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(w.wrapKey)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	out := make([]byte, 1+chacha20poly1305.NonceSizeX, wrappedKeyOverhead+len(key))
	out[0] = wrappedKeyVersion
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], key, wrapAAD(wrappedKeyVersion, subject)), nil
}

// Unwrap opens a blob produced by Wrap for the same subject and master key.
func (w *Wrapper) Unwrap(subject domain.SubjectID, kekID string, blob []byte) ([]byte, error) {
	if kekID != w.kekID {
		return nil, fmt.Errorf("%w: stored kek %s, configured kek %s", ErrKeyWrapMismatch, kekID, w.kekID)
	}
	if len(blob) < wrappedKeyOverhead {
		return nil, fmt.Errorf("%w: wrapped key is %d bytes", ErrKeyWrapMismatch, len(blob))
	}
	if blob[0] != wrappedKeyVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrKeyWrapMismatch, blob[0])
	}

	aead, err := chacha20poly1305.NewX(w.wrapKey)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	key, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], wrapAAD(blob[0], subject))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyWrapMismatch, err)
	}
	if len(key) != pseudonym.KeySize {
		return nil, fmt.Errorf("%w: unwrapped key is %d bytes", ErrKeyWrapMismatch, len(key))
	}
	return key, nil
}

func wrapAAD(version byte, subject domain.SubjectID) []byte {
	aad := make([]byte, 9)
	aad[0] = version
	binary.BigEndian.PutUint64(aad[1:], uint64(subject))
	return aad
}

// newSubjectKey draws a fresh 256-bit subject key.
func newSubjectKey() ([]byte, error) {
	key := make([]byte, pseudonym.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating subject key: %w", err)
	}
	return key, nil
}
