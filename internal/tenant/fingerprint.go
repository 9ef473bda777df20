package tenant

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprinter produces keyed one-way fingerprints of caller numbers.
// Raw caller numbers are never stored or logged; everything downstream
// (classifier history, call records, audit events) sees only the
// fingerprint. The key makes fingerprints useless outside this deployment.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter creates a fingerprinter with a 32-byte key.
func NewFingerprinter(key []byte) (*Fingerprinter, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("fingerprint key must be 32 bytes, got %d", len(key))
	}
	// Validate the key against blake2b up front so Fingerprint can't fail.
	if _, err := blake2b.New256(key); err != nil {
		return nil, fmt.Errorf("initializing keyed hash: %w", err)
	}
	return &Fingerprinter{key: key}, nil
}

// Fingerprint returns the hex-encoded keyed hash of a normalized number.
func (f *Fingerprinter) Fingerprint(number string) string {
	h, _ := blake2b.New256(f.key) // key validated in NewFingerprinter
	h.Write([]byte(normalizeNumber(number)))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeNumber strips formatting so equivalent dial strings fingerprint
// identically. A leading + is preserved; all other non-digits are dropped.
func normalizeNumber(number string) string {
	var b strings.Builder
	for i, r := range number {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
