// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// Algorithm identifies a digest function.
type Algorithm uint8

const (
	// XXH64 is the default, non-cryptographic algorithm.
	XXH64 Algorithm = 1

	// BLAKE3 is keyed BLAKE3-256.
	BLAKE3 Algorithm = 2
)

// Default is used when a session does not choose an algorithm.
const Default = XXH64

// maxDigestSize is the largest digest any algorithm produces.
const maxDigestSize = 32

// String returns the algorithm's canonical name.
func (a Algorithm) String() string {
	switch a {
	case XXH64:
		return "xxh64"
	case BLAKE3:
		return "blake3"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Size returns the digest length in bytes, or 0 for an unknown
// algorithm.
func (a Algorithm) Size() int {
	switch a {
	case XXH64:
		return 8
	case BLAKE3:
		return 32
	default:
		return 0
	}
}

// Valid reports whether a names a supported algorithm.
func (a Algorithm) Valid() bool { return a.Size() > 0 }

// ParseAlgorithm parses an algorithm name. The empty string selects
// [Default].
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(name) {
	case "":
		return Default, nil
	case "xxh64", "xxhash", "xxhash64":
		return XXH64, nil
	case "blake3":
		return BLAKE3, nil
	default:
		return 0, fmt.Errorf("unknown fingerprint algorithm %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("marshaling invalid fingerprint algorithm %d", uint8(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Algorithm) UnmarshalText(text []byte) error {
	parsed, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Fingerprint is the digest of a byte sequence under one algorithm.
// The zero value is not a valid fingerprint; see IsZero.
type Fingerprint struct {
	algorithm Algorithm
	digest    [maxDigestSize]byte
}

// Algorithm returns the algorithm that produced the fingerprint.
func (f Fingerprint) Algorithm() Algorithm { return f.algorithm }

// Bytes returns a copy of the digest bytes.
func (f Fingerprint) Bytes() []byte {
	out := make([]byte, f.algorithm.Size())
	copy(out, f.digest[:])
	return out
}

// IsZero reports whether f is the zero value.
func (f Fingerprint) IsZero() bool { return f.algorithm == 0 }

// String returns "<algorithm>:<hex>".
func (f Fingerprint) String() string {
	if f.IsZero() {
		return ""
	}
	return f.algorithm.String() + ":" + hex.EncodeToString(f.digest[:f.algorithm.Size()])
}

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*f = Fingerprint{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Parse parses the "<algorithm>:<hex>" form.
func Parse(text string) (Fingerprint, error) {
	name, hexDigest, found := strings.Cut(text, ":")
	if !found {
		return Fingerprint{}, fmt.Errorf("parsing fingerprint %q: missing algorithm prefix", text)
	}
	algorithm, err := ParseAlgorithm(name)
	if err != nil || name == "" {
		return Fingerprint{}, fmt.Errorf("parsing fingerprint %q: unknown algorithm %q", text, name)
	}
	decoded, err := hex.DecodeString(hexDigest)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("parsing fingerprint %q: %w", text, err)
	}
	if len(decoded) != algorithm.Size() {
		return Fingerprint{}, fmt.Errorf("parsing fingerprint %q: %s digest is %d bytes, want %d",
			text, algorithm, len(decoded), algorithm.Size())
	}
	return FromBytes(algorithm, decoded)
}

// FromBytes builds a Fingerprint from raw digest bytes.
func FromBytes(algorithm Algorithm, digest []byte) (Fingerprint, error) {
	if !algorithm.Valid() {
		return Fingerprint{}, fmt.Errorf("unknown fingerprint algorithm %d", uint8(algorithm))
	}
	if len(digest) != algorithm.Size() {
		return Fingerprint{}, fmt.Errorf("%s digest is %d bytes, want %d", algorithm, len(digest), algorithm.Size())
	}
	fingerprint := Fingerprint{algorithm: algorithm}
	copy(fingerprint.digest[:], digest)
	return fingerprint, nil
}

// Digest computes the fingerprint of data. Panics on an invalid
// algorithm; callers validate algorithms at session registration.
func Digest(algorithm Algorithm, data []byte) Fingerprint {
	switch algorithm {
	case XXH64:
		fingerprint := Fingerprint{algorithm: XXH64}
		binary.BigEndian.PutUint64(fingerprint.digest[:8], xxhash.Sum64(data))
		return fingerprint
	case BLAKE3:
		hasher := newKeyedBLAKE3()
		hasher.Write(data)
		return sum(BLAKE3, hasher)
	default:
		panic(fmt.Sprintf("fingerprint: digest with invalid algorithm %d", uint8(algorithm)))
	}
}

// Verify reports whether data hashes to expected under expected's
// algorithm. A zero expected fingerprint never verifies.
func Verify(data []byte, expected Fingerprint) bool {
	if expected.IsZero() || !expected.algorithm.Valid() {
		return false
	}
	return Digest(expected.algorithm, data) == expected
}

// Hasher computes a fingerprint incrementally. It implements io.Writer
// so an assembled artifact can be digested while it is written.
type Hasher struct {
	algorithm Algorithm
	inner     hash.Hash
}

// NewHasher returns a streaming hasher for algorithm.
func NewHasher(algorithm Algorithm) (*Hasher, error) {
	switch algorithm {
	case XXH64:
		return &Hasher{algorithm: XXH64, inner: xxhash.New()}, nil
	case BLAKE3:
		return &Hasher{algorithm: BLAKE3, inner: newKeyedBLAKE3()}, nil
	default:
		return nil, fmt.Errorf("unknown fingerprint algorithm %d", uint8(algorithm))
	}
}

// Write adds p to the running digest. It never returns an error.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.inner.Write(p)
}

// Fingerprint returns the digest of everything written so far.
func (h *Hasher) Fingerprint() Fingerprint {
	return sum(h.algorithm, h.inner)
}

func sum(algorithm Algorithm, h hash.Hash) Fingerprint {
	fingerprint := Fingerprint{algorithm: algorithm}
	copy(fingerprint.digest[:], h.Sum(nil))
	return fingerprint
}

// uploadDomainKey keys BLAKE3 so upload fingerprints live in their
// own hash domain. The bytes are ASCII, zero-padded to 32.
var uploadDomainKey = [32]byte{
	'r', 'e', 'a', 's', 's', 'e', 'm', 'b', 'l', 'y', '.', 'u', 'p', 'l', 'o', 'a',
	'd', '.', 'c', 'h', 'u', 'n', 'k', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func newKeyedBLAKE3() *blake3.Hasher {
	// NewKeyed only fails for a key that is not 32 bytes.
	hasher, err := blake3.NewKeyed(uploadDomainKey[:])
	if err != nil {
		panic("fingerprint: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}
