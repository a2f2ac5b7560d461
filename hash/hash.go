package hash

import (
	"errors"
	"fmt"
	"image"
	"math/bits"
	"slices"
	"strings"

	"github.com/corona10/goimagehash"
)

// The hashing, rendering and comparison are all done by goimagehash, this
// package ties them to named kinds with a duplicate threshold.
// The phash method is outlined here https://www.hackerfactor.com/blog/index.php?/archives/432-Looks-Like-It.html
// and the dhash method here https://www.hackerfactor.com/blog/index.php?/archives/529-Kind-of-Like-That.html

var (
	ErrKindMismatch = errors.New("hash kinds do not match")
	ErrSizeMismatch = errors.New("hash sizes do not match")
	ErrMalformed    = errors.New("malformed hash string")
)

// Kind names a hashing method along with the prefix used when it is rendered
// and the hamming distance under which two hashes are treated as duplicates.
type Kind struct {
	Name      string
	Prefix    string
	Threshold float64
	ext       goimagehash.Kind
}

var (
	Perceptual = Kind{Name: "phash", Prefix: "p", Threshold: 10, ext: goimagehash.PHash}
	Average    = Kind{Name: "ahash", Prefix: "a", Threshold: 8, ext: goimagehash.AHash}
	Difference = Kind{Name: "dhash", Prefix: "d", Threshold: 10, ext: goimagehash.DHash}
)

var Kinds = map[string]Kind{
	Perceptual.Name: Perceptual,
	Average.Name:    Average,
	Difference.Name: Difference,
}

func kindByExt(ext goimagehash.Kind) (Kind, bool) {
	for _, k := range Kinds {
		if k.ext == ext {
			return k, true
		}
	}
	return Kind{}, false
}

// Hash is a fixed size bit vector produced by one of the Kinds.
// Bits are packed most significant first into 64 bit words.
type Hash struct {
	kind Kind
	ext  *goimagehash.ExtImageHash
}

// New builds a hash from already computed words, mostly useful for tests
// and for values read back from storage.
func New(kind Kind, words ...uint64) *Hash {
	w := make([]uint64, len(words))
	copy(w, words)
	return &Hash{kind: kind, ext: goimagehash.NewExtImageHash(w, kind.ext, len(w)*64)}
}

// Compute hashes img with the given kind over a width x height grid.
// width*height has to be a power of two of at least 64.
func Compute(img image.Image, kind Kind, width, height int) (*Hash, error) {
	var (
		ext *goimagehash.ExtImageHash
		err error
	)
	switch kind.Name {
	case Perceptual.Name:
		ext, err = goimagehash.ExtPerceptionHash(img, width, height)
	case Average.Name:
		ext, err = goimagehash.ExtAverageHash(img, width, height)
	case Difference.Name:
		ext, err = goimagehash.ExtDifferenceHash(img, width, height)
	default:
		return nil, fmt.Errorf("unknown hash kind %q", kind.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("compute %s: %w", kind.Name, err)
	}
	return &Hash{kind: kind, ext: ext}, nil
}

func (h *Hash) Kind() Kind {
	return h.kind
}

// Bits is the number of bits carried by the hash.
func (h *Hash) Bits() int {
	return h.ext.Bits()
}

// Words returns a copy of the packed hash bits.
func (h *Hash) Words() []uint64 {
	return slices.Clone(h.ext.GetHash())
}

// String is the kind prefix followed by the big endian hex of each word,
// e.g. p:d1c4e0f0b0a0c8e8
func (h *Hash) String() string {
	return h.ext.ToString()
}

// Parse reverses String.
func Parse(s string) (*Hash, error) {
	_, digits, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("%w: missing kind prefix in %q", ErrMalformed, s)
	}
	if len(digits) == 0 || len(digits)%16 != 0 {
		return nil, fmt.Errorf("%w: %q is not a whole number of words", ErrMalformed, digits)
	}
	ext, err := goimagehash.ExtImageHashFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	// The parser stops at the first space, anything it skipped is garbage
	if len(ext.GetHash())*16 != len(digits) {
		return nil, fmt.Errorf("%w: trailing data in %q", ErrMalformed, s)
	}
	kind, ok := kindByExt(ext.GetKind())
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind in %q", ErrMalformed, s)
	}
	return &Hash{kind: kind, ext: ext}, nil
}

// Distance is the hamming distance between two hashes of the same kind and size.
func Distance(a, b *Hash) (int, error) {
	if a.kind != b.kind {
		return 0, fmt.Errorf("%w: %s and %s", ErrKindMismatch, a.kind.Name, b.kind.Name)
	}
	if a.Bits() != b.Bits() {
		return 0, fmt.Errorf("%w: %d and %d bits", ErrSizeMismatch, a.Bits(), b.Bits())
	}
	return a.ext.Distance(b.ext)
}

func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
