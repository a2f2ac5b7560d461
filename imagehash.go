// Package imagehash computes perceptual hashes for encoded images and renders
// them as strings. The hashing is delegated to goimagehash, this package
// decodes the bytes, normalises the image to a working resolution and
// configures the hash grid.
package imagehash

import (
	"errors"
	"fmt"
	"image"

	"github.com/alexgQQ/imagehash/hash"
	"github.com/kovidgoyal/imaging"
)

const (
	DefaultImageSize = 8
	DefaultHashSize  = 8
)

var ErrInvalidSize = errors.New("invalid hasher size")

// Hasher holds the configuration for a hash, the working resolution an image
// is resized to before hashing and the grid the hash bits are taken from.
// The With methods return a modified copy so a Hasher can be shared.
type Hasher struct {
	kind        hash.Kind
	imageWidth  int
	imageHeight int
	hashWidth   int
	hashHeight  int
	maxPixels   int
	filter      imaging.ResampleFilter
}

// Result is a computed hash along with what was learned while decoding.
type Result struct {
	Hash   *hash.Hash
	Format string
	Width  int
	Height int
}

// New returns a perceptual hasher with an 8x8 working resolution and an 8x8 hash grid.
func New() *Hasher {
	return &Hasher{
		kind:        hash.Perceptual,
		imageWidth:  DefaultImageSize,
		imageHeight: DefaultImageSize,
		hashWidth:   DefaultHashSize,
		hashHeight:  DefaultHashSize,
		maxPixels:   DefaultMaxPixels,
		filter:      imaging.Lanczos,
	}
}

func (h *Hasher) WithImageSize(width, height int) *Hasher {
	c := *h
	c.imageWidth, c.imageHeight = width, height
	return &c
}

func (h *Hasher) WithHashSize(width, height int) *Hasher {
	c := *h
	c.hashWidth, c.hashHeight = width, height
	return &c
}

func (h *Hasher) WithKind(kind hash.Kind) *Hasher {
	c := *h
	c.kind = kind
	return &c
}

// WithMaxPixels sets the largest image, in pixels, that will be decoded.
// Zero or less removes the limit.
func (h *Hasher) WithMaxPixels(n int) *Hasher {
	c := *h
	c.maxPixels = n
	return &c
}

// WithFilter sets the resampling filter used to reach the working resolution.
// For such small targets the Linear and Box filters work about as well as Lanczos.
func (h *Hasher) WithFilter(filter imaging.ResampleFilter) *Hasher {
	c := *h
	c.filter = filter
	return &c
}

func (h *Hasher) Kind() hash.Kind {
	return h.kind
}

// Validate checks the sizes, the hash grid has to cover a power of two
// number of cells and at least one 64 bit word.
func (h *Hasher) Validate() error {
	if h.imageWidth <= 0 || h.imageHeight <= 0 {
		return fmt.Errorf("%w: image size %dx%d", ErrInvalidSize, h.imageWidth, h.imageHeight)
	}
	if h.hashWidth <= 0 || h.hashHeight <= 0 {
		return fmt.Errorf("%w: hash size %dx%d", ErrInvalidSize, h.hashWidth, h.hashHeight)
	}
	area := h.hashWidth * h.hashHeight
	if area < 64 || area&(area-1) != 0 {
		return fmt.Errorf("%w: hash size %dx%d must cover a power of two of at least 64 cells", ErrInvalidSize, h.hashWidth, h.hashHeight)
	}
	return nil
}

// HashImage hashes an already decoded image.
func (h *Hasher) HashImage(img image.Image) (*hash.Hash, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	working := imaging.Resize(img, h.imageWidth, h.imageHeight, h.filter)
	return hash.Compute(working, h.kind, h.hashWidth, h.hashHeight)
}

// Sum decodes data and hashes it.
func (h *Hasher) Sum(data []byte) (*Result, error) {
	img, format, err := DecodeLimit(data, h.maxPixels)
	if err != nil {
		return nil, err
	}
	sum, err := h.HashImage(img)
	if err != nil {
		return nil, err
	}
	size := img.Bounds().Size()
	return &Result{Hash: sum, Format: format, Width: size.X, Height: size.Y}, nil
}

// Hash decodes data and returns the string form of its hash.
func (h *Hasher) Hash(data []byte) (string, error) {
	res, err := h.Sum(data)
	if err != nil {
		return "", err
	}
	return res.Hash.String(), nil
}

var defaultHasher = New()

// Compute returns the perceptual hash of the encoded image in data using
// an 8x8 working resolution and an 8x8 hash grid. Input that does not
// decode fails with an error matching ErrDecode.
func Compute(data []byte) (string, error) {
	return defaultHasher.Hash(data)
}

// MustCompute is like Compute but panics when data can not be hashed.
// Meant for embedding boundaries where a failure should halt the call.
func MustCompute(data []byte) string {
	s, err := Compute(data)
	if err != nil {
		panic(err)
	}
	return s
}
