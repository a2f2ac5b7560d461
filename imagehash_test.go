package imagehash

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/alexgQQ/imagehash/hash"
	"golang.org/x/image/bmp"
)

// pattern builds a grayscale image out of blocks of random intensity,
// the same seed always gives the same image
func pattern(seed uint64, size, blocks int) *image.Gray {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	img := image.NewGray(image.Rect(0, 0, size, size))
	step := size / blocks
	for by := 0; by < blocks; by++ {
		for bx := 0; bx < blocks; bx++ {
			v := color.Gray{Y: uint8(r.IntN(256))}
			for y := by * step; y < (by+1)*step; y++ {
				for x := bx * step; x < (bx+1)*step; x++ {
					img.SetGray(x, y, v)
				}
			}
		}
	}
	return img
}

func solid(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t testing.TB, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("Failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestComputeDeterministic(t *testing.T) {
	data := encodePNG(t, pattern(1, 256, 8))
	first, err := Compute(data)
	if err != nil {
		t.Fatalf("Compute returned an error: %v", err)
	}
	for range 5 {
		again, err := Compute(data)
		if err != nil {
			t.Fatalf("Compute returned an error: %v", err)
		}
		if again != first {
			t.Errorf("Expected the same hash for the same input, got %s and %s", first, again)
		}
	}
}

func TestComputeSolidColor(t *testing.T) {
	data := encodePNG(t, solid(8, 8, color.RGBA{R: 200, G: 40, B: 90, A: 255}))
	first := MustCompute(data)
	if second := MustCompute(data); first != second {
		t.Errorf("A solid 8x8 image should hash the same every time, got %s and %s", first, second)
	}
}

func TestComputeShape(t *testing.T) {
	images := map[string]image.Image{
		"1x1":      solid(1, 1, color.White),
		"3x7":      solid(3, 7, color.Black),
		"640x480":  solid(640, 480, color.Gray{Y: 128}),
		"pattern":  pattern(2, 256, 8),
		"tall":     pattern(3, 64, 4).SubImage(image.Rect(0, 0, 10, 64)),
		"gray 2x2": image.NewGray(image.Rect(0, 0, 2, 2)),
	}
	for name, img := range images {
		s, err := Compute(encodePNG(t, img))
		if err != nil {
			t.Errorf("Compute %s returned an error: %v", name, err)
			continue
		}
		if len(s) != 18 || !strings.HasPrefix(s, "p:") {
			t.Errorf("Expected an 18 character perceptual hash for %s, got %q", name, s)
		}
		if _, err := hash.Parse(s); err != nil {
			t.Errorf("The hash for %s does not parse: %v", name, err)
		}
	}
}

func TestComputeFormats(t *testing.T) {
	img := pattern(4, 64, 8)
	encoders := map[string]func(*bytes.Buffer) error{
		"gif": func(b *bytes.Buffer) error { return gif.Encode(b, img, nil) },
		"bmp": func(b *bytes.Buffer) error { return bmp.Encode(b, img) },
		"jpeg": func(b *bytes.Buffer) error {
			return jpeg.Encode(b, img, &jpeg.Options{Quality: 90})
		},
	}
	for name, encode := range encoders {
		var buf bytes.Buffer
		if err := encode(&buf); err != nil {
			t.Fatalf("Failed to encode %s: %v", name, err)
		}
		res, err := New().Sum(buf.Bytes())
		if err != nil {
			t.Errorf("Sum %s returned an error: %v", name, err)
			continue
		}
		if res.Format != name {
			t.Errorf("Expected format %s, got %s", name, res.Format)
		}
		if res.Width != 64 || res.Height != 64 {
			t.Errorf("Expected 64x64 for %s, got %dx%d", name, res.Width, res.Height)
		}
	}
}

func TestComputeInvalid(t *testing.T) {
	full := encodePNG(t, pattern(5, 256, 8))
	inputs := map[string][]byte{
		"empty":     {},
		"nil":       nil,
		"text":      []byte(strings.Repeat("not an image at all ", 20)),
		"truncated": full[:len(full)/2],
	}
	for name, data := range inputs {
		s, err := Compute(data)
		if err == nil {
			t.Errorf("Compute %s should fail but returned %q", name, s)
			continue
		}
		if !errors.Is(err, ErrDecode) {
			t.Errorf("Compute %s should fail with ErrDecode, got %v", name, err)
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("Compute %s should fail with a DecodeError, got %T", name, err)
		}
	}

	_, err := Compute(nil)
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("An empty buffer should report ErrEmptyInput, got %v", err)
	}

	_, err = Compute(full[:len(full)/2])
	var de *DecodeError
	if errors.As(err, &de) && de.Format != "png" {
		t.Errorf("A truncated png should still report its format, got %q", de.Format)
	}
}

// pngHeader is a png that stops after a valid IHDR chunk claiming the given size
func pngHeader(width, height uint32) []byte {
	ihdr := make([]byte, 0, 17)
	ihdr = append(ihdr, "IHDR"...)
	ihdr = binary.BigEndian.AppendUint32(ihdr, width)
	ihdr = binary.BigEndian.AppendUint32(ihdr, height)
	// 8 bit RGBA, no interlace
	ihdr = append(ihdr, 8, 6, 0, 0, 0)

	buf := []byte("\x89PNG\r\n\x1a\n")
	buf = binary.BigEndian.AppendUint32(buf, 13)
	buf = append(buf, ihdr...)
	return binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(ihdr))
}

func TestComputeTooLarge(t *testing.T) {
	_, err := Compute(pngHeader(30000, 30000))
	if !errors.Is(err, ErrTooLarge) || !errors.Is(err, ErrDecode) {
		t.Fatalf("A 30000x30000 header should be rejected before decoding, got %v", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Format != "png" {
		t.Errorf("The rejection should still report the png format, got %v", err)
	}

	// Right at the limit the header is accepted and only the missing pixel data fails
	_, err = Compute(pngHeader(8192, 8192))
	if errors.Is(err, ErrTooLarge) || !errors.Is(err, ErrDecode) {
		t.Errorf("An 8192x8192 header is within the limit, got %v", err)
	}
}

func TestHasherMaxPixels(t *testing.T) {
	data := encodePNG(t, pattern(6, 64, 8))
	if _, err := New().WithMaxPixels(100).Hash(data); !errors.Is(err, ErrTooLarge) {
		t.Errorf("A 64x64 image should exceed a 100 pixel limit, got %v", err)
	}
	if _, err := New().WithMaxPixels(64 * 64).Hash(data); err != nil {
		t.Errorf("A 64x64 image fits a 4096 pixel limit, got %v", err)
	}
	if _, err := New().WithMaxPixels(0).Hash(data); err != nil {
		t.Errorf("A zero limit should disable the check, got %v", err)
	}
}

func TestMustComputePanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("MustCompute should panic on invalid input")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrDecode) {
			t.Errorf("MustCompute should panic with a decode error, got %v", r)
		}
	}()
	MustCompute([]byte("garbage"))
}

func TestComputeSimilarity(t *testing.T) {
	img := pattern(6, 256, 8)
	original, err := New().Sum(encodePNG(t, img))
	if err != nil {
		t.Fatal(err)
	}
	reencoded, err := New().Sum(encodeJPEG(t, img, 95))
	if err != nil {
		t.Fatal(err)
	}
	dist, err := hash.Distance(original.Hash, reencoded.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if float64(dist) >= hash.Perceptual.Threshold {
		t.Errorf("A re-encoded image should hash close to the original, distance %d", dist)
	}

	other, err := New().Sum(encodePNG(t, pattern(7, 256, 8)))
	if err != nil {
		t.Fatal(err)
	}
	if other.Hash.String() == original.Hash.String() {
		t.Error("Different images should not share a hash")
	}
}

func TestHasherKinds(t *testing.T) {
	data := encodePNG(t, pattern(8, 128, 8))
	for _, kind := range hash.Kinds {
		s, err := New().WithKind(kind).Hash(data)
		if err != nil {
			t.Errorf("Hash with %s returned an error: %v", kind.Name, err)
			continue
		}
		if !strings.HasPrefix(s, kind.Prefix+":") {
			t.Errorf("Expected the %s prefix, got %s", kind.Name, s)
		}
	}
}

func TestHasherSizes(t *testing.T) {
	data := encodePNG(t, pattern(9, 128, 8))
	s, err := New().WithImageSize(32, 32).WithHashSize(16, 16).Hash(data)
	if err != nil {
		t.Fatalf("Hash returned an error: %v", err)
	}
	// 256 bits is 4 words of 16 hex characters each
	if len(s) != 2+64 {
		t.Errorf("Expected a 256 bit hash, got %s", s)
	}
}

func TestHasherValidate(t *testing.T) {
	invalid := map[string]*Hasher{
		"zero image":   New().WithImageSize(0, 8),
		"negative":     New().WithImageSize(8, -1),
		"small grid":   New().WithHashSize(4, 4),
		"odd grid":     New().WithHashSize(8, 9),
		"zero grid":    New().WithHashSize(0, 64),
		"not a square": New().WithHashSize(3, 64),
	}
	data := encodePNG(t, solid(4, 4, color.White))
	for name, h := range invalid {
		if err := h.Validate(); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("%s: expected ErrInvalidSize, got %v", name, err)
		}
		if _, err := h.Hash(data); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("%s: Hash should fail with ErrInvalidSize, got %v", name, err)
		}
	}
	if err := New().WithHashSize(16, 4).Validate(); err != nil {
		t.Errorf("A 16x4 grid is 64 cells and should be valid, got %v", err)
	}
}

func TestWithDoesNotMutate(t *testing.T) {
	h := New()
	_ = h.WithKind(hash.Difference).WithHashSize(16, 16)
	if h.Kind() != hash.Perceptual {
		t.Error("With methods should not modify the receiver")
	}
	if err := h.Validate(); err != nil {
		t.Errorf("The default hasher should stay valid, got %v", err)
	}
}
