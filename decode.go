package imagehash

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxPixels bounds how large an image Decode accepts, the decoders
// allocate the whole pixel buffer up front from the header alone.
const DefaultMaxPixels = 64 << 20

var (
	ErrDecode     = errors.New("failed to decode image")
	ErrEmptyInput = errors.New("empty image data")
	ErrTooLarge   = errors.New("image is too large")
	errNoPixels   = errors.New("image has no pixels")
)

// DecodeError is returned for any input that does not decode to an image.
// Format is set when the header was recognised but the body was not.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("decode image: %v", e.Err)
	}
	return fmt.Sprintf("decode %s image: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Decode turns encoded image bytes into an image using any of the registered
// formats (png, jpeg, gif, bmp, tiff, webp) and reports which one matched.
// Images over DefaultMaxPixels are rejected.
func Decode(data []byte) (image.Image, string, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with a custom pixel limit, maxPixels <= 0 disables it.
func DecodeLimit(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", &DecodeError{Err: ErrEmptyInput}
	}

	// Sniff the format first so a truncated file still reports what it claimed to be
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, format, &DecodeError{
			Format: format,
			Err:    fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels),
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, &DecodeError{Format: format, Err: err}
	}
	if img.Bounds().Empty() {
		return nil, format, &DecodeError{Format: format, Err: errNoPixels}
	}
	return img, format, nil
}
