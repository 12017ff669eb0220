// Package photo decodes uploaded data-URI images, applies an optional crop and
// re-encodes the result as JPEG.
package photo

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"
)

const (
	DefaultMaxBytes = 4 * 1024 * 1024
	DefaultQuality  = 90
	// DefaultMaxPixels bounds the decoded canvas, which is allocated twice.
	DefaultMaxPixels = 40_000_000

	jpegMIME = "image/jpeg"
)

var (
	ErrInvalidDataURI   = errors.New("invalid data uri")
	ErrUnsupportedImage = errors.New("unsupported image")
	ErrTooLarge         = errors.New("image exceeds size limit")
	ErrEmptyCrop        = errors.New("crop area does not intersect the image")
)

// Crop is a rectangle in source pixels.
type Crop struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (c Crop) rect() image.Rectangle {
	return image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height)
}

type Options struct {
	MaxBytes  int64
	MaxPixels int64
	Quality   int
	Crop      *Crop
}

func (o Options) withDefaults() Options {
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = DefaultMaxPixels
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	return o
}

// Image is a re-encoded JPEG.
type Image struct {
	Bytes  []byte
	MIME   string
	Width  int
	Height int
}

// DataURI renders the image back into a base64 data URI.
func (i *Image) DataURI() string {
	return "data:" + i.MIME + ";base64," + base64.StdEncoding.EncodeToString(i.Bytes)
}

// ParseDataURI splits a base64 data URI into its MIME type and decoded payload.
// maxBytes bounds the decoded size; zero disables the check.
func ParseDataURI(uri string, maxBytes int64) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURI)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing payload", ErrInvalidDataURI)
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: only base64 payloads are accepted", ErrInvalidDataURI)
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	if !strings.HasPrefix(mime, "image/") {
		return "", nil, fmt.Errorf("%w: %q is not an image type", ErrUnsupportedImage, mime)
	}
	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return "", nil, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, maxBytes)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), maxBytes)
	}
	return mime, data, nil
}

// Decode parses a data URI, crops it when requested and re-encodes it as JPEG.
func Decode(uri string, opts Options) (*Image, error) {
	opts = opts.withDefaults()
	_, data, err := ParseDataURI(uri, opts.MaxBytes)
	if err != nil {
		return nil, err
	}
	// check the header before the decoder allocates the canvas
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > opts.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, opts.MaxPixels)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	bounds := src.Bounds()
	if opts.Crop != nil {
		area := opts.Crop.rect().Add(bounds.Min).Intersect(bounds)
		if area.Empty() {
			return nil, ErrEmptyCrop
		}
		bounds = area
	}

	// jpeg has no alpha channel; flatten onto white first
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return &Image{
		Bytes:  buf.Bytes(),
		MIME:   jpegMIME,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
