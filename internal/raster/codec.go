// Package raster implements the image preprocessing and augmentation
// pipelines.
package raster

import (
	"bytes"
	"encoding/json"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/msto63/mediaprep/internal/codec"
	"github.com/msto63/mediaprep/internal/pipeline"
)

// MaxPixels bounds the decoded image area
const MaxPixels = 64 << 20

// Decode reads a base64 image (PNG, JPEG, GIF, BMP or WebP, with or
// without data URL prefix) from a JSON string.
func Decode(raw json.RawMessage) (*image.NRGBA, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, pipeline.InvalidPayload("image must be a base64 string")
	}

	b, err := codec.DecodeBase64(s)
	if err != nil {
		return nil, err
	}

	return DecodeBytes(b)
}

// DecodeBytes decodes an encoded image
func DecodeBytes(b []byte) (*image.NRGBA, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, pipeline.InvalidPayload("image: %v", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxPixels {
		return nil, pipeline.InvalidPayload("%s image of %dx%d pixels is not supported", format, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, pipeline.InvalidPayload("image: %v", err)
	}
	return imaging.Clone(img), nil
}

// EncodePNG returns img as PNG bytes
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DataURL returns img as a PNG data URL
func DataURL(img *image.NRGBA) (any, error) {
	b, err := EncodePNG(img)
	if err != nil {
		return nil, err
	}
	return codec.EncodeDataURL("image/png", b), nil
}
