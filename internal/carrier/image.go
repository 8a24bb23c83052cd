package carrier

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	// registered decoders for image carriers
	_ "image/jpeg"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/atinyakov/GophStego/internal/carrier/lsb"
	"github.com/atinyakov/GophStego/internal/models"
)

// ImageCodec hides data in the pixel LSBs of raster images.
type ImageCodec struct{}

// Kind implements Codec.
func (ImageCodec) Kind() Kind { return Image }

// Capacity reads only the image header.
func (ImageCodec) Capacity(carrier []byte) (int, error) {
	if err := requireImage(carrier); err != nil {
		return 0, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(carrier))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrUnsupportedFormat, err)
	}
	if err := checkDepth(cfg.ColorModel); err != nil {
		return 0, err
	}
	return lsb.Capacity(cfg.Width, cfg.Height, lsb.Channels), nil
}

// Embed decodes the carrier, writes data into its LSB plane and encodes the
// result losslessly (see OutputFormat).
func (ImageCodec) Embed(carrier, data []byte) ([]byte, error) {
	img, format, err := Decode(carrier)
	if err != nil {
		return nil, err
	}
	if err := lsb.Embed(img, data); err != nil {
		return nil, err
	}
	return Encode(img, OutputFormat(format))
}

// Extract decodes the carrier and reads its LSB plane.
func (ImageCodec) Extract(carrier []byte) ([]byte, error) {
	img, _, err := Decode(carrier)
	if err != nil {
		return nil, err
	}
	return lsb.Extract(img)
}

// Decode decodes an image carrier into an 8-bit NRGBA grid. Carriers with
// 16-bit samples are rejected with ErrUnsupportedFormat.
func Decode(carrier []byte) (*image.NRGBA, Format, error) {
	if err := requireImage(carrier); err != nil {
		return nil, "", err
	}
	_, format, _ := Detect(carrier)
	img, _, err := image.Decode(bytes.NewReader(carrier))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode %s: %v", models.ErrUnsupportedFormat, format, err)
	}
	if err := checkDepth(img.ColorModel()); err != nil {
		return nil, "", err
	}
	return lsb.ToNRGBA(img), format, nil
}

// Encode writes img in format f. Only lossless formats are accepted.
func Encode(img *image.NRGBA, f Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch f {
	case PNG:
		err = png.Encode(&buf, img)
	case BMP:
		err = bmp.Encode(&buf, img)
	case TIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return nil, fmt.Errorf("%w: cannot write %s losslessly", models.ErrUnsupportedFormat, f)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f, err)
	}
	return buf.Bytes(), nil
}

func requireImage(carrier []byte) error {
	kind, _, err := Detect(carrier)
	if err != nil {
		return err
	}
	if kind != Image {
		return fmt.Errorf("%w: %s carrier given to image codec", models.ErrUnsupportedFormat, kind)
	}
	return nil
}

// checkDepth rejects color models with more than 8 bits per sample. The LSB
// grid is 8-bit, so such carriers would lose their low byte.
func checkDepth(m color.Model) error {
	switch m {
	case color.RGBA64Model, color.NRGBA64Model, color.Gray16Model, color.Alpha16Model:
		return fmt.Errorf("%w: 16-bit samples are not supported", models.ErrUnsupportedFormat)
	}
	return nil
}
