// Package imageutil implements format detection, data-URI handling,
// WebP normalization and image-host upload shared by every provider
// adapter. It is grounded on the blank-import decode pattern used
// throughout the example pack (image/png, image/jpeg, image/gif plus
// golang.org/x/image/webp registered for side effects).
package imageutil

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp"
)

// Format is a detected or declared image container format.
type Format string

const (
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatGIF     Format = "gif"
	FormatBMP     Format = "bmp"
	FormatWebP    Format = "webp"
	FormatUnknown Format = ""
)

// MIME returns the canonical MIME type for f, or "" if unknown.
func (f Format) MIME() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatGIF:
		return "image/gif"
	case FormatBMP:
		return "image/bmp"
	case FormatWebP:
		return "image/webp"
	default:
		return ""
	}
}

// DetectFormat sniffs data's magic bytes and returns the matching format.
func DetectFormat(data []byte) Format {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{0x89, 0x50, 0x4E, 0x47}):
		return FormatPNG
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("GIF8")):
		return FormatGIF
	case len(data) >= 2 && bytes.Equal(data[:2], []byte{0x42, 0x4D}):
		return FormatBMP
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP
	default:
		return FormatUnknown
	}
}

// WebPToPNG decodes WebP-encoded data and re-encodes it as PNG. Callers
// should check DetectFormat(data) == FormatWebP first; this function
// still works on any format image/decode-registered format can read.
func WebPToPNG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imageutil: decode webp: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imageutil: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// reencodeJPEG decodes data and re-encodes it as a lossy JPEG at the
// given quality. compressAndWrap calls it for every JPEG input larger
// than largeImageThreshold.
func reencodeJPEG(data []byte, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imageutil: decode: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("imageutil: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
