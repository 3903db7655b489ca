package assets

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned for payloads that are not a decodable image.
var ErrUnsupportedFormat = errors.New("unsupported format")

var imageMIMEs = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
	"image/webp": true,
}

// Sniff returns the detected MIME type, or "" when unknown.
func Sniff(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}

// IsDocument reports whether data looks like a paginated document (PDF, EPUB, XPS).
func IsDocument(data []byte) bool {
	switch Sniff(data) {
	case "application/pdf", "application/epub+zip", "application/vnd.ms-xpsdocument":
		return true
	}
	return false
}

// DecodeImage decodes a bitmap, rejecting documents and unknown formats up front.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedFormat)
	}
	mime := Sniff(data)
	if !imageMIMEs[mime] {
		if mime == "" {
			mime = "unknown"
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mime)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mime, err)
	}
	return img, nil
}
