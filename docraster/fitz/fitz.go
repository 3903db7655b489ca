// Package fitzraster implements docraster.Engine with MuPDF via go-fitz.
// It handles PDF, XPS, EPUB and CBZ payloads.
package fitzraster

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"

	"github.com/ByLCY/telescroll/docraster"
)

// Engine opens documents from memory.
type Engine struct{}

var _ docraster.Engine = Engine{}

func (Engine) Open(data []byte) (docraster.Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	return &document{doc: doc, pages: doc.NumPage()}, nil
}

type document struct {
	doc   *fitz.Document
	pages int
}

func (d *document) NumPages() int { return d.pages }

func (d *document) RenderPage(index int, dpi float64) (image.Image, error) {
	if index < 0 || index >= d.pages {
		return nil, fmt.Errorf("%w: index %d", docraster.ErrInvalidPageNumber, index)
	}
	img, err := d.doc.ImageDPI(index, dpi)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (d *document) Close() error { return d.doc.Close() }
