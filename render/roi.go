// Package render rasterizes PDF pages and region-of-interest crops.
//
// Uses MuPDF (via go-fitz) to render a page at the requested DPI, then
// crops the normalized bounding box out of the rendered image. The crop
// is returned as PNG bytes ready for upload to the model's file
// service.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/gen2brain/go-fitz"
)

// BBoxNorm is a normalized page rectangle, each coordinate in [0,1].
type BBoxNorm struct {
	X1, Y1, X2, Y2 float64
}

// Renderer renders PDF content. Stateless; safe for concurrent use.
type Renderer struct{}

// NewRenderer creates a renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderROI renders the given normalized region of a page at dpi and
// returns PNG bytes. Out-of-range pages fall back to page 0;
// coordinates are clamped to [0,1].
func (r *Renderer) RenderROI(pdfData []byte, bbox BBoxNorm, pageNum, dpi int) ([]byte, error) {
	if dpi <= 0 {
		dpi = 400
	}

	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	if pageNum < 0 || pageNum >= doc.NumPage() {
		pageNum = 0
	}

	img, err := doc.ImageDPI(pageNum, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", pageNum, err)
	}

	crop := PixelRect(bbox, img.Bounds())
	if crop.Empty() {
		return nil, fmt.Errorf("bbox %+v produces an empty region", bbox)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img.SubImage(crop)); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPage renders a full page at dpi and returns PNG bytes.
func (r *Renderer) RenderPage(pdfData []byte, pageNum, dpi int) ([]byte, error) {
	if dpi <= 0 {
		dpi = 150
	}

	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	if pageNum < 0 || pageNum >= doc.NumPage() {
		pageNum = 0
	}

	img, err := doc.ImageDPI(pageNum, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", pageNum, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// PageCount returns the number of pages in a document.
func (r *Renderer) PageCount(pdfData []byte) (int, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return 0, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// PageSize returns a page's width and height in points. Out-of-range
// pages fall back to page 0.
func (r *Renderer) PageSize(pdfData []byte, pageNum int) (width, height float64, err error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return 0, 0, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	if pageNum < 0 || pageNum >= doc.NumPage() {
		pageNum = 0
	}

	bound, err := doc.Bound(pageNum)
	if err != nil {
		return 0, 0, fmt.Errorf("measure page %d: %w", pageNum, err)
	}
	return float64(bound.Dx()), float64(bound.Dy()), nil
}

// PixelRect maps a normalized bbox onto pixel bounds, clamping
// coordinates into [0,1] and the result into bounds.
func PixelRect(bbox BBoxNorm, bounds image.Rectangle) image.Rectangle {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}

	width := float64(bounds.Dx())
	height := float64(bounds.Dy())

	rect := image.Rect(
		bounds.Min.X+int(clamp(bbox.X1)*width),
		bounds.Min.Y+int(clamp(bbox.Y1)*height),
		bounds.Min.X+int(clamp(bbox.X2)*width),
		bounds.Min.Y+int(clamp(bbox.Y2)*height),
	)
	return rect.Intersect(bounds)
}
