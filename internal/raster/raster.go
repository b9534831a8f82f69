package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// TargetShortEdge is the calibrated short-edge size for OCR submission.
// PDF pages are rendered so their shorter edge equals this value; plain
// images keep their native resolution and are never upscaled.
const TargetShortEdge = 1600

// pdfPointDPI is the resolution at which PDF page boxes are expressed.
const pdfPointDPI = 72.0

// RenderPage rasterizes one page of the source into a pixel buffer.
// It is a pure function of (source page, target size); rendering the
// same page twice yields equivalent buffers.
func (s *Source) RenderPage(index, targetShortEdge int) (image.Image, error) {
	if index < 0 || index >= s.PageCount {
		return nil, fmt.Errorf("page %d out of range (source has %d pages)", index, s.PageCount)
	}
	if s.Kind == KindPDF {
		return s.renderPDFPage(index, targetShortEdge)
	}
	return s.decodeImage()
}

// renderPDFPage reads the page's natural dimensions and picks the DPI
// that makes the shorter rendered edge equal the target size.
func (s *Source) renderPDFPage(index, targetShortEdge int) (image.Image, error) {
	doc, err := fitz.NewFromMemory(s.Data)
	if err != nil {
		return nil, &UnsupportedSourceError{MIME: s.MIME, Err: fmt.Errorf("opening PDF: %w", err)}
	}
	defer doc.Close()

	bound, err := doc.Bound(index)
	if err != nil {
		return nil, fmt.Errorf("reading page %d bounds: %w", index, err)
	}
	short := bound.Dx()
	if bound.Dy() < short {
		short = bound.Dy()
	}
	if short <= 0 {
		return nil, &UnsupportedSourceError{MIME: s.MIME, Err: fmt.Errorf("page %d has empty media box", index)}
	}

	dpi := pdfPointDPI * float64(targetShortEdge) / float64(short)
	img, err := doc.ImageDPI(index, dpi)
	if err != nil {
		return nil, fmt.Errorf("rendering page %d: %w", index, err)
	}
	return img, nil
}

// decodeImage decodes a plain image upload at native resolution.
func (s *Source) decodeImage() (image.Image, error) {
	if isHEICFormat(s.Data) || isHEICMimeType(s.MIME) {
		img, err := heic.Decode(bytes.NewReader(s.Data))
		if err != nil {
			return nil, &UnsupportedSourceError{MIME: s.MIME, Err: fmt.Errorf("decoding HEIC: %w", err)}
		}
		return img, nil
	}
	img, _, err := image.Decode(bytes.NewReader(s.Data))
	if err != nil {
		return nil, &UnsupportedSourceError{MIME: s.MIME, Err: fmt.Errorf("decoding image: %w", err)}
	}
	return img, nil
}

// EncodePNG serializes a buffer for OCR submission or storage.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
