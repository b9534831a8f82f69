package raster

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Kind discriminates between the two upload families: a single raster
// image and a paginated PDF document.
type Kind int

const (
	KindImage Kind = iota
	KindPDF
)

// UnsupportedSourceError indicates an upload that cannot be decoded
// (corrupt file or unsupported container). It is fatal to the capture
// session; the operator must re-upload.
type UnsupportedSourceError struct {
	MIME string
	Err  error
}

func (e *UnsupportedSourceError) Error() string {
	return fmt.Sprintf("unsupported source (%s): %v", e.MIME, e.Err)
}

func (e *UnsupportedSourceError) Unwrap() error {
	return e.Err
}

// Source is an uploaded artifact: either a single raster image or a
// paginated PDF with N pages. It is immutable once created; a re-upload
// replaces it entirely.
type Source struct {
	Data      []byte
	MIME      string
	Kind      Kind
	PageCount int
}

// NewSource validates uploaded bytes and determines kind and page count.
// PDFs are validated with pdfcpu before any rendering is attempted so a
// corrupt container fails the whole upload instead of failing page by page.
func NewSource(data []byte, contentType string) (*Source, error) {
	mime := normalizeMIME(contentType, data)

	if mime == "application/pdf" {
		count, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
		if err != nil {
			return nil, &UnsupportedSourceError{MIME: mime, Err: fmt.Errorf("reading PDF: %w", err)}
		}
		if count < 1 {
			return nil, &UnsupportedSourceError{MIME: mime, Err: fmt.Errorf("PDF has no pages")}
		}
		return &Source{Data: data, MIME: mime, Kind: KindPDF, PageCount: count}, nil
	}

	// HEIC is decoded lazily at render time; Go's image registry cannot
	// probe it, so only the magic bytes are checked here.
	if isHEICFormat(data) || isHEICMimeType(mime) {
		if !isHEICFormat(data) {
			return nil, &UnsupportedSourceError{MIME: mime, Err: fmt.Errorf("declared HEIC but missing ftyp header")}
		}
		return &Source{Data: data, MIME: mime, Kind: KindImage, PageCount: 1}, nil
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, &UnsupportedSourceError{MIME: mime, Err: fmt.Errorf("decoding image: %w", err)}
	}
	return &Source{Data: data, MIME: mime, Kind: KindImage, PageCount: 1}, nil
}

// normalizeMIME lowercases and trims the declared content type, guessing
// from magic bytes when the client sent nothing useful.
func normalizeMIME(contentType string, data []byte) string {
	mime := strings.ToLower(strings.TrimSpace(contentType))
	switch mime {
	case "", "application/octet-stream":
		if looksLikePDF(data) {
			return "application/pdf"
		}
		if isHEICFormat(data) {
			return "image/heic"
		}
		return "image/jpeg"
	}
	return mime
}

func looksLikePDF(data []byte) bool {
	return len(data) >= 5 && bytes.HasPrefix(data, []byte("%PDF-"))
}

// isHEICFormat checks for the ftyp box brands phones use for HEIC/HEIF.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
