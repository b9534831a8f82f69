package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/David-Pajuelo/thot-security-sub001/internal/albaran"
	"github.com/David-Pajuelo/thot-security-sub001/internal/capture"
	"github.com/David-Pajuelo/thot-security-sub001/internal/raster"
)

// maxUploadSize limits multipart uploads; phone scans of multi-page PDFs
// can be large.
const maxUploadSize = int64(50 << 20) // 50MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes a JSON response with CORS headers set
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps pipeline errors onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	var (
		validation  *capture.ValidationError
		unsupported *raster.UnsupportedSourceError
		ocr         *capture.OcrFailure
		lookup      *capture.IdentityLookupFailure
	)
	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation):
		code = http.StatusUnprocessableEntity
	case errors.As(err, &unsupported):
		code = http.StatusBadRequest
	case errors.Is(err, capture.ErrStaleSession):
		code = http.StatusConflict
	case errors.As(err, &ocr), errors.As(err, &lookup):
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeCapture returns the current session view
func (s *Server) writeCapture(w http.ResponseWriter, id string, code int) {
	view, err := s.manager.Snapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, code, view)
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleBeginCapture starts a capture session from an uploaded scan. Any
// previous session is superseded and its in-flight calls abandoned.
func (s *Server) handleBeginCapture(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			msg = "File is too large. Maximum size is 50MB."
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file was selected. Please choose a file to upload."})
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "File is too large. Maximum size is 50MB."})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error reading file. Please try again."})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFromExt(header.Filename)
	}

	sess, err := s.manager.Begin(r.Context(), data, contentType)
	if err != nil {
		slog.Error("Error starting capture", "filename", header.Filename, "error", err)
		writeError(w, err)
		return
	}

	s.writeCapture(w, sess.ID(), http.StatusCreated)
}

// contentTypeFromExt guesses a content type from the filename extension.
func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleGetCapture returns the session view
func (s *Server) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	s.writeCapture(w, r.PathValue("id"), http.StatusOK)
}

// handleRotatePage applies a rotation delta to one prepared page
func (s *Server) handleRotatePage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid page index"})
		return
	}
	var req struct {
		Delta int `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if err := s.manager.Rotate(r.PathValue("id"), page, req.Delta); err != nil {
		writeError(w, err)
		return
	}
	s.writeCapture(w, r.PathValue("id"), http.StatusOK)
}

// handleCropPage exports a content-cropped page image for quality review
func (s *Server) handleCropPage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid page index"})
		return
	}
	preset := raster.CropLenient
	if r.URL.Query().Get("preset") == "strict" {
		preset = raster.CropStrict
	}
	data, err := s.manager.CroppedPage(r.PathValue("id"), page, preset)
	if err != nil {
		writeError(w, err)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// handleSubmit flattens a page and runs OCR extraction on it
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Page int `json:"page"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
			return
		}
	}
	if err := s.manager.Submit(r.Context(), r.PathValue("id"), req.Page); err != nil {
		writeError(w, err)
		return
	}
	s.writeCapture(w, r.PathValue("id"), http.StatusOK)
}

// handleConfirm validates the selection and resolves document identity
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Selected []int          `json:"selected"`
		Tipos    map[int]string `json:"tipos"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if err := s.manager.Confirm(r.Context(), r.PathValue("id"), req.Selected, req.Tipos); err != nil {
		writeError(w, err)
		return
	}
	s.writeCapture(w, r.PathValue("id"), http.StatusOK)
}

// handleDecision records the operator's append/merge choice
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action         string `json:"action"`
		KeepDuplicates bool   `json:"keep_duplicates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	var decision capture.Decision
	switch req.Action {
	case "append":
		decision = capture.DecisionAppendPage
	case "merge":
		decision = capture.DecisionMergeExisting
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action must be 'append' or 'merge'"})
		return
	}
	if err := s.manager.Choose(r.PathValue("id"), decision, req.KeepDuplicates); err != nil {
		writeError(w, err)
		return
	}
	s.writeCapture(w, r.PathValue("id"), http.StatusOK)
}

// handlePersist executes the session's decision against the store
func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Persist(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	s.writeCapture(w, r.PathValue("id"), http.StatusOK)
}

// handleRetry returns a failed session to its last good state
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Retry(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	s.writeCapture(w, r.PathValue("id"), http.StatusOK)
}

// handleListDocuments returns all persisted documents
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	documents, err := s.db.ListDocuments(r.Context())
	if err != nil {
		slog.Error("Error listing documents", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, documents)
}

// handleGetDocument returns a single persisted document
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.db.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Document not found"})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleGetDocumentPage returns a stored page scan
func (s *Server) handleGetDocumentPage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid page index"})
		return
	}
	doc, err := s.db.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Document not found"})
		return
	}
	if page < 0 || page >= doc.PageCount() {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Page not found"})
		return
	}
	data, err := s.storage.Get(doc.Pages[page])
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Page file not found"})
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// handleDeleteDocument deletes a persisted document and its page files
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.db.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Document not found"})
		return
	}
	for _, path := range doc.Pages {
		if err := s.storage.Delete(path); err != nil {
			slog.Warn("Failed to delete page file", "path", path, "error", err)
		}
	}
	if err := s.db.DeleteDocument(r.Context(), doc.ID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error deleting document"})
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleListProductTypes returns the product-type catalog
func (s *Server) handleListProductTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.db.ProductTypes(r.Context())
	if err != nil {
		slog.Error("Error listing product types", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, types)
}

// handlePutProductTypes stores catalog entries
func (s *Server) handlePutProductTypes(w http.ResponseWriter, r *http.Request) {
	var types []albaran.ProductType
	if err := json.NewDecoder(r.Body).Decode(&types); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if err := s.db.PutProductTypes(r.Context(), types); err != nil {
		slog.Error("Error storing product types", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error storing product types"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stored": len(types)})
}
