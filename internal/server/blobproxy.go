// ABOUTME: Handlers backing locally signed blob URLs
// ABOUTME: Used when the bucket driver cannot issue its own signed URLs

package server

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ravediamond/mcph-gateway/internal/mcp"
)

// verifySignedRequest checks the HMAC signature and expiry on a local
// signed-URL request. Writes the failure response itself.
func (s *Server) verifySignedRequest(w http.ResponseWriter, r *http.Request, op string) (path string, ok bool) {
	q := r.URL.Query()
	path = q.Get("path")
	expiresStr := q.Get("expires")
	sig := q.Get("sig")

	if path == "" || expiresStr == "" || sig == "" {
		http.Error(w, "missing signature parameters", http.StatusBadRequest)
		return "", false
	}
	if !s.blobs.VerifyLocalURL(op, path, expiresStr, sig) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return "", false
	}
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil || time.Now().Unix() > expires {
		http.Error(w, "signed URL expired", http.StatusForbidden)
		return "", false
	}
	return path, true
}

// handleBlobUpload accepts the body of a locally signed upload URL.
func (s *Server) handleBlobUpload(w http.ResponseWriter, r *http.Request) {
	path, ok := s.verifySignedRequest(w, r, "upload")
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, mcp.MaxRequestBodySize*64))
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if err := s.blobs.Put(r.Context(), path, data, contentType); err != nil {
		s.logger.Error("blob upload failed", "path", path, "error", err)
		http.Error(w, "failed to store object", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// handleBlobDownload streams the object behind a locally signed download URL.
func (s *Server) handleBlobDownload(w http.ResponseWriter, r *http.Request) {
	path, ok := s.verifySignedRequest(w, r, "download")
	if !ok {
		return
	}

	reader, err := s.blobs.NewReader(r.Context(), path)
	if err != nil {
		http.Error(w, "object not found", http.StatusNotFound)
		return
	}
	defer reader.Close()

	if filename := r.URL.Query().Get("filename"); filename != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Debug("blob download interrupted", "path", path, "error", err)
	}
}
