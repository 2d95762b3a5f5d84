package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pkt.systems/docsync/internal/storage"
	"pkt.systems/docsync/internal/svcfields"
)

// handleStatic serves stored documents and blobs read-only.
//
// GET|HEAD /static/<key>
func (h *Handler) handleStatic(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return methodNotAllowed(w, http.MethodGet, http.MethodHead)
	}
	notFound := httpError{Status: http.StatusNotFound, Code: "not_found", Detail: "object not found"}
	key, err := storage.NormalizeKey(strings.TrimPrefix(r.URL.Path, h.staticPrefix+"/"))
	if err != nil {
		return notFound
	}
	obj, err := h.store.GetObject(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			return notFound
		}
		return err
	}
	defer obj.Reader.Close()

	info := obj.Info
	if info == nil {
		info = &storage.ObjectInfo{Key: key, Size: -1}
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeFor(key)
	}
	w.Header().Set("Content-Type", contentType)
	if info.ETag != "" {
		w.Header().Set("ETag", quoteETag(info.ETag))
	}
	if seeker, ok := obj.Reader.(io.ReadSeeker); ok {
		http.ServeContent(w, r, key, info.LastModified, seeker)
		return nil
	}
	if !info.LastModified.IsZero() {
		w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}
	if info.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(w, obj.Reader); err != nil {
		// Headers are already sent; all that is left is to note the short body.
		h.loggerFor(r).Debug("http.static.copy_failed", svcfields.KeyKey, key, svcfields.ErrorKey, err)
	}
	return nil
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) {
		return etag
	}
	return `"` + etag + `"`
}
