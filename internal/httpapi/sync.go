package httpapi

import (
	"errors"
	"net/http"

	"pkt.systems/docsync/api"
	"pkt.systems/docsync/internal/core"
)

// handleSync persists a document and its blobs.
//
// POST /sync
// Body: api.SyncRequest
// 200: api.SyncResponse; 400 on malformed input; 413 when the body exceeds
// the configured limit; 423 while another sync holds the document.
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, http.MethodPost)
	}
	if h.sync == nil {
		return httpError{Status: http.StatusServiceUnavailable, Code: "sync_unavailable", Detail: "sync service not configured"}
	}
	body := http.MaxBytesReader(w, r.Body, h.jsonMaxBytes)
	defer body.Close()

	var req api.SyncRequest
	if err := decodeJSONBody(body, &req); err != nil {
		return decodeError(err)
	}
	cmd := core.SyncCommand{
		DocumentID: req.DocumentID,
		FileName:   req.FileName,
		Content:    req.FileContent,
	}
	if len(req.Blobs) > 0 {
		cmd.Blobs = make(map[string]core.Blob, len(req.Blobs))
		for name, payload := range req.Blobs {
			cmd.Blobs[name] = core.Blob{Encoded: payload.Content}
		}
	}
	res, err := h.sync.Sync(r.Context(), cmd)
	if err != nil {
		return convertCoreError(err)
	}
	h.writeJSON(w, http.StatusOK, api.SyncResponse{Success: true, FileContent: res.Content}, nil)
	return nil
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return httpError{Status: http.StatusRequestEntityTooLarge, Code: "payload_too_large", Detail: "request body too large"}
	}
	var blobErr *api.BlobPayloadError
	if errors.As(err, &blobErr) {
		return httpError{Status: http.StatusBadRequest, Code: core.CodeInvalidBlobPayload, Detail: blobErr.Error()}
	}
	return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: err.Error()}
}
