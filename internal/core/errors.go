package core

import "fmt"

// Failure codes surfaced to clients.
const (
	CodeInvalidDocumentID  = "invalid_document_id"
	CodeInvalidBlobName    = "invalid_blob_name"
	CodeInvalidBlobPayload = "invalid_blob_payload"
	CodeDocumentLocked     = "document_locked"
)

// Failure captures transport-neutral error details that adapters map to HTTP
// or any other protocol.
type Failure struct {
	Code       string
	Detail     string
	RetryAfter int64 // seconds
	HTTPStatus int   // optional hint for HTTP adapters
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return f.Code
}
