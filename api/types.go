// Package api holds the JSON wire types of the docsync HTTP API.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SyncRequest is the body of POST /sync.
type SyncRequest struct {
	// DocumentID identifies the document, by default as "<dir>/<file>".
	DocumentID string `json:"documentId"`
	// FileContent is the document text.
	FileContent string `json:"fileContent"`
	// FileName is required when the server treats identifiers as opaque ids.
	FileName string `json:"fileName,omitempty"`
	// Blobs maps attachment names to base64 payloads.
	Blobs map[string]BlobPayload `json:"blobs,omitempty"`
}

// SyncResponse is returned on a successful sync.
type SyncResponse struct {
	Success     bool   `json:"success"`
	FileContent string `json:"fileContent"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// ErrorCode is a stable machine readable identifier.
	ErrorCode string `json:"error"`
	// Detail is human readable context.
	Detail string `json:"detail,omitempty"`
	// RetryAfterSeconds mirrors the Retry-After header when set.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
}

// HealthResponse is returned by /healthz and /readyz.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Backend   string `json:"backend,omitempty"`
	HeldLocks int    `json:"held_locks"`
	DiskUsed  string `json:"disk_used,omitempty"`
	DiskFree  string `json:"disk_free,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BlobPayload is a base64 encoded attachment. On the wire it is either a bare
// string or an object {"content": "<base64>"}.
type BlobPayload struct {
	Content string `json:"content"`
}

// BlobPayloadError reports a payload that is neither accepted shape.
type BlobPayloadError struct {
	Got string
}

func (e *BlobPayloadError) Error() string {
	return fmt.Sprintf("blob payload must be a base64 string or {\"content\": string}, got %s", e.Got)
}

// UnmarshalJSON accepts both wire shapes.
func (b *BlobPayload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &BlobPayloadError{Got: "empty value"}
	}
	switch data[0] {
	case '"':
		return json.Unmarshal(data, &b.Content)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		raw, ok := obj["content"]
		if !ok {
			return &BlobPayloadError{Got: "object without content"}
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '"' {
			return &BlobPayloadError{Got: "object with non-string content"}
		}
		return json.Unmarshal(raw, &b.Content)
	default:
		return &BlobPayloadError{Got: kindOf(data[0])}
	}
}

// MarshalJSON always emits the bare string form.
func (b BlobPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Content)
}

func kindOf(c byte) string {
	switch c {
	case '[':
		return "array"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
