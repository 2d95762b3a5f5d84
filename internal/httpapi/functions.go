package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pkt.systems/docsync/internal/core"
	"pkt.systems/docsync/internal/storage"
)

func routerSys(operation string) string {
	parts := strings.FieldsFunc(operation, func(r rune) bool {
		switch r {
		case '.', '/', '-', '_':
			return true
		}
		return false
	})
	if len(parts) == 0 {
		return "api.http.router"
	}
	return "api.http.router." + strings.Join(parts, ".")
}

// collapseSlashes replaces every run of slashes with a single one.
func collapseSlashes(p string) string {
	if !strings.Contains(p, "//") {
		return p
	}
	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// decodeJSONBody decodes exactly one JSON value from body.
func decodeJSONBody(body io.Reader, dst any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return fmt.Errorf("unexpected trailing JSON value")
}

func convertCoreError(err error) error {
	if failure, ok := core.IsFailure(err); ok {
		status := failure.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		return httpError{
			Status:     status,
			Code:       failure.Code,
			Detail:     failure.Detail,
			RetryAfter: failure.RetryAfter,
		}
	}
	if errors.Is(err, storage.ErrInvalidKey) {
		return httpError{Status: http.StatusBadRequest, Code: core.CodeInvalidDocumentID, Detail: "document path cannot be stored"}
	}
	return err
}
