package core

import (
	"encoding/base64"
	"errors"
	"net/http"
	"sort"
	"strings"

	"pkt.systems/docsync/internal/docpath"
)

type decodedBlob struct {
	name string
	data []byte
}

// decodeBlobs validates names and decodes every payload. Nothing is written
// until all blobs decode.
func decodeBlobs(blobs map[string]Blob) ([]decodedBlob, error) {
	if len(blobs) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(blobs))
	for name := range blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]decodedBlob, 0, len(names))
	for _, name := range names {
		if err := docpath.ValidateName("blob name", name); err != nil {
			return nil, Failure{Code: CodeInvalidBlobName, Detail: err.Error(), HTTPStatus: http.StatusBadRequest}
		}
		blob := blobs[name]
		if blob.Raw != nil {
			out = append(out, decodedBlob{name: name, data: blob.Raw})
			continue
		}
		data, err := DecodeBase64(blob.Encoded)
		if err != nil {
			return nil, Failure{
				Code:       CodeInvalidBlobPayload,
				Detail:     "blob " + name + ": " + err.Error(),
				HTTPStatus: http.StatusBadRequest,
			}
		}
		out = append(out, decodedBlob{name: name, data: data})
	}
	return out, nil
}

var errBase64 = errors.New("payload is not valid base64")

// DecodeBase64 accepts standard or URL-safe alphabets, with or without
// padding, and ignores embedded whitespace.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	if strings.ContainsAny(s, "-_") {
		s = strings.TrimRight(s, "=")
		if data, err := base64.RawURLEncoding.DecodeString(s); err == nil {
			return data, nil
		}
		return nil, errBase64
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	if data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
		return data, nil
	}
	return nil, errBase64
}
