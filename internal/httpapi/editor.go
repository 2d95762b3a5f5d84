package httpapi

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const editorIndex = "index.html"

// handleEditor serves the editor bundle for every path outside the API.
// Trailing slashes are stripped, directories resolve to their index.html and
// unknown extension-less paths fall back to the root index.html so client
// side routes load the app.
func (h *Handler) handleEditor(w http.ResponseWriter, r *http.Request) error {
	notFound := httpError{Status: http.StatusNotFound, Code: "not_found", Detail: "no such route"}
	if strings.HasPrefix(r.URL.Path, "/sync") || strings.HasPrefix(r.URL.Path, h.staticPrefix) {
		return notFound
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return methodNotAllowed(w, http.MethodGet, http.MethodHead)
	}
	if h.editorDist == "" {
		return notFound
	}
	name := editorPath(r.URL.Path)
	full, info, err := h.resolveEditorFile(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound
		}
		return err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound
		}
		return err
	}
	defer f.Close()
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return nil
}

// editorPath strips the trailing slash and cleans p into a rooted path.
func editorPath(p string) string {
	p = strings.TrimRight(collapseSlashes(p), "/")
	return path.Clean("/" + p)
}

func (h *Handler) resolveEditorFile(name string) (string, fs.FileInfo, error) {
	full := filepath.Join(h.editorDist, filepath.FromSlash(name))
	info, err := os.Stat(full)
	switch {
	case err == nil && info.IsDir():
		full = filepath.Join(full, editorIndex)
	case err == nil:
		return full, info, nil
	case errors.Is(err, fs.ErrNotExist) && path.Ext(name) == "":
		full = filepath.Join(h.editorDist, editorIndex)
	default:
		return "", nil, err
	}
	info, err = os.Stat(full)
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		return "", nil, fs.ErrNotExist
	}
	return full, info, nil
}
