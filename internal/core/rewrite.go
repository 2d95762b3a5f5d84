package core

import (
	"net/url"
	"strings"
)

// BlobURL composes the absolute URL the static route serves key under.
// Each path segment is escaped.
func BlobURL(baseURL, staticPrefix, key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(baseURL, "/"))
	if p := strings.Trim(staticPrefix, "/"); p != "" {
		b.WriteByte('/')
		b.WriteString(p)
	}
	b.WriteByte('/')
	b.WriteString(strings.Join(segs, "/"))
	return b.String()
}

// RewriteBlobLinks replaces every literal "(name)" in content with
// "(urls[name])". Names absent from content are skipped.
func RewriteBlobLinks(content string, urls map[string]string) (string, bool) {
	if len(urls) == 0 {
		return content, false
	}
	pairs := make([]string, 0, len(urls)*2)
	for name, target := range urls {
		needle := "(" + name + ")"
		if strings.Contains(content, needle) {
			pairs = append(pairs, needle, "("+target+")")
		}
	}
	if len(pairs) == 0 {
		return content, false
	}
	return strings.NewReplacer(pairs...).Replace(content), true
}
