package httpapi

import "net/http"

const (
	corsAllowMethods  = "GET, HEAD, POST, OPTIONS"
	corsAllowHeaders  = "Content-Type, X-Correlation-Id"
	corsExposeHeaders = "X-Correlation-Id, Retry-After"
)

// applyCORSHeaders allows any origin. Preflights echo the requested headers.
func applyCORSHeaders(w http.ResponseWriter, r *http.Request) {
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Expose-Headers", corsExposeHeaders)
	if r.Method != http.MethodOptions {
		return
	}
	hdr.Set("Access-Control-Allow-Methods", corsAllowMethods)
	if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
		hdr.Set("Access-Control-Allow-Headers", requested)
		hdr.Add("Vary", "Access-Control-Request-Headers")
	} else {
		hdr.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	}
	hdr.Set("Access-Control-Max-Age", "600")
}
