package correlation

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header is the HTTP header carrying correlation identifiers.
const Header = "X-Correlation-Id"

// MaxIDLength bounds accepted correlation identifiers.
const MaxIDLength = 128

type contextKey struct{}

// WithID returns ctx carrying id. Invalid identifiers leave ctx untouched.
func WithID(ctx context.Context, id string) context.Context {
	normalized, ok := Normalize(id)
	if !ok {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, normalized)
}

// ID returns the correlation identifier stored on ctx, if any.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Normalize trims id and accepts it only if it is printable ASCII and not too long.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}

// NewID returns a time-ordered UUIDv7 string. Used for correlation and request ids.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
