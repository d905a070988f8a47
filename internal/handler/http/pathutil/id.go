package pathutil

import (
	"fmt"
	"net/http"
	"net/url"

	"lms-gateway/pkg/ratelimit"

	"github.com/go-chi/chi/v5"
)

// KeyParam decodes the chi URL parameter name as a rate limit key. Keys
// arrive percent-encoded because IPv6 ids contain colons.
func KeyParam(r *http.Request, name string) (ratelimit.RateLimitKey, error) {
	raw := chi.URLParam(r, name)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return ratelimit.RateLimitKey{}, fmt.Errorf("%w: %v", ratelimit.ErrInvalidKey, err)
	}
	return ratelimit.ParseKey(decoded)
}
