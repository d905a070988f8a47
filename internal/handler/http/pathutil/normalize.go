// Package pathutil maps request paths to low-cardinality metric labels and
// decodes path parameters.
package pathutil

import (
	"regexp"
	"strings"
)

// PathPattern rewrites paths matching Pattern to Template.
type PathPattern struct {
	Pattern  *regexp.Regexp
	Template string
}

var pathPatterns = []*PathPattern{
	{Pattern: regexp.MustCompile(`^/v1/admin/ratelimit/limits/[^/]+$`), Template: "/v1/admin/ratelimit/limits/{key}"},
	{Pattern: regexp.MustCompile(`^/v1/admin/ratelimit/buckets/[^/]+$`), Template: "/v1/admin/ratelimit/buckets/{key}"},
}

var (
	numericSegment = regexp.MustCompile(`^\d+$`)
	uuidSegment    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// NormalizePath strips the query and trailing slash, rewrites known admin
// routes to their templates and replaces numeric or UUID segments of any
// other path (typically a proxied upstream path) with ":id".
func NormalizePath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx != -1 {
		path = path[:idx]
	}
	if len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}

	for _, p := range pathPatterns {
		if p.Pattern.MatchString(path) {
			return p.Template
		}
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if numericSegment.MatchString(seg) || uuidSegment.MatchString(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}
