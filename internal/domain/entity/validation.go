package entity

import (
	"fmt"
	"net/url"
)

const maxURLLength = 2048

// ValidateUpstreamURL checks that rawURL is an absolute http(s) URL with a
// host. Private addresses are allowed; the upstream usually sits on the same
// network as the gateway.
func ValidateUpstreamURL(rawURL string) error {
	if rawURL == "" {
		return &ValidationError{Field: "upstream_url", Message: "URL is required"}
	}
	if len(rawURL) > maxURLLength {
		return &ValidationError{
			Field:   "upstream_url",
			Message: fmt.Sprintf("url must not exceed %d characters", maxURLLength),
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{Field: "upstream_url", Message: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "upstream_url", Message: "URL must use http or https scheme"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "upstream_url", Message: "URL must have a valid host"}
	}
	return nil
}
