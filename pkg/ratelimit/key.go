package ratelimit

import (
	"fmt"
	"net/netip"
	"strings"
)

// Key kinds understood by the gateway.
const (
	KindUser = "user"
	KindIP   = "ip"
)

const (
	kindSeparator     = ":"
	compositeKindJoin = "+"
	compositeIDJoin   = "|"
)

// RateLimitKey identifies the subject being limited.
//
// Keys are comparable values. Two keys with the same kind and id are the same
// key and share one bucket and one limit override.
type RateLimitKey struct {
	kind string
	id   string
}

// idEscaper makes composite ids unambiguous: "%" and "|" inside a part can
// never be confused with the separator.
var idEscaper = strings.NewReplacer("%", "%25", compositeIDJoin, "%7C")

// NewKey creates a key of an arbitrary kind.
// Both kind and id are trimmed; an empty kind or id yields ErrInvalidKey.
// Kind "ip" goes through IPKey so one address always maps to one key.
func NewKey(kind, id string) (RateLimitKey, error) {
	kind = strings.TrimSpace(kind)
	id = strings.TrimSpace(id)
	if kind == "" || id == "" {
		return RateLimitKey{}, fmt.Errorf("%w: kind and id must be non-empty", ErrInvalidKey)
	}
	if strings.Contains(kind, kindSeparator) {
		return RateLimitKey{}, fmt.Errorf("%w: kind %q must not contain %q", ErrInvalidKey, kind, kindSeparator)
	}
	if kind == KindIP {
		return IPKey(id), nil
	}
	return RateLimitKey{kind: kind, id: id}, nil
}

// UserKey returns the key for an authenticated user.
func UserKey(userID string) RateLimitKey {
	return RateLimitKey{kind: KindUser, id: strings.TrimSpace(userID)}
}

// IPKey returns the key for a client address. Parseable addresses are
// canonicalised so "::ffff:10.0.0.1" and "10.0.0.1" share a bucket.
func IPKey(addr string) RateLimitKey {
	addr = strings.TrimSpace(addr)
	if ip, err := netip.ParseAddr(addr); err == nil {
		addr = ip.Unmap().String()
	}
	return RateLimitKey{kind: KindIP, id: addr}
}

// Compose joins several keys into one composite key, for example a user on a
// specific address. Zero keys are skipped. Each id is escaped before joining,
// so distinct inputs always give distinct composite keys.
func Compose(keys ...RateLimitKey) RateLimitKey {
	parts := make([]RateLimitKey, 0, len(keys))
	for _, k := range keys {
		if !k.IsZero() {
			parts = append(parts, k)
		}
	}
	switch len(parts) {
	case 0:
		return RateLimitKey{}
	case 1:
		return parts[0]
	}

	kinds := make([]string, len(parts))
	ids := make([]string, len(parts))
	for i, k := range parts {
		kinds[i] = k.kind
		ids[i] = idEscaper.Replace(k.id)
	}
	return RateLimitKey{
		kind: strings.Join(kinds, compositeKindJoin),
		id:   strings.Join(ids, compositeIDJoin),
	}
}

// ParseKey parses the canonical "kind:id" form produced by String.
func ParseKey(s string) (RateLimitKey, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), kindSeparator)
	if !ok {
		return RateLimitKey{}, fmt.Errorf("%w: %q is not of the form kind:id", ErrInvalidKey, s)
	}
	return NewKey(kind, id)
}

// Kind returns the key kind ("user", "ip", or a composite such as "user+ip").
func (k RateLimitKey) Kind() string {
	return k.kind
}

// ID returns the subject identifier.
func (k RateLimitKey) ID() string {
	return k.id
}

// IsZero reports whether the key is unset or has an empty id.
func (k RateLimitKey) IsZero() bool {
	return k.kind == "" || k.id == ""
}

// String returns the canonical form used as the bucket lookup key.
func (k RateLimitKey) String() string {
	if k.IsZero() {
		return ""
	}
	return k.kind + kindSeparator + k.id
}
