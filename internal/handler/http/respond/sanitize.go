package respond

import "regexp"

var (
	// Order matters: bearer headers first so the token inside is not
	// matched twice.
	bearerPattern      = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.=]+`)
	jwtPattern         = regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`)
	dsnPasswordPattern = regexp.MustCompile(`://([^:/@]*):([^@]+)@`)
	bcryptPattern      = regexp.MustCompile(`\$2[aby]?\$\d{2}\$[./A-Za-z0-9]{53}`)
)

// SanitizeError returns err's message with credentials masked: bearer
// tokens, JWTs, bcrypt hashes and passwords inside connection URLs.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = bearerPattern.ReplaceAllString(msg, "Bearer ****")
	msg = jwtPattern.ReplaceAllString(msg, "eyJ****")
	msg = bcryptPattern.ReplaceAllString(msg, "$$2****")
	msg = dsnPasswordPattern.ReplaceAllString(msg, "://$1:****@")
	return msg
}
