package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// subjectFromIDToken reads the sub claim of an ID token without verifying
// its signature. The result only annotates audit records and must not be
// used for authorization.
func subjectFromIDToken(raw string) string {
	if raw == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
