package auth

import (
	"net/mail"
	"strings"

	"github.com/platinummonkey/idpgate/pkg/autherr"
)

func requireUsername(username string) *autherr.Error {
	if strings.TrimSpace(username) == "" {
		return autherr.Validation("username is required")
	}
	return nil
}

func requireSecret(field, value string) *autherr.Error {
	if value == "" {
		return autherr.Validation(field + " is required")
	}
	return nil
}

// validateEmail accepts an empty address unless required. A non-empty
// address must be a bare addr-spec.
func validateEmail(email string, required bool) *autherr.Error {
	if email == "" {
		if required {
			return autherr.Validation("email is required")
		}
		return nil
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return autherr.Validation("email is invalid")
	}
	return nil
}

// firstInvalid returns the first failed check
func firstInvalid(checks ...*autherr.Error) *autherr.Error {
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}
