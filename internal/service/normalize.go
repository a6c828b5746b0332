package service

import (
	"strings"

	"github.com/dawgdevv/bitespeed/internal/models"
)

// Normalize canonicalizes the identity fields of a request. Emails are
// trimmed and lower-cased, phone numbers trimmed and otherwise kept
// verbatim. Empty values are absent. It fails with KindValidation when
// both end up absent.
func Normalize(email, phoneNumber *models.RawValue) (*string, *string, error) {
	e := normalizeEmail(email)
	p := normalizePhone(phoneNumber)
	if e == nil && p == nil {
		return nil, nil, validationError(ErrMissingIdentity)
	}
	return e, p, nil
}

func normalizeEmail(v *models.RawValue) *string {
	if v == nil || !v.Present || !v.IsString {
		return nil
	}
	return nonEmpty(strings.ToLower(strings.TrimSpace(v.Raw)))
}

func normalizePhone(v *models.RawValue) *string {
	if v == nil || !v.Present {
		return nil
	}
	return nonEmpty(strings.TrimSpace(v.Raw))
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
