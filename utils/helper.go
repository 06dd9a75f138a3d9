package utils

import (
	"strings"

	"github.com/ttacon/libphonenumber"
)

var CountryCode = "MM"

// FormatPhoneE164 returns the E.164 form of phoneNumber, or "" when it does
// not parse as a valid number for the region.
func FormatPhoneE164(phoneNumber, countryCode string) string {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return ""
	}
	if countryCode == "" {
		countryCode = CountryCode
	}
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return ""
	}
	if !libphonenumber.IsValidNumber(p) {
		return ""
	}
	return libphonenumber.Format(p, libphonenumber.E164)
}

// returns the first non-empty trimmed value
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	if len(defaults) > 0 {
		return defaults[0]
	}
	var zero T
	return zero
}
