package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Rule checks one value. It returns the (possibly normalized) value, or an
// error whose text is the message reported for the field.
type Rule func(value string) (string, error)

var validate = validator.New()

const (
	PasswordMinLength = 8
	PasswordMaxLength = 128
	MaxPageLimit      = 100
)

var (
	reLower   = regexp.MustCompile(`[a-z]`)
	reUpper   = regexp.MustCompile(`[A-Z]`)
	reDigit   = regexp.MustCompile(`[0-9]`)
	reSpecial = regexp.MustCompile(`[^A-Za-z0-9\s]`)
	reName    = regexp.MustCompile(`^[\p{L}\p{M}][\p{L}\p{M}\s'.-]*$`)
)

func fail(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// Required fails on empty or whitespace-only values.
func Required(label string) Rule {
	return func(v string) (string, error) {
		if strings.TrimSpace(v) == "" {
			return v, fail("%s is required", label)
		}
		return v, nil
	}
}

// Trim strips surrounding whitespace.
func Trim() Rule {
	return func(v string) (string, error) { return strings.TrimSpace(v), nil }
}

// Email checks the address shape and lower-cases it.
func Email() Rule {
	return func(v string) (string, error) {
		v = strings.TrimSpace(v)
		if err := validate.Var(v, "email"); err != nil {
			return v, fail("Please provide a valid email address")
		}
		return strings.ToLower(v), nil
	}
}

// Password enforces length 8-128 and at least one lower-case letter,
// upper-case letter, digit and special character.
func Password() Rule {
	return func(v string) (string, error) {
		n := utf8.RuneCountInString(v)
		if n < PasswordMinLength || n > PasswordMaxLength {
			return v, fail("Password must be between %d and %d characters", PasswordMinLength, PasswordMaxLength)
		}
		if !reLower.MatchString(v) || !reUpper.MatchString(v) || !reDigit.MatchString(v) || !reSpecial.MatchString(v) {
			return v, fail("Password must contain at least one uppercase letter, one lowercase letter, one number and one special character")
		}
		return v, nil
	}
}

// Length bounds the rune length of a value. max <= 0 means unbounded.
func Length(label string, min, max int) Rule {
	return func(v string) (string, error) {
		n := utf8.RuneCountInString(v)
		if n < min {
			return v, fail("%s must be at least %d characters", label, min)
		}
		if max > 0 && n > max {
			return v, fail("%s must be at most %d characters", label, max)
		}
		return v, nil
	}
}

// Name allows letters, spaces, apostrophes, dots and hyphens.
func Name(label string) Rule {
	return func(v string) (string, error) {
		if !reName.MatchString(v) {
			return v, fail("%s can only contain letters, spaces, hyphens and apostrophes", label)
		}
		return v, nil
	}
}

// UUID checks the value is a UUID and normalizes it to lower-case form.
func UUID(label string) Rule {
	return func(v string) (string, error) {
		id, err := uuid.Parse(strings.TrimSpace(v))
		if err != nil {
			return v, fail("%s must be a valid UUID", label)
		}
		return id.String(), nil
	}
}

// URL checks the value is an absolute http(s) URL.
func URL(label string) Rule {
	return func(v string) (string, error) {
		if err := validate.Var(v, "http_url"); err != nil {
			return v, fail("%s must be a valid URL", label)
		}
		return v, nil
	}
}

// OneOf checks enum membership.
func OneOf(label string, allowed ...string) Rule {
	return func(v string) (string, error) {
		for _, a := range allowed {
			if v == a {
				return v, nil
			}
		}
		return v, fail("%s must be one of: %s", label, strings.Join(allowed, ", "))
	}
}

// Int coerces to an integer within [min, max].
func Int(label string, min, max int64) Rule {
	return func(v string) (string, error) {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return v, fail("%s must be an integer", label)
		}
		if n < min || n > max {
			return v, fail("%s must be between %d and %d", label, min, max)
		}
		return strconv.FormatInt(n, 10), nil
	}
}

// Bool coerces common boolean spellings to "true"/"false".
func Bool(label string) Rule {
	return func(v string) (string, error) {
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
		if err != nil {
			return v, fail("%s must be a boolean", label)
		}
		return strconv.FormatBool(b), nil
	}
}

// Date accepts RFC 3339 timestamps or YYYY-MM-DD dates and normalizes to RFC 3339 UTC.
func Date(label string) Rule {
	return func(v string) (string, error) {
		v = strings.TrimSpace(v)
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC().Format(time.RFC3339), nil
			}
		}
		return v, fail("%s must be a valid ISO 8601 date", label)
	}
}

// Page is a 1-based page number.
func Page() Rule {
	return Int("Page", 1, 1<<31-1)
}

// Limit is a page size between 1 and MaxPageLimit.
func Limit() Rule {
	return Int("Limit", 1, MaxPageLimit)
}

// SortField allow-lists sortable fields; a leading "-" selects descending order.
func SortField(allowed ...string) Rule {
	return func(v string) (string, error) {
		field := strings.TrimPrefix(v, "-")
		for _, a := range allowed {
			if field == a {
				return v, nil
			}
		}
		return v, fail("Sort field must be one of: %s", strings.Join(allowed, ", "))
	}
}
