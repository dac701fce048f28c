package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalid is the parent of every validation failure. Callers map it to 400.
var ErrInvalid = errors.New("invalid request")

// ErrEmptyBatch is returned when a training batch carries no records.
var ErrEmptyBatch = fmt.Errorf("%w: empty training batch", ErrInvalid)

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = fmt.Errorf("%w: location is required", ErrInvalid)

// ErrLocationTooShort is returned when location length is below the minimum.
var ErrLocationTooShort = fmt.Errorf("%w: location too short", ErrInvalid)

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = fmt.Errorf("%w: location too long", ErrInvalid)

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = fmt.Errorf("%w: location contains invalid characters", ErrInvalid)

// FieldError reports a missing or malformed request field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalid) hold for every FieldError.
func (e *FieldError) Is(target error) bool {
	return target == ErrInvalid
}

// Missing returns a FieldError for an absent required field.
func Missing(field string) error {
	return &FieldError{Field: field, Reason: "is required"}
}

// Invalid returns a FieldError with a custom reason.
func Invalid(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

// Required checks a set of named presence flags and returns a FieldError for the
// first absent one, in the order given.
func Required(fields ...Presence) error {
	for _, f := range fields {
		if !f.Present {
			return Missing(f.Name)
		}
	}
	return nil
}

// Presence pairs a field name with whether the request carried it.
type Presence struct {
	Name    string
	Present bool
}

// ValidateLocation trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma, hyphen, period.
// Returns the trimmed string or an error wrapping ErrInvalid.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.':
		return true
	}
	return false
}
