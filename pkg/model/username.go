package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUsernameTooShort     = errors.New("username too short")
	ErrUsernameTooLong      = errors.New("username too long")
	ErrUsernameInvalidChars = errors.New("username contains disallowed characters")
	ErrUsernameBadSpacing   = errors.New("username must not have leading, trailing, or double spaces")
)

// UsernamePolicy bounds the length of display names. The character
// allow-list itself is fixed: ASCII letters, digits, a small set of
// punctuation, and single interior spaces.
type UsernamePolicy struct {
	MinLength int
	MaxLength int
}

// DefaultUsernamePolicy returns the stock 3-20 character policy.
func DefaultUsernamePolicy() UsernamePolicy {
	return UsernamePolicy{MinLength: 3, MaxLength: 20}
}

// Validate checks a proposed username against the policy. It does not
// check uniqueness; that requires the store.
func (p UsernamePolicy) Validate(name string) error {
	if len(name) < p.MinLength {
		return fmt.Errorf("%w: minimum %d characters", ErrUsernameTooShort, p.MinLength)
	}
	if len(name) > p.MaxLength {
		return fmt.Errorf("%w: maximum %d characters", ErrUsernameTooLong, p.MaxLength)
	}
	if strings.HasPrefix(name, " ") || strings.HasSuffix(name, " ") || strings.Contains(name, "  ") {
		return ErrUsernameBadSpacing
	}
	for _, r := range name {
		if !allowedUsernameRune(r) {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}

func allowedUsernameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ':
		return true
	}
	return strings.ContainsRune("!?.,:;()$%*<", r)
}
