// Package validation checks user-supplied account fields.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minPasswordLen    = 10
	maxPasswordLen    = 72 // bcrypt ignores anything past 72 bytes
	minUsernameLen    = 3
	maxUsernameLen    = 30
	maxDisplayNameLen = 80
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidatePassword requires a password long enough to resist guessing that mixes
// letters with digits or symbols.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters long", minPasswordLen)
	}
	if len(password) > maxPasswordLen {
		return fmt.Errorf("password must not exceed %d bytes", maxPasswordLen)
	}

	var hasLetter, hasOther bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r), unicode.IsPunct(r), unicode.IsSymbol(r):
			hasOther = true
		case unicode.IsSpace(r):
			return errors.New("password must not contain whitespace")
		}
	}
	if !hasLetter {
		return errors.New("password must contain at least one letter")
	}
	if !hasOther {
		return errors.New("password must contain at least one digit or symbol")
	}
	return nil
}

// ValidateUsername checks the login name used by the user provider.
func ValidateUsername(username string) error {
	if len(username) < minUsernameLen {
		return fmt.Errorf("username must be at least %d characters long", minUsernameLen)
	}
	if len(username) > maxUsernameLen {
		return fmt.Errorf("username must not exceed %d characters", maxUsernameLen)
	}
	if !usernamePattern.MatchString(username) {
		return errors.New("username can only contain letters, numbers, underscores, and hyphens")
	}
	first, last := username[0], username[len(username)-1]
	if first == '_' || first == '-' || last == '_' || last == '-' {
		return errors.New("username cannot start or end with underscore or hyphen")
	}
	return nil
}

// NormalizeDisplayName trims the name and falls back to username when it is empty.
func NormalizeDisplayName(displayName, username string) (string, error) {
	name := strings.Join(strings.Fields(displayName), " ")
	if name == "" {
		return username, nil
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		return "", fmt.Errorf("display name must not exceed %d characters", maxDisplayNameLen)
	}
	return name, nil
}
