package probe

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is returned for probe names that are not safe deployment identifiers.
var ErrInvalidName = errors.New("invalid probe name")

// Lambda function names: letters, digits, hyphen, underscore, at most 64 characters.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateName rejects anything that is not usable both as a directory name
// and as a function identifier. Names are never rewritten.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
