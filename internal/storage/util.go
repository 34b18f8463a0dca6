package storage

import (
	"errors"
	"fmt"
	"os"
)

// ErrInvalidID is returned for a malformed community or member identifier.
var ErrInvalidID = errors.New("invalid identifier")

// MaxIDLength bounds community and member identifiers.
const MaxIDLength = 64

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// ValidateID checks that id is non-empty, at most MaxIDLength bytes and made
// of [A-Za-z0-9_.-]. Backends build keys from identifiers, so they must never
// contain separators.
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidID, kind)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidID, kind, MaxIDLength)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.':
		default:
			return fmt.Errorf("%w: %s %q contains %q", ErrInvalidID, kind, id, c)
		}
	}
	return nil
}

// ValidatePair validates a community and member identifier together.
func ValidatePair(community, member string) error {
	if err := ValidateID("community", community); err != nil {
		return err
	}
	return ValidateID("member", member)
}
