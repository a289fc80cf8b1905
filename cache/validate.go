package cache

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDatabaseName is returned for names that MongoDB would reject or
// that would collide with URI syntax.
var ErrInvalidDatabaseName = errors.New("invalid database name")

const (
	maxDatabaseNameLen = 64
	forbiddenNameChars = "/\\. \"$*<>:|?"
)

// ValidateDatabaseName enforces the engine's database-name constraints:
// non-empty after trimming, at most 64 bytes, and none of
// / \ . " $ * < > : | ? or space.
func ValidateDatabaseName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDatabaseName)
	}
	if len(name) > maxDatabaseNameLen {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrInvalidDatabaseName, name, maxDatabaseNameLen)
	}
	if strings.ContainsAny(name, forbiddenNameChars) {
		return fmt.Errorf("%w: %q contains a forbidden character", ErrInvalidDatabaseName, name)
	}
	return nil
}
