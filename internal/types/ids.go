package types

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// NewRecordID generates a UUIDv7 record identifier.
// Time-ordered IDs ensure sequential inserts cluster in B-tree pages.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRecordID() RecordID {
	return RecordID(uuid.Must(uuid.NewV7()).String())
}

// NewAPIKeyID generates a UUIDv7 API key row identifier.
func NewAPIKeyID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ParseRecordID validates a caller-supplied record id. Record ids are
// opaque: generated ones are UUIDs, imported records keep their own.
func ParseRecordID(s string) (RecordID, error) {
	if err := validateOpaqueID("record", s); err != nil {
		return "", err
	}
	return RecordID(s), nil
}

// ParseTenantID validates and converts a string to TenantID.
func ParseTenantID(s string) (TenantID, error) {
	if err := validateOpaqueID("tenant", s); err != nil {
		return "", err
	}
	return TenantID(s), nil
}

// ParseAPIKeyID validates an API key row id. These are always generated,
// so anything but a UUID is rejected.
func ParseAPIKeyID(s string) (string, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: api key id %q: %v", ErrInvalidID, s, err)
	}
	return s, nil
}

func validateOpaqueID(kind, s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: %s id is empty", ErrInvalidID, kind)
	case len(s) > MaxIDLength:
		return fmt.Errorf("%w: %s id exceeds %d bytes", ErrInvalidID, kind, MaxIDLength)
	case !utf8.ValidString(s):
		return fmt.Errorf("%w: %s id is not valid UTF-8", ErrInvalidID, kind)
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: %s id %q contains whitespace or control characters", ErrInvalidID, kind, s)
		}
	}
	return nil
}
