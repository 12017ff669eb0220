package keys

import (
	"errors"
	"fmt"
	"regexp"
)

// Collections of user documents.
const (
	Characters = "characters"
	Personas   = "personas"
	Settings   = "settings"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrInvalidID         = errors.New("invalid id")

	// conservative ID validation: letters, digits, dot, underscore, dash
	// and a reasonable upper bound to protect DB key shapes.
	idRegexp = regexp.MustCompile(`^[A-Za-z0-9._-]{1,256}$`)

	collections = map[string]struct{}{
		Characters: {},
		Personas:   {},
		Settings:   {},
	}
)

// Collections returns the known collection names.
func Collections() []string {
	return []string{Characters, Personas, Settings}
}

func ValidateCollection(name string) error {
	if _, ok := collections[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return nil
}

func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: user id empty", ErrInvalidID)
	}
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("%w: user id %q", ErrInvalidID, id)
	}
	return nil
}

func ValidateDocID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: document id empty", ErrInvalidID)
	}
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("%w: document id %q", ErrInvalidID, id)
	}
	return nil
}
