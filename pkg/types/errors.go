package types

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDomain = errors.New("invalid domain")
	ErrNotFound      = errors.New("not found")
)

func invalidDomain(s string) error {
	return fmt.Errorf("%w: %q", ErrInvalidDomain, s)
}
