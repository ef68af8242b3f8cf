package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// AnyOrigin is the broadcast sentinel. It is never accepted as a target.
const AnyOrigin = "*"

var (
	ErrTargetOriginRequired = errors.New("session: target origin required")
	ErrAnyOrigin            = errors.New("session: any-origin target not allowed")
	ErrInvalidOrigin        = errors.New("session: invalid origin")
)

// ValidateTargetOrigin checks that origin names exactly one scheme://host[:port].
func ValidateTargetOrigin(origin string) error {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ErrTargetOriginRequired
	}
	if origin == AnyOrigin {
		return ErrAnyOrigin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidOrigin, origin, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidOrigin, origin)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("%w: %q has a path", ErrInvalidOrigin, origin)
	}
	return nil
}

// NormalizeOrigin trims whitespace and a trailing slash.
func NormalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.TrimSpace(origin), "/")
}

func (c Config) Validate() error {
	return ValidateTargetOrigin(c.TargetOrigin)
}
