package ghapp

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is matched (with errors.Is) by every ConfigurationError.
var ErrNotConfigured = errors.New("ghapp: option not set")

// ErrIteratorConsumed is yielded when an installation or repository sequence
// is ranged over a second time. Sequences follow live pagination state and
// cannot be restarted: request a new one instead.
var ErrIteratorConsumed = errors.New("ghapp: iterator already consumed")

// ConfigurationError is returned when an optional part of the App is used
// without having been configured.
type ConfigurationError struct {
	// Option names the missing option.
	Option string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("ghapp: %s option not set", e.Option)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrNotConfigured
}

// optional holds a collaborator that may not have been configured. Access
// is only possible via get, which fails with a ConfigurationError when the
// value is absent.
type optional[T any] struct {
	value  T
	ok     bool
	option string
}

func configured[T any](option string, value T) optional[T] {
	return optional[T]{value: value, ok: true, option: option}
}

func unconfigured[T any](option string) optional[T] {
	return optional[T]{option: option}
}

func (o optional[T]) get() (T, error) {
	if !o.ok {
		var zero T
		return zero, &ConfigurationError{Option: o.option}
	}
	return o.value, nil
}
