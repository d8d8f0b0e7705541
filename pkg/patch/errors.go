package patch

import "fmt"

// ParseError is the base error type for patch bundle loading errors.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}

// ConfigError indicates a malformed result.json, a missing section dump,
// or an unparseable hex field (spec.md §7 PatchConfigError).
type ConfigError struct {
	ParseError
}

func newConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{ParseError{Message: fmt.Sprintf(format, args...)}}
}
