package message

import "fmt"

// ValidationError reports a structurally invalid payload. It is returned by
// every constructor before any message value exists.
type ValidationError struct {
	Variant    Type
	Constraint string
}

func (e *ValidationError) Error() string {
	if e.Variant == "" {
		return fmt.Sprintf("invalid message: %s", e.Constraint)
	}
	return fmt.Sprintf("invalid %s message: %s", e.Variant, e.Constraint)
}

func invalid(variant Type, constraint string) *ValidationError {
	return &ValidationError{Variant: variant, Constraint: constraint}
}

func invalidf(variant Type, format string, args ...any) *ValidationError {
	return invalid(variant, fmt.Sprintf(format, args...))
}
