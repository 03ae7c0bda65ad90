package vars

import (
	"errors"
	"fmt"
	"strings"
)

// UndefinedVariableError is returned when a lookup or template references a
// variable that was never filled or set. It is a configuration error.
type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variable %q", e.Name)
}

// TemplateCycleError is returned when resolving a template re-enters a variable
// that is already being resolved.
type TemplateCycleError struct {
	Chain []string
}

func (e *TemplateCycleError) Error() string {
	return "template cycle: " + strings.Join(e.Chain, " -> ")
}

// IsUndefined reports whether err is, or wraps, an UndefinedVariableError.
func IsUndefined(err error) bool {
	var target *UndefinedVariableError
	return errors.As(err, &target)
}
