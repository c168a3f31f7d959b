package eval

import (
	"errors"
	"fmt"
)

var ErrUnknownStrategy = errors.New("unknown evaluation strategy")

// UnboundVariableError is raised when a variable reference finds no
// frame for its name in the environment chain in effect.
type UnboundVariableError struct {
	Name string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("unbound variable: %s", e.Name)
}

// ApplicationError is raised when the function position of an
// application evaluates to something the active strategy cannot call.
type ApplicationError struct {
	Value Value
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("cannot apply non-function value %s", e.Value.String())
}

// ArithmeticError is raised when an arithmetic operand evaluates to a
// non-integer, such as a lambda in operand position.
type ArithmeticError struct {
	Op    string
	Value Value
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("operator %s requires integer operands, got %s", e.Op, e.Value.String())
}
