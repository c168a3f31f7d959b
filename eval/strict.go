package eval

import (
	"fmt"

	"github.com/InsulaLabs/skiff/lang"
)

// Strict evaluates eagerly under dynamic scope. A lambda evaluates to
// its bare AST node; applying it runs the body in the caller's current
// environment extended with the argument, so free identifiers resolve
// against whatever is bound at the call site.
func Strict(expr lang.Expr, env *Env) (Value, error) {
	switch e := expr.(type) {
	case *lang.IntExpr:
		return IntValue{Value: e.Value}, nil

	case *lang.ArithExpr:
		lhs, err := Strict(e.Lhs, env)
		if err != nil {
			return nil, err
		}
		rhs, err := Strict(e.Rhs, env)
		if err != nil {
			return nil, err
		}
		return applyArith(e.Op, lhs, rhs)

	case *lang.VarExpr:
		v, ok := env.Lookup(e.Name)
		if !ok {
			return nil, &UnboundVariableError{Name: e.Name}
		}
		return v, nil

	case *lang.LetExpr:
		// Simultaneous let: every value evaluates in the pre-extension
		// environment, so bindings cannot see each other.
		values := make([]Value, len(e.Bindings))
		for i, b := range e.Bindings {
			v, err := Strict(b.Value, env)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		inner := env
		for i, b := range e.Bindings {
			inner = inner.Extend(b.Name, values[i])
		}
		return Strict(e.Body, inner)

	case *lang.LambdaExpr:
		return LambdaValue{Node: e}, nil

	case *lang.ApplyExpr:
		fn, err := Strict(e.Fn, env)
		if err != nil {
			return nil, err
		}
		lambda, ok := fn.(LambdaValue)
		if !ok {
			return nil, &ApplicationError{Value: fn}
		}
		arg, err := Strict(e.Arg, env)
		if err != nil {
			return nil, err
		}
		return Strict(lambda.Node.Body, env.Extend(lambda.Node.Param, arg))

	default:
		return nil, fmt.Errorf("internal error: strict evaluator reached unknown node kind %q", expr.Kind())
	}
}
