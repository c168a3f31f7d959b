package eval

import (
	"fmt"

	"github.com/InsulaLabs/skiff/lang"
)

// Lexical evaluates eagerly like Strict but scopes lexically. It
// differs in two arms: a lambda closes over the environment where it
// was written, and application runs the body in that captured
// environment rather than the caller's. That single substitution is
// what turns dynamic scoping into lexical scoping.
func Lexical(expr lang.Expr, env *Env) (Value, error) {
	switch e := expr.(type) {
	case *lang.IntExpr:
		return IntValue{Value: e.Value}, nil

	case *lang.ArithExpr:
		lhs, err := Lexical(e.Lhs, env)
		if err != nil {
			return nil, err
		}
		rhs, err := Lexical(e.Rhs, env)
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
		// Same simultaneous let as Strict.
		values := make([]Value, len(e.Bindings))
		for i, b := range e.Bindings {
			v, err := Lexical(b.Value, env)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		inner := env
		for i, b := range e.Bindings {
			inner = inner.Extend(b.Name, values[i])
		}
		return Lexical(e.Body, inner)

	case *lang.LambdaExpr:
		return ClosureValue{Param: e.Param, Body: e.Body, Env: env}, nil

	case *lang.ApplyExpr:
		fn, err := Lexical(e.Fn, env)
		if err != nil {
			return nil, err
		}
		closure, ok := fn.(ClosureValue)
		if !ok {
			return nil, &ApplicationError{Value: fn}
		}
		arg, err := Lexical(e.Arg, env)
		if err != nil {
			return nil, err
		}
		return Lexical(closure.Body, closure.Env.Extend(closure.Param, arg))

	default:
		return nil, fmt.Errorf("internal error: lexical evaluator reached unknown node kind %q", expr.Kind())
	}
}
