package eval

import (
	"fmt"

	"github.com/InsulaLabs/skiff/lang"
)

// Lazy evaluates call-by-name under dynamic scope. It differs from
// Strict in three arms: let values and call arguments are recorded as
// unevaluated thunks, and a variable reference forces the thunk it
// finds by evaluating it in its recorded environment. Forcing happens
// at every reference; results are deliberately never cached, so an
// expensive binding referenced twice evaluates twice and a binding
// never referenced never evaluates at all.
func Lazy(expr lang.Expr, env *Env) (Value, error) {
	switch e := expr.(type) {
	case *lang.IntExpr:
		return IntValue{Value: e.Value}, nil

	case *lang.ArithExpr:
		lhs, err := Lazy(e.Lhs, env)
		if err != nil {
			return nil, err
		}
		rhs, err := Lazy(e.Rhs, env)
		if err != nil {
			return nil, err
		}
		return applyArith(e.Op, lhs, rhs)

	case *lang.VarExpr:
		v, ok := env.Lookup(e.Name)
		if !ok {
			return nil, &UnboundVariableError{Name: e.Name}
		}
		if thunk, isThunk := v.(ThunkValue); isThunk {
			return Lazy(thunk.Expr, thunk.Env)
		}
		return v, nil

	case *lang.LetExpr:
		// Values are suspended, not computed: each binding records the
		// pre-extension environment alongside its expression.
		inner := env
		for _, b := range e.Bindings {
			inner = inner.Extend(b.Name, ThunkValue{Expr: b.Value, Env: env})
		}
		return Lazy(e.Body, inner)

	case *lang.LambdaExpr:
		return LambdaValue{Node: e}, nil

	case *lang.ApplyExpr:
		fn, err := Lazy(e.Fn, env)
		if err != nil {
			return nil, err
		}
		lambda, ok := fn.(LambdaValue)
		if !ok {
			return nil, &ApplicationError{Value: fn}
		}
		arg := ThunkValue{Expr: e.Arg, Env: env}
		return Lazy(lambda.Node.Body, env.Extend(lambda.Node.Param, arg))

	default:
		return nil, fmt.Errorf("internal error: lazy evaluator reached unknown node kind %q", expr.Kind())
	}
}
