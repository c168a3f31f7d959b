// Package eval implements three interchangeable evaluators over the
// lang AST. All three share the persistent environment and differ only
// in binding time (eager vs. thunked) and scope discipline (dynamic
// vs. lexical); each lives in its own file so the semantic delta per
// strategy reads as a small diff against strict.go.
package eval

import (
	"fmt"

	"github.com/InsulaLabs/skiff/lang"
)

type Strategy string

const (
	StrategyStrict  Strategy = "strict"
	StrategyLazy    Strategy = "lazy"
	StrategyLexical Strategy = "lexical"
)

// Strategies lists every supported strategy, in documentation order.
func Strategies() []Strategy {
	return []Strategy{StrategyStrict, StrategyLazy, StrategyLexical}
}

func (s Strategy) Valid() bool {
	switch s {
	case StrategyStrict, StrategyLazy, StrategyLexical:
		return true
	}
	return false
}

// Evaluate runs expr under the named strategy starting from env. A nil
// env is the empty environment.
func Evaluate(strategy Strategy, expr lang.Expr, env *Env) (Value, error) {
	switch strategy {
	case StrategyStrict:
		return Strict(expr, env)
	case StrategyLazy:
		return Lazy(expr, env)
	case StrategyLexical:
		return Lexical(expr, env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

func applyArith(op lang.ArithOp, lhs, rhs Value) (Value, error) {
	li, ok := lhs.(IntValue)
	if !ok {
		return nil, &ArithmeticError{Op: string(op), Value: lhs}
	}
	ri, ok := rhs.(IntValue)
	if !ok {
		return nil, &ArithmeticError{Op: string(op), Value: rhs}
	}
	switch op {
	case lang.OpAdd:
		return IntValue{Value: li.Value + ri.Value}, nil
	case lang.OpMul:
		return IntValue{Value: li.Value * ri.Value}, nil
	default:
		return nil, fmt.Errorf("internal error: unknown arithmetic operator %q", op)
	}
}
