package eval

import (
	"fmt"
	"strconv"

	"github.com/InsulaLabs/skiff/lang"
)

// Value is what evaluation produces and what environments bind. The
// concrete set differs per strategy: dynamic evaluators bind bare
// lambda nodes, the lexical evaluator binds closures, and only the
// lazy evaluator ever stores thunks.
type Value interface {
	String() string
}

// IntValue is the single ground result type.
type IntValue struct {
	Value int64
}

func (v IntValue) String() string {
	return strconv.FormatInt(v.Value, 10)
}

// LambdaValue is an unapplied function under dynamic scoping: just the
// AST node, no environment attached. Free identifiers in its body are
// resolved against the caller's environment at application time.
type LambdaValue struct {
	Node *lang.LambdaExpr
}

func (v LambdaValue) String() string {
	return fmt.Sprintf("#<lambda (%s)>", v.Node.Param)
}

// ClosureValue pairs a function with the environment where it was
// written. Only the lexical evaluator produces these.
type ClosureValue struct {
	Param string
	Body  lang.Expr
	Env   *Env
}

func (v ClosureValue) String() string {
	return fmt.Sprintf("#<closure (%s)>", v.Param)
}

// ThunkValue is an unevaluated expression paired with the environment
// it was recorded in. The lazy evaluator forces it at every variable
// reference; results are never cached.
type ThunkValue struct {
	Expr lang.Expr
	Env  *Env
}

func (v ThunkValue) String() string {
	return fmt.Sprintf("#<thunk %s>", lang.Format(v.Expr))
}
