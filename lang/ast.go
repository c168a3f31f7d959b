package lang

import "github.com/InsulaLabs/skiff/sexpr"

type ExprKind string

const (
	ExprKindInt    ExprKind = "int"
	ExprKindArith  ExprKind = "arith"
	ExprKindVar    ExprKind = "var"
	ExprKindLet    ExprKind = "let"
	ExprKindLambda ExprKind = "lambda"
	ExprKindApply  ExprKind = "apply"
)

type ArithOp string

const (
	OpAdd ArithOp = "+"
	OpMul ArithOp = "*"
)

// Expr is the closed set of language forms. Nodes are immutable once
// constructed; evaluators dispatch on the concrete type. The unexported
// method keeps the union closed to this package.
type Expr interface {
	Kind() ExprKind
	datum() sexpr.Datum
}

type IntExpr struct {
	Value int64
}

func (e *IntExpr) Kind() ExprKind     { return ExprKindInt }
func (e *IntExpr) datum() sexpr.Datum { return sexpr.Number(e.Value) }

type ArithExpr struct {
	Op  ArithOp
	Lhs Expr
	Rhs Expr
}

func (e *ArithExpr) Kind() ExprKind { return ExprKindArith }
func (e *ArithExpr) datum() sexpr.Datum {
	return sexpr.List(sexpr.Symbol(string(e.Op)), e.Lhs.datum(), e.Rhs.datum())
}

type VarExpr struct {
	Name string
}

func (e *VarExpr) Kind() ExprKind     { return ExprKindVar }
func (e *VarExpr) datum() sexpr.Datum { return sexpr.Symbol(e.Name) }

// LetBinding is one (name, value) pair of a let form. Bindings are
// simultaneous: value expressions cannot see each other.
type LetBinding struct {
	Name  string
	Value Expr
}

type LetExpr struct {
	Bindings []LetBinding
	Body     Expr
}

func (e *LetExpr) Kind() ExprKind { return ExprKindLet }
func (e *LetExpr) datum() sexpr.Datum {
	pairs := make([]sexpr.Datum, 0, len(e.Bindings))
	for _, b := range e.Bindings {
		pairs = append(pairs, sexpr.List(sexpr.Symbol(b.Name), b.Value.datum()))
	}
	return sexpr.List(sexpr.Symbol("let"), sexpr.List(pairs...), e.Body.datum())
}

type LambdaExpr struct {
	Param string
	Body  Expr
}

func (e *LambdaExpr) Kind() ExprKind { return ExprKindLambda }
func (e *LambdaExpr) datum() sexpr.Datum {
	return sexpr.List(sexpr.Symbol("lambda"), sexpr.List(sexpr.Symbol(e.Param)), e.Body.datum())
}

type ApplyExpr struct {
	Fn  Expr
	Arg Expr
}

func (e *ApplyExpr) Kind() ExprKind     { return ExprKindApply }
func (e *ApplyExpr) datum() sexpr.Datum { return sexpr.List(e.Fn.datum(), e.Arg.datum()) }

// Format renders the expression in canonical source form. Parsing the
// result yields a structurally identical expression.
func Format(e Expr) string {
	return e.datum().Encode()
}
