package lang

import (
	"fmt"

	"github.com/InsulaLabs/skiff/sexpr"
)

// SyntaxError reports a datum that matches no expression form, or a
// let/lambda whose sub-structure is malformed.
type SyntaxError struct {
	Offending sexpr.Datum
	Message   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error: %s: %s", e.Message, e.Offending.Encode())
}

func syntaxErr(d sexpr.Datum, format string, args ...any) error {
	return &SyntaxError{Offending: d, Message: fmt.Sprintf(format, args...)}
}

// Parse lowers one datum into the expression tree. Forms are matched in
// a fixed order so the loose two-element application shape cannot
// shadow the special forms; a list headed let or lambda commits to that
// form, making a malformed sub-shape a syntax error rather than an
// application.
func Parse(d sexpr.Datum) (Expr, error) {
	switch d.Type {
	case sexpr.DatumTypeNumber:
		return &IntExpr{Value: d.D.(int64)}, nil
	case sexpr.DatumTypeSymbol:
		return &VarExpr{Name: d.D.(string)}, nil
	case sexpr.DatumTypeList:
		return parseForm(d)
	default:
		return nil, syntaxErr(d, "unknown datum type %q", d.Type)
	}
}

// ParseSource reads and lowers a complete source string.
func ParseSource(src string) (Expr, error) {
	d, err := sexpr.Parse(src)
	if err != nil {
		return nil, err
	}
	return Parse(d)
}

func parseForm(d sexpr.Datum) (Expr, error) {
	items := d.D.([]sexpr.Datum)
	if len(items) == 0 {
		return nil, syntaxErr(d, "empty list is not an expression")
	}

	if items[0].Type == sexpr.DatumTypeSymbol {
		switch head := items[0].D.(string); head {
		case "+", "*":
			if len(items) == 3 {
				lhs, err := Parse(items[1])
				if err != nil {
					return nil, err
				}
				rhs, err := Parse(items[2])
				if err != nil {
					return nil, err
				}
				return &ArithExpr{Op: ArithOp(head), Lhs: lhs, Rhs: rhs}, nil
			}
			// Other arities fall through: (+ 1) is an application of
			// the variable +, anything longer fails below.
		case "let":
			return parseLet(d, items)
		case "lambda":
			return parseLambda(d, items)
		}
	}

	if len(items) == 2 {
		fn, err := Parse(items[0])
		if err != nil {
			return nil, err
		}
		arg, err := Parse(items[1])
		if err != nil {
			return nil, err
		}
		return &ApplyExpr{Fn: fn, Arg: arg}, nil
	}

	return nil, syntaxErr(d, "a %d-element list is not an expression", len(items))
}

func parseLet(d sexpr.Datum, items []sexpr.Datum) (Expr, error) {
	if len(items) != 3 {
		return nil, syntaxErr(d, "let expects a binding list and a body")
	}
	if items[1].Type != sexpr.DatumTypeList {
		return nil, syntaxErr(items[1], "let binding list must be a list")
	}

	pairs := items[1].D.([]sexpr.Datum)
	bindings := make([]LetBinding, 0, len(pairs))
	for _, pair := range pairs {
		if pair.Type != sexpr.DatumTypeList {
			return nil, syntaxErr(pair, "let binding must be a name and value pair")
		}
		nv := pair.D.([]sexpr.Datum)
		if len(nv) != 2 {
			return nil, syntaxErr(pair, "let binding must be a name and value pair")
		}
		if nv[0].Type != sexpr.DatumTypeSymbol {
			return nil, syntaxErr(nv[0], "let binding name must be a symbol")
		}
		value, err := Parse(nv[1])
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, LetBinding{Name: nv[0].D.(string), Value: value})
	}

	body, err := Parse(items[2])
	if err != nil {
		return nil, err
	}
	return &LetExpr{Bindings: bindings, Body: body}, nil
}

func parseLambda(d sexpr.Datum, items []sexpr.Datum) (Expr, error) {
	if len(items) != 3 {
		return nil, syntaxErr(d, "lambda expects a parameter list and a body")
	}
	if items[1].Type != sexpr.DatumTypeList {
		return nil, syntaxErr(items[1], "lambda parameter list must be a list")
	}
	params := items[1].D.([]sexpr.Datum)
	if len(params) != 1 {
		return nil, syntaxErr(items[1], "lambda takes exactly one parameter")
	}
	if params[0].Type != sexpr.DatumTypeSymbol {
		return nil, syntaxErr(params[0], "lambda parameter must be a symbol")
	}

	body, err := Parse(items[2])
	if err != nil {
		return nil, err
	}
	return &LambdaExpr{Param: params[0].D.(string), Body: body}, nil
}
