package eval

import (
	"testing"

	"github.com/InsulaLabs/skiff/lang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) lang.Expr {
	t.Helper()
	expr, err := lang.ParseSource(src)
	require.NoError(t, err, "test source must parse: %s", src)
	return expr
}

func TestArithmeticAgreesAcrossStrategies(t *testing.T) {
	expr := mustParse(t, "(* 3 (+ 2 2))")

	for _, strategy := range Strategies() {
		t.Run(string(strategy), func(t *testing.T) {
			v, err := Evaluate(strategy, expr, nil)
			require.NoError(t, err)
			assert.Equal(t, IntValue{Value: 12}, v)
		})
	}
}

func TestStrictEvaluatorsForceUnusedLetValues(t *testing.T) {
	// The unused binding still computes; it just has no observable
	// effect when it is well formed.
	expr := mustParse(t, "(let ([x (+ 1 2)]) 20)")

	for _, strategy := range Strategies() {
		t.Run(string(strategy), func(t *testing.T) {
			v, err := Evaluate(strategy, expr, nil)
			require.NoError(t, err)
			assert.Equal(t, IntValue{Value: 20}, v)
		})
	}
}

func TestLazyNeverForcesUnreferencedArgument(t *testing.T) {
	expr := mustParse(t, "(let ([f (lambda (x) 10)]) (f undefined-var))")

	t.Run("lazy returns without touching the argument", func(t *testing.T) {
		v, err := Lazy(expr, nil)
		require.NoError(t, err)
		assert.Equal(t, IntValue{Value: 10}, v)
	})

	t.Run("strict forces the argument and fails", func(t *testing.T) {
		_, err := Strict(expr, nil)
		require.Error(t, err)

		var unbound *UnboundVariableError
		require.ErrorAs(t, err, &unbound)
		assert.Equal(t, "undefined-var", unbound.Name)
	})

	t.Run("lexical forces the argument and fails", func(t *testing.T) {
		_, err := Lexical(expr, nil)
		require.Error(t, err)

		var unbound *UnboundVariableError
		require.ErrorAs(t, err, &unbound)
		assert.Equal(t, "undefined-var", unbound.Name)
	})
}

func TestDynamicVsLexicalScopeSignature(t *testing.T) {
	// The defining environment binds x; the call site does not. Dynamic
	// scoping must fail on x, lexical scoping must find the captured 10.
	expr := mustParse(t, "(let ([f (let ([x 10]) (lambda (y) (+ x y)))]) (f 20))")

	t.Run("strict raises unbound x", func(t *testing.T) {
		_, err := Strict(expr, nil)
		require.Error(t, err)

		var unbound *UnboundVariableError
		require.ErrorAs(t, err, &unbound)
		assert.Equal(t, "x", unbound.Name)
	})

	t.Run("lazy raises unbound x", func(t *testing.T) {
		_, err := Lazy(expr, nil)
		require.Error(t, err)

		var unbound *UnboundVariableError
		require.ErrorAs(t, err, &unbound)
		assert.Equal(t, "x", unbound.Name)
	})

	t.Run("lexical returns 30", func(t *testing.T) {
		v, err := Lexical(expr, nil)
		require.NoError(t, err)
		assert.Equal(t, IntValue{Value: 30}, v)
	})
}

func TestClosureCaptureIsIndependentOfCallSite(t *testing.T) {
	// Rebinding x to 20 at the call site must not leak into the
	// closure's captured x; the argument still arrives as 20.
	expr := mustParse(t, "(let ([f (let ([x 10]) (lambda (y) (+ x y)))]) (let ([x 20]) (f x)))")

	v, err := Lexical(expr, nil)
	require.NoError(t, err)
	assert.Equal(t, IntValue{Value: 30}, v)
}

func TestDynamicScopeResolvesAtCallSite(t *testing.T) {
	// The mirror image of the lexical signature test: x is bound only
	// at the call site, so only dynamic scoping can see it.
	expr := mustParse(t, "(let ([f (lambda (y) (+ x y))]) (let ([x 100]) (f 1)))")

	t.Run("strict returns 101", func(t *testing.T) {
		v, err := Strict(expr, nil)
		require.NoError(t, err)
		assert.Equal(t, IntValue{Value: 101}, v)
	})

	t.Run("lazy returns 101", func(t *testing.T) {
		v, err := Lazy(expr, nil)
		require.NoError(t, err)
		assert.Equal(t, IntValue{Value: 101}, v)
	})

	t.Run("lexical raises unbound x", func(t *testing.T) {
		_, err := Lexical(expr, nil)
		require.Error(t, err)

		var unbound *UnboundVariableError
		require.ErrorAs(t, err, &unbound)
		assert.Equal(t, "x", unbound.Name)
	})
}

func TestLetSemantics(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected int64
	}{
		{
			name:     "Nested shadowing",
			input:    "(let ([x 1]) (let ([x 2]) x))",
			expected: 2,
		},
		{
			name:     "Duplicate names in one let, later wins",
			input:    "(let ([x 1] [x 2]) x)",
			expected: 2,
		},
		{
			name:     "Bindings are simultaneous, not sequential",
			input:    "(let ([x 5]) (let ([x 10] [y x]) y))",
			expected: 5,
		},
		{
			name:     "Zero bindings",
			input:    "(let () 7)",
			expected: 7,
		},
		{
			name:     "Shadowed outer binding restored outside",
			input:    "(let ([x 1]) (+ (let ([x 2]) x) x))",
			expected: 3,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			expr := mustParse(t, tc.input)
			for _, strategy := range Strategies() {
				v, err := Evaluate(strategy, expr, nil)
				require.NoError(t, err, "strategy %s", strategy)
				assert.Equal(t, IntValue{Value: tc.expected}, v, "strategy %s", strategy)
			}
		})
	}
}

func TestApplicationErrors(t *testing.T) {
	expr := mustParse(t, "(3 4)")

	for _, strategy := range Strategies() {
		t.Run(string(strategy), func(t *testing.T) {
			_, err := Evaluate(strategy, expr, nil)
			require.Error(t, err)

			var appErr *ApplicationError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, IntValue{Value: 3}, appErr.Value)
		})
	}
}

func TestFunctionValuesAreStrategySpecific(t *testing.T) {
	// A dynamic lambda value seeded into the environment is not
	// callable lexically, and vice versa. Mixing happens when a driver
	// switches strategy over a persistent session environment.
	lambdaNode := mustParse(t, "(lambda (x) x)").(*lang.LambdaExpr)
	callF := mustParse(t, "(f 1)")

	t.Run("lexical rejects a bare lambda node", func(t *testing.T) {
		env := (*Env)(nil).Extend("f", LambdaValue{Node: lambdaNode})
		_, err := Lexical(callF, env)

		var appErr *ApplicationError
		require.ErrorAs(t, err, &appErr)
	})

	t.Run("strict rejects a closure", func(t *testing.T) {
		closure, err := Lexical(lambdaNode, nil)
		require.NoError(t, err)

		env := (*Env)(nil).Extend("f", closure)
		_, err = Strict(callF, env)

		var appErr *ApplicationError
		require.ErrorAs(t, err, &appErr)
	})

	t.Run("strict accepts a bare lambda node", func(t *testing.T) {
		env := (*Env)(nil).Extend("f", LambdaValue{Node: lambdaNode})
		v, err := Strict(callF, env)
		require.NoError(t, err)
		assert.Equal(t, IntValue{Value: 1}, v)
	})
}

func TestArithmeticRequiresIntegers(t *testing.T) {
	expr := mustParse(t, "(+ (lambda (x) x) 1)")

	for _, strategy := range Strategies() {
		t.Run(string(strategy), func(t *testing.T) {
			_, err := Evaluate(strategy, expr, nil)
			require.Error(t, err)

			var arithErr *ArithmeticError
			require.ErrorAs(t, err, &arithErr)
			assert.Equal(t, "+", arithErr.Op)
		})
	}
}

func TestUnboundVariable(t *testing.T) {
	expr := mustParse(t, "undefined-var")

	for _, strategy := range Strategies() {
		t.Run(string(strategy), func(t *testing.T) {
			_, err := Evaluate(strategy, expr, nil)
			require.Error(t, err)

			var unbound *UnboundVariableError
			require.ErrorAs(t, err, &unbound)
			assert.Equal(t, "undefined-var", unbound.Name)
			assert.Equal(t, "unbound variable: undefined-var", err.Error())
		})
	}
}

func TestEvaluateWithInitialEnvironment(t *testing.T) {
	expr := mustParse(t, "(+ x y)")
	env := (*Env)(nil).
		Extend("x", IntValue{Value: 40}).
		Extend("y", IntValue{Value: 2})

	for _, strategy := range Strategies() {
		t.Run(string(strategy), func(t *testing.T) {
			v, err := Evaluate(strategy, expr, env)
			require.NoError(t, err)
			assert.Equal(t, IntValue{Value: 42}, v)
		})
	}
}

func TestEvaluateRejectsUnknownStrategy(t *testing.T) {
	expr := mustParse(t, "3")

	_, err := Evaluate(Strategy("eager"), expr, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestStrategyValid(t *testing.T) {
	for _, strategy := range Strategies() {
		assert.True(t, strategy.Valid(), "strategy %s", strategy)
	}
	assert.False(t, Strategy("eager").Valid())
	assert.False(t, Strategy("").Valid())
}

func TestValueStrings(t *testing.T) {
	lambdaNode := mustParse(t, "(lambda (x) (+ x 1))").(*lang.LambdaExpr)

	assert.Equal(t, "42", IntValue{Value: 42}.String())
	assert.Equal(t, "-7", IntValue{Value: -7}.String())
	assert.Equal(t, "#<lambda (x)>", LambdaValue{Node: lambdaNode}.String())
	assert.Equal(t, "#<closure (x)>", ClosureValue{Param: "x", Body: lambdaNode.Body}.String())
	assert.Equal(t, "#<thunk (+ x 1)>", ThunkValue{Expr: lambdaNode.Body}.String())
}

func TestLazyThunksRecordTheirEnvironment(t *testing.T) {
	// y's thunk was recorded where a is 1. Forcing y after a is
	// rebound to 50 must still evaluate in the recorded environment.
	expr := mustParse(t, "(let ([a 1]) (let ([y (+ a 1)]) (let ([a 50]) y)))")

	v, err := Lazy(expr, nil)
	require.NoError(t, err)
	assert.Equal(t, IntValue{Value: 2}, v)
}
