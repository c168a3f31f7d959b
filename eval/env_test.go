package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnv_EmptyLookup(t *testing.T) {
	var empty *Env
	v, ok := empty.Lookup("x")
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestEnv_InnermostWins(t *testing.T) {
	env := (*Env)(nil).
		Extend("x", IntValue{Value: 1}).
		Extend("x", IntValue{Value: 2})

	v, ok := env.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, IntValue{Value: 2}, v)
}

func TestEnv_ExtensionDoesNotMutate(t *testing.T) {
	base := (*Env)(nil).Extend("x", IntValue{Value: 1})
	left := base.Extend("y", IntValue{Value: 2})
	right := base.Extend("y", IntValue{Value: 3})

	// The shared parent serves both extensions unchanged.
	v, ok := base.Lookup("y")
	assert.False(t, ok)
	assert.Nil(t, v)

	v, ok = left.Lookup("y")
	require.True(t, ok)
	assert.Equal(t, IntValue{Value: 2}, v)

	v, ok = right.Lookup("y")
	require.True(t, ok)
	assert.Equal(t, IntValue{Value: 3}, v)

	for _, env := range []*Env{base, left, right} {
		v, ok = env.Lookup("x")
		require.True(t, ok)
		assert.Equal(t, IntValue{Value: 1}, v)
	}
}

func TestEnv_BindingsFiltersShadowed(t *testing.T) {
	env := (*Env)(nil).
		Extend("x", IntValue{Value: 1}).
		Extend("y", IntValue{Value: 2}).
		Extend("x", IntValue{Value: 3})

	bindings := env.Bindings()
	require.Len(t, bindings, 2)
	assert.Equal(t, Binding{Name: "x", Value: IntValue{Value: 3}}, bindings[0])
	assert.Equal(t, Binding{Name: "y", Value: IntValue{Value: 2}}, bindings[1])
}

func TestEnv_BindingsOfEmpty(t *testing.T) {
	var empty *Env
	assert.Empty(t, empty.Bindings())
}
