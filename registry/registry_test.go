package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModelRepo struct{ name string }

func TestRegistry_RegisterLookup(t *testing.T) {
	r := New()
	tok := NewToken("model-repository")
	require.NoError(t, r.Register(tok, &fakeModelRepo{name: "repo-1"}))

	v, ok := r.Lookup(tok)
	require.True(t, ok)
	assert.Equal(t, "repo-1", v.(*fakeModelRepo).name)
}

func TestRegistry_GenericLookup(t *testing.T) {
	r := New()
	tok := NewToken("model-repository")
	require.NoError(t, r.Register(tok, &fakeModelRepo{name: "repo-2"}))

	v, ok := Lookup[*fakeModelRepo](r, tok)
	require.True(t, ok)
	assert.Equal(t, "repo-2", v.name)

	_, ok = Lookup[*fakeModelRepo](r, NewToken("missing"))
	assert.False(t, ok)
}

func TestRegistry_FreezeRejectsRegistration(t *testing.T) {
	r := New()
	r.Freeze()

	err := r.Register(NewToken("x"), 1)
	assert.Error(t, err)
}

func TestRegistry_CloseRunsTeardownInReverseOrder(t *testing.T) {
	r := New()
	var order []int
	require.NoError(t, r.RegisterWithTeardown(NewToken("a"), 1, func() { order = append(order, 1) }))
	require.NoError(t, r.RegisterWithTeardown(NewToken("b"), 2, func() { order = append(order, 2) }))

	r.Close()
	assert.Equal(t, []int{2, 1}, order)
}
