package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryKernelTokenRemovesExactSlot(t *testing.T) {
	e := newOperatorEntry(ParseName("loom::x"))

	t1 := e.registerKernel(ForKey(CPU), noopKernel(), nil, "first")
	t2 := e.registerKernel(ForKey(CPU), noopKernel(), nil, "second")
	require.Len(t, e.kernels[CPU], 2)

	// Removing the first token must not disturb the later registration.
	e.deregisterKernel(ForKey(CPU), t1)
	require.Len(t, e.kernels[CPU], 1)
	assert.Equal(t, t2, e.kernels[CPU][0].id)

	e.deregisterKernel(ForKey(CPU), t2)
	assert.NotContains(t, e.kernels, CPU, "empty kernel lists are dropped from the table")
}

func TestEntryDeregisterUnknownTokenPanics(t *testing.T) {
	e := newOperatorEntry(ParseName("loom::x"))
	tok := e.registerKernel(ForKey(CPU), noopKernel(), nil, "")
	e.deregisterKernel(ForKey(CPU), tok)
	assert.Panics(t, func() { e.deregisterKernel(ForKey(CPU), tok) })
}

func TestEntryCoverage(t *testing.T) {
	e := newOperatorEntry(ParseName("loom::x"))
	e.registerKernel(ForKey(WebGPU), noopKernel(), nil, "")
	e.registerKernel(ForKey(CPU), noopKernel(), nil, "")
	e.registerKernel(CatchAll(), noopKernel(), nil, "")

	assert.Equal(t, []DispatchKey{CPU, WebGPU}, e.supportedKeys(), "keys come back in key order")
	assert.Equal(t, []string{"CPU", "WebGPU", "CatchAll"}, e.coverage())
}

func TestEntryTablePublication(t *testing.T) {
	e := newOperatorEntry(ParseName("loom::x"))

	_, ok := e.lookupKernel(CPU)
	require.False(t, ok)

	tok := e.registerKernel(ForKey(CPU), noopKernel(), nil, "")
	k, ok := e.lookupKernel(CPU)
	require.True(t, ok, "registration must publish the kernel immediately")
	assert.True(t, k.IsValid())

	// A snapshot taken before a mutation keeps resolving the old state.
	before := e.table.Load()
	e.deregisterKernel(ForKey(CPU), tok)
	_, ok = e.lookupKernel(CPU)
	assert.False(t, ok, "deregistration must publish the removal")
	_, ok = before.lookup(CPU)
	assert.True(t, ok, "published tables are immutable")

	require.NoError(t, e.checkInvariants())
}

func TestEntryInvariants(t *testing.T) {
	e := newOperatorEntry(ParseName("loom::x"))
	require.NoError(t, e.checkInvariants())

	// defCount > 0 requires a schema.
	e.defCount = 1
	e.defAndImplCount = 1
	require.Error(t, e.checkInvariants())

	s := NewSchema(e.name, "(Tensor a) -> Tensor", AliasDefault)
	e.registerSchema(s)
	require.NoError(t, e.checkInvariants())

	// defCount must never exceed the total.
	e.defCount = 2
	require.Error(t, e.checkInvariants())
}

func TestEntrySchemaRegistrationNotIdempotent(t *testing.T) {
	e := newOperatorEntry(ParseName("loom::x"))
	s := NewSchema(e.name, "(Tensor a) -> Tensor", AliasDefault)
	e.registerSchema(s)
	assert.Panics(t, func() { e.registerSchema(s) })
}

func TestEntryPrepareForDeregistration(t *testing.T) {
	e := newOperatorEntry(ParseName("loom::x"))
	assert.NotPanics(t, func() { e.prepareForDeregistration() })

	tok := e.registerKernel(ForKey(CPU), noopKernel(), nil, "")
	assert.Panics(t, func() { e.prepareForDeregistration() })

	e.deregisterKernel(ForKey(CPU), tok)
	assert.NotPanics(t, func() { e.prepareForDeregistration() })
}
