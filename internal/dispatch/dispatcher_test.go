package dispatch

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-ml/loom/internal/tensor"
)

func noopKernel() KernelFunction {
	return NewKernel(func(_ *Context, args []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		return args, nil
	})
}

func mustSchema(t *testing.T, decl string, alias AliasAnalysisKind) FunctionSchema {
	t.Helper()
	s, err := ParseSchema(decl, alias)
	require.NoError(t, err)
	return s
}

func TestFindOrCreateIdentity(t *testing.T) {
	d := New()
	name := ParseName("loom::foo")

	h1, err := d.RegisterImpl(name, ForKey(CPU), noopKernel(), nil, "test")
	require.NoError(t, err)
	op1, ok := d.FindByName(name)
	require.True(t, ok)

	h2, err := d.RegisterImpl(name, ForKey(CUDA), noopKernel(), nil, "test")
	require.NoError(t, err)
	op2, ok := d.FindByName(name)
	require.True(t, ok)

	assert.Equal(t, op1, op2, "repeated find-or-create must yield the same entry")
	assert.Equal(t, 1, d.NumOperators())

	h1.Deregister()
	h2.Deregister()
}

func TestReferenceCountingClosesTheLoop(t *testing.T) {
	name := ParseName("loom::refcount")
	schema := func(t *testing.T) FunctionSchema {
		return mustSchema(t, "loom::refcount(Tensor a) -> Tensor", AliasDefault)
	}

	// N mixed registrations, disposed in a few different orders.
	for seed := int64(0); seed < 4; seed++ {
		d := New()
		var handles []*RegistrationHandle

		for i := 0; i < 3; i++ {
			h, err := d.RegisterDef(schema(t))
			require.NoError(t, err)
			handles = append(handles, h)
		}
		for i := 0; i < 3; i++ {
			h, err := d.RegisterImpl(name, ForKey(CPU), noopKernel(), nil, fmt.Sprintf("impl %d", i))
			require.NoError(t, err)
			handles = append(handles, h)
		}

		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(handles), func(i, j int) {
			handles[i], handles[j] = handles[j], handles[i]
		})
		for _, h := range handles {
			h.Deregister()
		}

		_, ok := d.FindByName(name)
		assert.False(t, ok, "entry must be gone after all handles are released")
		assert.Equal(t, 0, d.NumOperators())
		assert.NoError(t, d.CheckInvariants())
	}
}

func TestSchemaCompatibility(t *testing.T) {
	d := New()

	h1, err := d.RegisterDef(mustSchema(t, "loom::foo(Tensor a) -> Tensor", AliasConservative))
	require.NoError(t, err)
	h2, err := d.RegisterDef(mustSchema(t, "loom::foo(Tensor a) -> Tensor", AliasConservative))
	require.NoError(t, err)

	op, ok := d.FindByName(ParseName("loom::foo"))
	require.True(t, ok)
	require.Equal(t, 2, op.entry.defCount)

	// Different signature for the same name must be rejected without
	// touching counts.
	_, err = d.RegisterDef(mustSchema(t, "loom::foo(Tensor a, Tensor b) -> Tensor", AliasConservative))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, ParseName("loom::foo"), mismatch.Name)
	assert.Equal(t, 2, op.entry.defCount)
	assert.Equal(t, 2, op.entry.defAndImplCount)

	h1.Deregister()
	h2.Deregister()
	assert.Equal(t, 0, d.NumOperators())
}

func TestDefaultAliasKindBackwardCompatibility(t *testing.T) {
	d := New()
	decl := "loom::bar(Tensor a) -> Tensor"

	h1, err := d.RegisterDef(mustSchema(t, decl, AliasDefault))
	require.NoError(t, err)

	// First concrete kind after a default declaration is adopted.
	h2, err := d.RegisterDef(mustSchema(t, decl, AliasPure))
	require.NoError(t, err)

	// A disagreeing concrete kind now conflicts.
	_, err = d.RegisterDef(mustSchema(t, decl, AliasConservative))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAliasAnalysisConflict)

	// A later default-kind registration is always accepted.
	h3, err := d.RegisterDef(mustSchema(t, decl, AliasDefault))
	require.NoError(t, err)

	// Matching concrete kind is fine too.
	h4, err := d.RegisterDef(mustSchema(t, decl, AliasPure))
	require.NoError(t, err)

	for _, h := range []*RegistrationHandle{h1, h2, h3, h4} {
		h.Deregister()
	}
	assert.Equal(t, 0, d.NumOperators())
}

func TestKernelBeforeSchema(t *testing.T) {
	d := New()
	name := ParseName("loom::baz")

	hImpl, err := d.RegisterImpl(name, ForKey(CPU), noopKernel(), nil, "cpu kernel")
	require.NoError(t, err)

	_, ok := d.FindSchema(name)
	assert.False(t, ok, "kernel-only operator must not report a schema")
	op, ok := d.FindByName(name)
	require.True(t, ok, "kernel-only operator must still be findable")
	assert.False(t, op.HasSchema())

	_, err = d.FindSchemaOrError(name)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingSchema)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = d.FindSchemaOrError(ParseName("loom::never_registered"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	hDef, err := d.RegisterDef(mustSchema(t, "loom::baz(Tensor a) -> Tensor", AliasDefault))
	require.NoError(t, err)
	_, ok = d.FindSchema(name)
	assert.True(t, ok, "schema registration must flip FindSchema to present")

	hDef.Deregister()
	hImpl.Deregister()
	assert.NoError(t, d.CheckInvariants())
}

func TestFallbackExclusivity(t *testing.T) {
	d := New()

	h1, err := d.RegisterFallback(CPU, noopKernel())
	require.NoError(t, err)

	_, err = d.RegisterFallback(CPU, noopKernel())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateFallback)

	h1.Deregister()

	h2, err := d.RegisterFallback(CPU, noopKernel())
	require.NoError(t, err)
	h2.Deregister()

	assert.NoError(t, d.CheckInvariants())
}

func TestFallthroughBitsetMaintenance(t *testing.T) {
	d := New()
	require.NoError(t, d.CheckInvariants())

	h, err := d.RegisterFallback(Metal, Fallthrough())
	require.NoError(t, err)
	assert.False(t, d.withoutFallthrough.Has(Metal))
	require.NoError(t, d.CheckInvariants())

	h.Deregister()
	assert.True(t, d.withoutFallthrough.Has(Metal))
	require.NoError(t, d.CheckInvariants())
}

// recordingListener records event names in order.
type recordingListener struct {
	registered   []OperatorName
	deregistered []OperatorName
}

func (l *recordingListener) OnOperatorRegistered(op OperatorHandle) {
	l.registered = append(l.registered, op.Name())
}

func (l *recordingListener) OnOperatorDeregistered(op OperatorHandle) {
	l.deregistered = append(l.deregistered, op.Name())
}

func TestListenerReplay(t *testing.T) {
	d := New()

	hQux, err := d.RegisterDef(mustSchema(t, "loom::qux(Tensor a) -> Tensor", AliasDefault))
	require.NoError(t, err)

	// Kernel-only operators have no schema and are not replayed.
	hImpl, err := d.RegisterImpl(ParseName("loom::impl_only"), ForKey(CPU), noopKernel(), nil, "")
	require.NoError(t, err)

	l := &recordingListener{}
	d.AddListener(l)
	require.Equal(t, []OperatorName{ParseName("loom::qux")}, l.registered,
		"AddListener must synchronously replay live operators, and only those with a schema")

	hLater, err := d.RegisterDef(mustSchema(t, "loom::later(Tensor a) -> Tensor", AliasDefault))
	require.NoError(t, err)
	require.Equal(t, []OperatorName{ParseName("loom::qux"), ParseName("loom::later")}, l.registered)

	hLater.Deregister()
	hQux.Deregister()
	assert.Equal(t, []OperatorName{ParseName("loom::later"), ParseName("loom::qux")}, l.deregistered)

	hImpl.Deregister()
}

func TestListenerFiresOncePerOperatorLifetime(t *testing.T) {
	d := New()
	l := &recordingListener{}
	d.AddListener(l)

	decl := "loom::once(Tensor a) -> Tensor"
	h1, err := d.RegisterDef(mustSchema(t, decl, AliasDefault))
	require.NoError(t, err)
	h2, err := d.RegisterDef(mustSchema(t, decl, AliasDefault))
	require.NoError(t, err)

	assert.Len(t, l.registered, 1, "only the first def registration announces the operator")

	h2.Deregister()
	assert.Empty(t, l.deregistered, "operator is still defined by the remaining registration")
	h1.Deregister()
	assert.Len(t, l.deregistered, 1)
}

func TestResolvePrecedence(t *testing.T) {
	d := New()
	name := ParseName("loom::resolve")

	calls := make([]string, 0, 4)
	kernel := func(label string) KernelFunction {
		return NewKernel(func(_ *Context, args []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
			calls = append(calls, label)
			return args, nil
		})
	}

	hOld, err := d.RegisterImpl(name, ForKey(CPU), kernel("cpu-old"), nil, "old")
	require.NoError(t, err)
	hNew, err := d.RegisterImpl(name, ForKey(CPU), kernel("cpu-new"), nil, "new")
	require.NoError(t, err)
	hAll, err := d.RegisterImpl(name, CatchAll(), kernel("catch-all"), nil, "")
	require.NoError(t, err)

	op, ok := d.FindByName(name)
	require.True(t, ok)

	// Newest kernel for the key wins.
	k, err := d.Resolve(op, CPU)
	require.NoError(t, err)
	_, err = k.Call(&Context{Key: CPU}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu-new"}, calls)

	// Unsupported key falls back to the catch-all.
	k, err = d.Resolve(op, CUDA)
	require.NoError(t, err)
	_, err = k.Call(&Context{Key: CUDA}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu-new", "catch-all"}, calls)

	// Removing the newest kernel exposes the older one again; removal must
	// hit exactly the slot the handle created.
	hNew.Deregister()
	k, err = d.Resolve(op, CPU)
	require.NoError(t, err)
	_, err = k.Call(&Context{Key: CPU}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu-new", "catch-all", "cpu-old"}, calls)

	hAll.Deregister()
	hOld.Deregister()
}

func TestResolveFallback(t *testing.T) {
	d := New()
	name := ParseName("loom::fb")

	hImpl, err := d.RegisterImpl(name, ForKey(CPU), noopKernel(), nil, "")
	require.NoError(t, err)
	op, ok := d.FindByName(name)
	require.True(t, ok)

	_, err = d.Resolve(op, CUDA)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDispatchResolution)

	hFb, err := d.RegisterFallback(CUDA, noopKernel())
	require.NoError(t, err)
	_, err = d.Resolve(op, CUDA)
	assert.NoError(t, err, "backend fallback must cover unsupported keys")

	// A fallthrough fallback provides no implementation.
	hFt, err := d.RegisterFallback(Vulkan, Fallthrough())
	require.NoError(t, err)
	_, err = d.Resolve(op, Vulkan)
	assert.ErrorIs(t, err, ErrDispatchResolution)

	hFt.Deregister()
	hFb.Deregister()
	hImpl.Deregister()
}

func TestResolutionErrorCases(t *testing.T) {
	d := New()
	name := ParseName("loom::report")

	hImpl, err := d.RegisterImpl(name, ForKey(CPU), noopKernel(), nil, "")
	require.NoError(t, err)
	op, ok := d.FindByName(name)
	require.True(t, ok)

	_, err = d.Resolve(op, Undefined)
	var undef *DispatchResolutionError
	require.ErrorAs(t, err, &undef)
	assert.Equal(t, Undefined, undef.Key)
	assert.Contains(t, err.Error(), "no arguments with an identifiable backend")

	_, err = d.Resolve(op, CUDA)
	var unsupported *DispatchResolutionError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, CUDA, unsupported.Key)
	assert.Contains(t, err.Error(), "CUDA")
	assert.Contains(t, err.Error(), "CPU")

	hImpl.Deregister()
}

func TestDeregisterTwicePanics(t *testing.T) {
	d := New()
	h, err := d.RegisterDef(mustSchema(t, "loom::twice(Tensor a) -> Tensor", AliasDefault))
	require.NoError(t, err)
	h.Deregister()
	assert.Panics(t, func() { h.Deregister() })
}

func TestFailedRegistrationLeavesNoPartialState(t *testing.T) {
	d := New()

	_, err := d.RegisterDef(mustSchema(t, "loom::partial(Tensor a) -> Tensor", AliasDefault))
	require.NoError(t, err)

	_, err = d.RegisterDef(mustSchema(t, "loom::partial(Tensor a, Tensor b) -> Tensor", AliasDefault))
	require.Error(t, err)

	op, ok := d.FindByName(ParseName("loom::partial"))
	require.True(t, ok)
	assert.Equal(t, 1, op.entry.defCount)
	assert.Equal(t, 1, op.entry.defAndImplCount)
	assert.NoError(t, d.CheckInvariants())
}

func TestListenerReplayOrderSurvivesSlotReuse(t *testing.T) {
	d := New()

	hA, err := d.RegisterDef(mustSchema(t, "loom::a(Tensor a) -> Tensor", AliasDefault))
	require.NoError(t, err)
	hB, err := d.RegisterDef(mustSchema(t, "loom::b(Tensor a) -> Tensor", AliasDefault))
	require.NoError(t, err)
	hC, err := d.RegisterDef(mustSchema(t, "loom::c(Tensor a) -> Tensor", AliasDefault))
	require.NoError(t, err)

	// b's slot is recycled by d; replay must still run in registration order.
	hB.Deregister()
	hD, err := d.RegisterDef(mustSchema(t, "loom::d(Tensor a) -> Tensor", AliasDefault))
	require.NoError(t, err)

	l := &recordingListener{}
	d.AddListener(l)
	assert.Equal(t, []OperatorName{ParseName("loom::a"), ParseName("loom::c"), ParseName("loom::d")},
		l.registered)

	for _, h := range []*RegistrationHandle{hA, hC, hD} {
		h.Deregister()
	}
}

func TestSingletonIdentity(t *testing.T) {
	assert.Same(t, Singleton(), Singleton())
}

func TestConcurrentRegistrationAndLookup(t *testing.T) {
	d := New()
	name := ParseName("loom::concurrent")

	var wg sync.WaitGroup
	errs := make(chan error, 64)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h, err := d.RegisterImpl(name, ForKey(CPU), noopKernel(), nil, "worker")
				if err != nil {
					errs <- err
					return
				}
				if op, ok := d.FindByName(name); ok && !op.Valid() {
					errs <- errors.New("lookup returned invalid handle")
					return
				}
				h.Deregister()
			}
		}(i)
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if op, ok := d.FindByName(name); ok {
					// Any observable entry must carry a name; mid-construction
					// entries are never published to the index.
					if op.Name() != name {
						errs <- errors.New("lookup observed entry under construction")
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	assert.NoError(t, d.CheckInvariants())
	assert.Equal(t, 0, d.NumOperators())
}

func TestConcurrentResolveAndRegistration(t *testing.T) {
	d := New()
	name := ParseName("loom::hot")

	// Pin the operator so the entry outlives the churn below.
	hDef, err := d.RegisterDef(mustSchema(t, "loom::hot(Tensor a) -> Tensor", AliasDefault))
	require.NoError(t, err)
	hCPU, err := d.RegisterImpl(name, ForKey(CPU), noopKernel(), nil, "pinned")
	require.NoError(t, err)

	op, ok := d.FindByName(name)
	require.True(t, ok)

	var wg sync.WaitGroup
	errs := make(chan error, 64)

	// Writers churn kernel registrations on the same operator.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				h, err := d.RegisterImpl(name, ForKey(CUDA), noopKernel(), nil, "churn")
				if err != nil {
					errs <- err
					return
				}
				h.Deregister()
			}
		}()
	}

	// Readers resolve against the churning entry the whole time.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 400; j++ {
				if _, err := d.Resolve(op, CPU); err != nil {
					errs <- fmt.Errorf("pinned kernel must always resolve: %w", err)
					return
				}
				// CUDA flickers between resolvable and not; either outcome
				// is fine, the call just must not corrupt state.
				if _, err := d.Resolve(op, CUDA); err != nil && !errors.Is(err, ErrDispatchResolution) {
					errs <- err
					return
				}
				if !op.HasSchema() {
					errs <- errors.New("schema vanished while its registration is live")
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	hCPU.Deregister()
	hDef.Deregister()
	assert.NoError(t, d.CheckInvariants())
	assert.Equal(t, 0, d.NumOperators())
}
