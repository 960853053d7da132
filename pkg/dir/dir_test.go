package dir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orerrors "github.com/davidthor/orochestra/pkg/errors"
	"github.com/davidthor/orochestra/pkg/model"
	"github.com/davidthor/orochestra/pkg/requirements"
)

func TestResolve_RecursiveResolution(t *testing.T) {
	concrete := &model.Model{Kind: model.KindTaskContext, Name: "M"}

	d := New()
	d.Add(
		Explicit(requirements.NameKey("a"), requirements.NameSelection("b")),
		Explicit(requirements.NameKey("b"), requirements.ComponentSelection(concrete)),
	)

	resolved, err := d.Resolve()
	require.NoError(t, err)

	a, ok := resolved.Lookup(requirements.NameKey("a"))
	require.True(t, ok)
	assert.Same(t, concrete, a.ConcreteModelOrNil())

	b, ok := resolved.Lookup(requirements.NameKey("b"))
	require.True(t, ok)
	assert.Same(t, concrete, b.ConcreteModelOrNil())
}

func TestResolve_IsIdempotent(t *testing.T) {
	concrete := &model.Model{Kind: model.KindTaskContext, Name: "M"}
	d := New()
	d.Add(Explicit(requirements.NameKey("a"), requirements.ComponentSelection(concrete)))

	once, err := d.Resolve()
	require.NoError(t, err)
	twice, err := once.Resolve()
	require.NoError(t, err)

	a1, _ := once.Lookup(requirements.NameKey("a"))
	a2, _ := twice.Lookup(requirements.NameKey("a"))
	assert.Same(t, a1.ConcreteModelOrNil(), a2.ConcreteModelOrNil())
}

func TestResolve_RecursiveSelection_FailsOnCycle(t *testing.T) {
	d := New()
	d.Add(
		Explicit(requirements.NameKey("a"), requirements.NameSelection("b")),
		Explicit(requirements.NameKey("b"), requirements.NameSelection("a")),
	)

	_, err := d.Resolve()
	require.Error(t, err)
	assert.True(t, orerrors.Is(err, orerrors.CodeRecursiveSelection))
}

func TestResolve_DefaultVsExplicit(t *testing.T) {
	devService := &model.Model{Kind: model.KindDataService, Name: "DevService"}
	devImpl := &model.Model{
		Kind: model.KindTaskContext,
		Name: "DevImpl",
		Fulfillments: []model.Fulfillment{
			{Model: devService, PortMap: map[string]string{}},
		},
	}
	otherImpl := &model.Model{
		Kind: model.KindTaskContext,
		Name: "OtherImpl",
		Fulfillments: []model.Fulfillment{
			{Model: devService, PortMap: map[string]string{}},
		},
	}

	d := New()
	d.Add(
		Default(requirements.ComponentSelection(devImpl)),
		Explicit(requirements.ModelKey(devService), requirements.ComponentSelection(otherImpl)),
	)

	resolved, err := d.Resolve()
	require.NoError(t, err)

	sel, ok := resolved.Lookup(requirements.ModelKey(devService))
	require.True(t, ok)
	assert.Same(t, otherImpl, sel.ConcreteModelOrNil(), "explicit selection wins over the default")
}

func TestResolve_AmbiguousDefault_LeavesServiceUnselected(t *testing.T) {
	devService := &model.Model{Kind: model.KindDataService, Name: "DevService"}
	implA := &model.Model{
		Kind: model.KindTaskContext,
		Name: "DevImplA",
		Fulfillments: []model.Fulfillment{
			{Model: devService, PortMap: map[string]string{}},
		},
	}
	implB := &model.Model{
		Kind: model.KindTaskContext,
		Name: "DevImplB",
		Fulfillments: []model.Fulfillment{
			{Model: devService, PortMap: map[string]string{}},
		},
	}

	d := New()
	d.Add(
		Default(requirements.ComponentSelection(implA)),
		Default(requirements.ComponentSelection(implB)),
	)

	resolved, err := d.Resolve()
	require.NoError(t, err)

	_, ok := resolved.Lookup(requirements.ModelKey(devService))
	assert.False(t, ok, "ambiguous default leaves the service unselected")
}

func TestComponentModelFor_UsesExplicitNameWhenConcrete(t *testing.T) {
	concrete := &model.Model{Kind: model.KindTaskContext, Name: "M"}
	d := New()
	d.Add(Explicit(requirements.NameKey("driver"), requirements.ComponentSelection(concrete)))

	got, _, err := d.ComponentModelFor("driver", requirements.New())
	require.NoError(t, err)
	assert.Same(t, concrete, got)
}

func TestComponentModelFor_SynthesizesProxyWhenUnresolved(t *testing.T) {
	svcA := &model.Model{Kind: model.KindDataService, Name: "A"}
	svcB := &model.Model{Kind: model.KindDataService, Name: "B"}
	req := requirements.New()
	req.Models = []*model.Model{svcA, svcB}

	d := New()
	got, _, err := d.ComponentModelFor("driver", req)
	require.NoError(t, err)
	assert.True(t, got.IsProxy)
	assert.True(t, got.Fulfills(svcA))
	assert.True(t, got.Fulfills(svcB))
}

func TestComponentModelFor_FailsOnIncompatibleConcreteModels(t *testing.T) {
	implA := &model.Model{Kind: model.KindTaskContext, Name: "ImplA"}
	implB := &model.Model{Kind: model.KindTaskContext, Name: "ImplB"}

	req := requirements.New()
	req.Models = []*model.Model{implA, implB}

	d := New()
	d.Add(
		Explicit(requirements.ModelKey(implA), requirements.ComponentSelection(implA)),
		Explicit(requirements.ModelKey(implB), requirements.ComponentSelection(implB)),
	)

	_, _, err := d.ComponentModelFor("driver", req)
	require.Error(t, err)
	assert.True(t, orerrors.Is(err, orerrors.CodeIncompatibleComponentModels))
}

func TestMerge_PicksMoreSpecificModel(t *testing.T) {
	base := &model.Model{Kind: model.KindTaskContext, Name: "Base"}
	specific := &model.Model{
		Kind: model.KindTaskContext,
		Name: "Specific",
		Fulfillments: []model.Fulfillment{
			{Model: base, PortMap: map[string]string{}},
		},
	}

	d1 := New()
	d1.Add(Explicit(requirements.ModelKey(base), requirements.ComponentSelection(base)))
	d2 := New()
	d2.Add(Explicit(requirements.ModelKey(base), requirements.ComponentSelection(specific)))

	merged, err := d1.Merge(d2)
	require.NoError(t, err)

	sel, ok := merged.Lookup(requirements.ModelKey(base))
	require.True(t, ok)
	assert.Same(t, specific, sel.ConcreteModelOrNil())
}

func TestMerge_FailsOnIncomparableSelections(t *testing.T) {
	a := &model.Model{Kind: model.KindTaskContext, Name: "A"}
	b := &model.Model{Kind: model.KindTaskContext, Name: "B"}

	d1 := New()
	d1.Add(Explicit(requirements.ModelKey(a), requirements.ComponentSelection(a)))
	d2 := New()
	d2.Add(Explicit(requirements.ModelKey(a), requirements.ComponentSelection(b)))

	_, err := d1.Merge(d2)
	require.Error(t, err)
	assert.True(t, orerrors.Is(err, orerrors.CodeIncompatibleSelections))
}
