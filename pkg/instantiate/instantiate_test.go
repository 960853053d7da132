package instantiate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/orochestra/pkg/dir"
	orerrors "github.com/davidthor/orochestra/pkg/errors"
	"github.com/davidthor/orochestra/pkg/model"
	"github.com/davidthor/orochestra/pkg/plan"
	"github.com/davidthor/orochestra/pkg/requirements"
)

func instantiateRoot(t *testing.T, m *model.Model, ctx *dir.DIR) (*plan.Plan, *Result) {
	t.Helper()
	p := plan.New()
	req := requirements.New()
	req.Models = []*model.Model{m}
	res, err := Instantiate(p, "", "root", req, ctx)
	require.NoError(t, err)
	return p, res
}

func TestInstantiate_SimpleCompositionWithNoConnections(t *testing.T) {
	child := &model.Model{
		Kind:  model.KindTaskContext,
		Name:  "Emitter",
		Ports: []model.Port{{Name: "out1", Direction: model.DirectionOut, Type: "int"}},
	}
	comp := &model.Model{
		Kind: model.KindComposition,
		Name: "Comp",
		Children: []*model.CompositionChild{
			{Name: "a", Models: []*model.Model{child}},
		},
		Exports: []model.Export{
			{Port: "myOut", Direction: model.DirectionOut, Type: "int", Child: "a", ChildPort: "out1"},
		},
	}

	p, res := instantiateRoot(t, comp, dir.New())

	require.NotNil(t, res.Task)
	assert.Equal(t, "Comp", res.Task.Model.Name)
	require.Len(t, p.Tasks, 2)

	ref, ok := res.Exports["myOut"]
	require.True(t, ok)
	childTask := p.TasksByComponent("root")[0]
	assert.Equal(t, childTask.ID, ref.TaskID, "exports point at the leaf task, not the composition")
	assert.Equal(t, "out1", ref.Port)
	assert.Contains(t, childTask.DependsOn, res.Task.ID)
}

func TestInstantiate_ExplicitConnectionWiresRenamedPorts(t *testing.T) {
	producer := &model.Model{
		Kind:  model.KindTaskContext,
		Name:  "Producer",
		Ports: []model.Port{{Name: "value", Direction: model.DirectionOut, Type: "float"}},
	}
	consumer := &model.Model{
		Kind:  model.KindTaskContext,
		Name:  "Consumer",
		Ports: []model.Port{{Name: "input", Direction: model.DirectionIn, Type: "float"}},
	}
	policy := model.Policy{Type: "buffer", Size: 4}
	comp := &model.Model{
		Kind: model.KindComposition,
		Name: "Comp",
		Children: []*model.CompositionChild{
			{Name: "b", Models: []*model.Model{producer}},
			{Name: "c", Models: []*model.Model{consumer}},
		},
		Connections: []model.Connection{
			{FromChild: "b", FromPort: "value", ToChild: "c", ToPort: "input", Policy: policy},
		},
	}

	p, _ := instantiateRoot(t, comp, dir.New())

	producerTask := findTaskByModelName(p, "Producer")
	consumerTask := findTaskByModelName(p, "Consumer")
	require.NotNil(t, producerTask)
	require.NotNil(t, consumerTask)

	require.Len(t, p.Edges, 1)
	edge := p.Edges[0]
	assert.Equal(t, producerTask.ID, edge.FromTask)
	assert.Equal(t, "value", edge.FromPort)
	assert.Equal(t, consumerTask.ID, edge.ToTask)
	assert.Equal(t, "input", edge.ToPort)
	assert.Equal(t, policy, edge.Policy)
	assert.Contains(t, consumerTask.DependsOn, producerTask.ID)
}

func TestInstantiate_ConnectionResolvesThroughFulfillmentPortRename(t *testing.T) {
	sonarService := &model.Model{
		Kind: model.KindDataService,
		Name: "SonarDriver",
		Ports: []model.Port{
			{Name: "reading", Direction: model.DirectionOut, Type: "distance"},
		},
	}
	hokuyo := &model.Model{
		Kind: model.KindTaskContext,
		Name: "HokuyoSonar",
		Ports: []model.Port{
			{Name: "scan", Direction: model.DirectionOut, Type: "distance"},
		},
		Fulfillments: []model.Fulfillment{
			{Model: sonarService, PortMap: map[string]string{"reading": "scan"}},
		},
	}
	logger := &model.Model{
		Kind:  model.KindTaskContext,
		Name:  "Logger",
		Ports: []model.Port{{Name: "samples", Direction: model.DirectionIn, Type: "distance"}},
	}
	comp := &model.Model{
		Kind: model.KindComposition,
		Name: "SonarLogging",
		Children: []*model.CompositionChild{
			{Name: "sonar", Models: []*model.Model{sonarService}},
			{Name: "logger", Models: []*model.Model{logger}},
		},
		Connections: []model.Connection{
			{FromChild: "sonar", FromPort: "reading", ToChild: "logger", ToPort: "samples"},
		},
	}

	ctx := dir.New()
	ctx.Add(dir.Explicit(requirements.NameKey("sonar"), requirements.ComponentSelection(hokuyo)))

	p, _ := instantiateRoot(t, comp, ctx)

	sonarTask := findTaskByModelName(p, "HokuyoSonar")
	loggerTask := findTaskByModelName(p, "Logger")
	require.NotNil(t, sonarTask)
	require.NotNil(t, loggerTask)

	require.Len(t, p.Edges, 1, "the connection written against the abstract service's port name must still wire")
	edge := p.Edges[0]
	assert.Equal(t, sonarTask.ID, edge.FromTask)
	assert.Equal(t, "scan", edge.FromPort, "the edge must use the concrete component's renamed port")
	assert.Equal(t, loggerTask.ID, edge.ToTask)
	assert.Equal(t, "samples", edge.ToPort)
}

func TestInstantiate_ConnectionThroughConflictingRenamesFails(t *testing.T) {
	serviceA := &model.Model{
		Kind:  model.KindDataService,
		Name:  "RangeFinder",
		Ports: []model.Port{{Name: "data", Direction: model.DirectionOut, Type: "float"}},
	}
	serviceB := &model.Model{
		Kind:  model.KindDataService,
		Name:  "Altimeter",
		Ports: []model.Port{{Name: "data", Direction: model.DirectionOut, Type: "float"}},
	}
	impl := &model.Model{
		Kind: model.KindTaskContext,
		Name: "CombinedSensor",
		Ports: []model.Port{
			{Name: "range_out", Direction: model.DirectionOut, Type: "float"},
			{Name: "alt_out", Direction: model.DirectionOut, Type: "float"},
		},
		Fulfillments: []model.Fulfillment{
			{Model: serviceA, PortMap: map[string]string{"data": "range_out"}},
			{Model: serviceB, PortMap: map[string]string{"data": "alt_out"}},
		},
	}
	consumer := &model.Model{
		Kind:  model.KindTaskContext,
		Name:  "Sink",
		Ports: []model.Port{{Name: "samples", Direction: model.DirectionIn, Type: "float"}},
	}
	comp := &model.Model{
		Kind: model.KindComposition,
		Name: "Comp",
		Children: []*model.CompositionChild{
			{Name: "sensor", Models: []*model.Model{serviceA, serviceB}},
			{Name: "sink", Models: []*model.Model{consumer}},
		},
		Connections: []model.Connection{
			{FromChild: "sensor", FromPort: "data", ToChild: "sink", ToPort: "samples"},
		},
	}

	ctx := dir.New()
	ctx.Add(dir.Explicit(requirements.NameKey("sensor"), requirements.ComponentSelection(impl)))

	p := plan.New()
	req := requirements.New()
	req.Models = []*model.Model{comp}
	_, err := Instantiate(p, "", "root", req, ctx)
	require.Error(t, err)
	assert.True(t, orerrors.Is(err, orerrors.CodeAmbiguousChildConnection))
}

func TestInstantiate_Autoconnect_MatchesByIdenticalName(t *testing.T) {
	producer := &model.Model{
		Kind:  model.KindTaskContext,
		Name:  "TempSensor",
		Ports: []model.Port{{Name: "temperature", Direction: model.DirectionOut, Type: "float"}},
	}
	consumer := &model.Model{
		Kind:  model.KindTaskContext,
		Name:  "TempLogger",
		Ports: []model.Port{{Name: "temperature", Direction: model.DirectionIn, Type: "float"}},
	}
	comp := &model.Model{
		Kind: model.KindComposition,
		Name: "Comp",
		Children: []*model.CompositionChild{
			{Name: "d", Models: []*model.Model{producer}},
			{Name: "e", Models: []*model.Model{consumer}},
		},
	}

	p, _ := instantiateRoot(t, comp, dir.New())

	require.Len(t, p.Edges, 1)
	edge := p.Edges[0]
	assert.Equal(t, "temperature", edge.FromPort)
	assert.Equal(t, "temperature", edge.ToPort)
}

func TestInstantiate_Autoconnect_FailsOnAmbiguity(t *testing.T) {
	producerA := &model.Model{
		Kind:  model.KindTaskContext,
		Name:  "SensorA",
		Ports: []model.Port{{Name: "reading", Direction: model.DirectionOut, Type: "float"}},
	}
	producerB := &model.Model{
		Kind:  model.KindTaskContext,
		Name:  "SensorB",
		Ports: []model.Port{{Name: "reading", Direction: model.DirectionOut, Type: "float"}},
	}
	consumer := &model.Model{
		Kind:  model.KindTaskContext,
		Name:  "Logger",
		Ports: []model.Port{{Name: "reading", Direction: model.DirectionIn, Type: "float"}},
	}
	comp := &model.Model{
		Kind: model.KindComposition,
		Name: "Comp",
		Children: []*model.CompositionChild{
			{Name: "a", Models: []*model.Model{producerA}},
			{Name: "b", Models: []*model.Model{producerB}},
			{Name: "c", Models: []*model.Model{consumer}},
		},
	}

	p := plan.New()
	req := requirements.New()
	req.Models = []*model.Model{comp}
	_, err := Instantiate(p, "", "root", req, dir.New())
	require.Error(t, err)
	assert.True(t, orerrors.Is(err, orerrors.CodeAmbiguousAutoConnection))
}

func TestInstantiate_SpecializationSwapsCompositionModel(t *testing.T) {
	abstractDriver := &model.Model{Kind: model.KindTaskContext, Name: "AbstractDriver"}
	concreteDriver := &model.Model{
		Kind: model.KindTaskContext,
		Name: "ConcreteDriver",
		Fulfillments: []model.Fulfillment{
			{Model: abstractDriver, PortMap: map[string]string{}},
		},
		Ports: []model.Port{{Name: "out", Direction: model.DirectionOut, Type: "int"}},
	}

	specialized := &model.Model{
		Kind: model.KindComposition,
		Name: "SpecializedComp",
		Children: []*model.CompositionChild{
			{Name: "driver", Models: []*model.Model{abstractDriver}},
		},
		Exports: []model.Export{
			{Port: "signal", Direction: model.DirectionOut, Type: "int", Child: "driver", ChildPort: "out"},
		},
	}

	generic := &model.Model{
		Kind: model.KindComposition,
		Name: "Comp",
		Children: []*model.CompositionChild{
			{Name: "driver", Models: []*model.Model{abstractDriver}},
		},
		Exports: []model.Export{
			{Port: "raw", Direction: model.DirectionOut, Type: "int", Child: "driver", ChildPort: "out"},
		},
		Specializations: []model.Specialization{
			{Selections: map[string]*model.Model{"driver": concreteDriver}, Specialized: specialized},
		},
	}

	ctx := dir.New()
	ctx.Add(dir.Explicit(requirements.NameKey("driver"), requirements.ComponentSelection(concreteDriver)))

	_, res := instantiateRoot(t, generic, ctx)

	_, hasGenericExport := res.Exports["raw"]
	assert.False(t, hasGenericExport, "specialized composition's exports replace the generic ones")
	signal, ok := res.Exports["signal"]
	require.True(t, ok)
	assert.Equal(t, "out", signal.Port)
}

func TestInstantiate_OptionalChildDroppedWhenUnresolved(t *testing.T) {
	abstractService := &model.Model{Kind: model.KindDataService, Name: "OptionalService"}
	comp := &model.Model{
		Kind: model.KindComposition,
		Name: "Comp",
		Children: []*model.CompositionChild{
			{Name: "maybe", Models: []*model.Model{abstractService}, Optional: true},
		},
		Exports: []model.Export{
			{Port: "unused", Direction: model.DirectionOut, Type: "int", Child: "maybe", ChildPort: "out"},
		},
	}

	p, res := instantiateRoot(t, comp, dir.New())

	assert.Empty(t, p.TasksByComponent("root.maybe"), "no task is created for a dropped optional child")
	_, hasExport := res.Exports["unused"]
	assert.False(t, hasExport, "an export pointing at a dropped child is silently omitted")
}

func findTaskByModelName(p *plan.Plan, modelName string) *plan.Task {
	for _, t := range p.Tasks {
		if t.Model.Name == modelName {
			return t
		}
	}
	return nil
}
