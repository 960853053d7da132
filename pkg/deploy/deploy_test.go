package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/orochestra/pkg/errors"
	"github.com/davidthor/orochestra/pkg/model"
	"github.com/davidthor/orochestra/pkg/plan"
)

func sensorTaskModel() *model.Model {
	return &model.Model{Kind: model.KindTaskContext, Name: "sensor_driver"}
}

func deploymentModel(name string, slots ...model.DeploymentSlot) *model.Model {
	return &model.Model{Kind: model.KindDeployment, Name: name, Slots: slots}
}

func groupOptions(groupName string, instances ...Instance) Options {
	return Options{
		Groups:       map[string]*Group{groupName: {Name: groupName, Instances: instances}},
		DefaultGroup: groupName,
	}
}

func TestDeploy_SimpleUnambiguousAllocation(t *testing.T) {
	p := plan.New()
	taskModel := sensorTaskModel()
	dep := deploymentModel("rover-computer", model.DeploymentSlot{Name: "sensor", TaskModel: taskModel})

	task := plan.NewTask("", "sensorA", taskModel)
	require.NoError(t, p.AddTask(task))

	opts := groupOptions("default", Instance{ProcessServer: "rover-1", Model: dep})

	require.NoError(t, Deploy(p, opts))

	require.Len(t, p.Tasks, 1)
	for _, deployed := range p.Tasks {
		require.NotNil(t, deployed.Binding)
		assert.Equal(t, "rover-1", deployed.Binding.ProcessServer)
		assert.Equal(t, "rover-computer", deployed.Binding.Deployment)
		assert.Equal(t, "sensor", deployed.Binding.Slot)
		assert.True(t, deployed.HasExecutionAgent)
	}
}

func TestDeploy_DisambiguatesByOrocosName(t *testing.T) {
	p := plan.New()
	taskModel := sensorTaskModel()
	dep := deploymentModel("rover-computer",
		model.DeploymentSlot{Name: "sonar", TaskModel: taskModel},
		model.DeploymentSlot{Name: "imu", TaskModel: taskModel},
	)

	task := plan.NewTask("", "sensorA", taskModel)
	task.OrocosName = "sonar"
	require.NoError(t, p.AddTask(task))

	opts := groupOptions("default", Instance{ProcessServer: "rover-1", Model: dep})
	require.NoError(t, Deploy(p, opts))

	require.Len(t, p.Tasks, 1)
	for _, deployed := range p.Tasks {
		assert.Equal(t, "sonar", deployed.Binding.Slot)
	}
}

func TestDeploy_OrocosNameWithNoMatchingSlotReportsMissing(t *testing.T) {
	p := plan.New()
	taskModel := sensorTaskModel()
	dep := deploymentModel("rover-computer", model.DeploymentSlot{Name: "imu", TaskModel: taskModel})

	task := plan.NewTask("", "sensorA", taskModel)
	task.OrocosName = "sonar"
	require.NoError(t, p.AddTask(task))

	opts := groupOptions("default", Instance{ProcessServer: "rover-1", Model: dep})
	err := Deploy(p, opts)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeMissingDeployments))

	// the mismatched slot is never bound, even though it was the only
	// candidate.
	for _, task := range p.Tasks {
		assert.Nil(t, task.Binding)
	}
}

func TestDeploy_AmbiguousWithoutHintsReportsMissing(t *testing.T) {
	p := plan.New()
	taskModel := sensorTaskModel()
	dep := deploymentModel("rover-computer",
		model.DeploymentSlot{Name: "sonar", TaskModel: taskModel},
		model.DeploymentSlot{Name: "imu", TaskModel: taskModel},
	)

	task := plan.NewTask("", "sensorA", taskModel)
	require.NoError(t, p.AddTask(task))

	opts := groupOptions("default", Instance{ProcessServer: "rover-1", Model: dep})
	err := Deploy(p, opts)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeMissingDeployments))

	pipelineErr, ok := err.(*errors.Error)
	require.True(t, ok)
	candidates := pipelineErr.Details["candidates"].(map[string][]errors.CandidateReport)
	require.Contains(t, candidates, task.ID)
	assert.Len(t, candidates[task.ID], 2)
}

func TestDeploy_DisambiguatesByDeploymentHint(t *testing.T) {
	p := plan.New()
	taskModel := sensorTaskModel()
	dep := deploymentModel("rover-computer",
		model.DeploymentSlot{Name: "sonar", TaskModel: taskModel},
		model.DeploymentSlot{Name: "imu", TaskModel: taskModel},
	)

	task := plan.NewTask("", "sensorA", taskModel)
	task.DeploymentHints = []string{"imu"}
	require.NoError(t, p.AddTask(task))

	opts := groupOptions("default", Instance{ProcessServer: "rover-1", Model: dep})
	require.NoError(t, Deploy(p, opts))

	for _, deployed := range p.Tasks {
		assert.Equal(t, "imu", deployed.Binding.Slot)
	}
}

func TestDeploy_OneSlotOneTaskExclusivity(t *testing.T) {
	p := plan.New()
	taskModel := sensorTaskModel()
	dep := deploymentModel("rover-computer", model.DeploymentSlot{Name: "sensor", TaskModel: taskModel})

	a := plan.NewTask("", "sensorA", taskModel)
	b := plan.NewTask("", "sensorB", taskModel)
	require.NoError(t, p.AddTask(a))
	require.NoError(t, p.AddTask(b))

	opts := groupOptions("default", Instance{ProcessServer: "rover-1", Model: dep})
	err := Deploy(p, opts)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeMissingDeployments))

	// exactly one of the two tasks claimed the single slot; the plan still
	// holds two tasks, one bound and one reported missing.
	bound := 0
	for _, task := range p.Tasks {
		if task.Binding != nil {
			bound++
		}
	}
	assert.Equal(t, 1, bound)
}

func TestDeploy_AncestorDeploymentGroupOverridesDefault(t *testing.T) {
	p := plan.New()
	taskModel := sensorTaskModel()
	defaultDep := deploymentModel("ground-computer", model.DeploymentSlot{Name: "sensor", TaskModel: taskModel})
	roverDep := deploymentModel("rover-computer", model.DeploymentSlot{Name: "sensor", TaskModel: taskModel})

	parentModel := &model.Model{Kind: model.KindComposition, Name: "rover_sensing"}
	parent := plan.NewTask("", "parentTask", parentModel)
	parent.DeploymentGroup = "rover"
	require.NoError(t, p.AddTask(parent))

	child := plan.NewTask("", "sensorA", taskModel)
	require.NoError(t, p.AddTask(child))
	require.NoError(t, p.AddDependency(child.ID, parent.ID))

	opts := Options{
		Groups: map[string]*Group{
			"default": {Name: "default", Instances: []Instance{{ProcessServer: "ground-1", Model: defaultDep}}},
			"rover":   {Name: "rover", Instances: []Instance{{ProcessServer: "rover-1", Model: roverDep}}},
		},
		DefaultGroup: "default",
	}

	require.NoError(t, Deploy(p, opts))

	bound := 0
	for _, deployed := range p.Tasks {
		if deployed.Model.Kind != model.KindTaskContext {
			continue
		}
		require.NotNil(t, deployed.Binding)
		assert.Equal(t, "rover-computer", deployed.Binding.Deployment)
		bound++
	}
	assert.Equal(t, 1, bound)
}

func TestDeploy_NoConflictsLeavesNothingMissing(t *testing.T) {
	p := plan.New()
	taskModel := sensorTaskModel()
	dep := deploymentModel("rover-computer",
		model.DeploymentSlot{Name: "sensorA", TaskModel: taskModel},
		model.DeploymentSlot{Name: "sensorB", TaskModel: taskModel},
	)

	a := plan.NewTask("", "sensorA", taskModel)
	a.OrocosName = "sensorA"
	b := plan.NewTask("", "sensorB", taskModel)
	b.OrocosName = "sensorB"
	require.NoError(t, p.AddTask(a))
	require.NoError(t, p.AddTask(b))

	opts := groupOptions("default", Instance{ProcessServer: "rover-1", Model: dep})
	require.NoError(t, Deploy(p, opts))

	for _, deployed := range p.Tasks {
		require.NotNil(t, deployed.Binding)
	}
}
