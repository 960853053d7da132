package requirements

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orochestraerrors "github.com/davidthor/orochestra/pkg/errors"
	"github.com/davidthor/orochestra/pkg/model"
)

func TestKey_EqualByVariantThenContent(t *testing.T) {
	m := &model.Model{Name: "A"}
	assert.True(t, NameKey("x").Equal(NameKey("x")))
	assert.False(t, NameKey("x").Equal(NameKey("y")))
	assert.True(t, ModelKey(m).Equal(ModelKey(m)))
	assert.False(t, NameKey("x").Equal(ModelKey(m)))
}

func TestMergeModelSets_UnifiesBySubtyping(t *testing.T) {
	service := &model.Model{Kind: model.KindDataService, Name: "DevService"}
	impl := &model.Model{
		Kind: model.KindTaskContext,
		Name: "DevImpl",
		Fulfillments: []model.Fulfillment{
			{Model: service, PortMap: map[string]string{}},
		},
	}

	merged, err := MergeModelSets([]*model.Model{service}, []*model.Model{impl}, "")
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Same(t, impl, merged[0], "more specific model replaces the interface it fulfills")
}

func TestMergeModelSets_FailsOnUnrelatedConcreteClasses(t *testing.T) {
	a := &model.Model{Kind: model.KindTaskContext, Name: "ImplA"}
	b := &model.Model{Kind: model.KindTaskContext, Name: "ImplB"}

	_, err := MergeModelSets([]*model.Model{a}, []*model.Model{b}, "driver")
	require.Error(t, err)
	assert.True(t, orochestraerrors.Is(err, orochestraerrors.CodeIncompatibleComponentModels))
}

func TestRequirements_Merge_UnionsHintsAndArguments(t *testing.T) {
	r1 := New()
	r1.Arguments["rate"] = 10
	r1.DeploymentHints = []string{"edge"}

	r2 := New()
	r2.Arguments["timeout"] = 5
	r2.DeploymentHints = []string{"gpu"}

	merged, err := r1.Merge(r2, "")
	require.NoError(t, err)
	assert.Equal(t, 10, merged.Arguments["rate"])
	assert.Equal(t, 5, merged.Arguments["timeout"])
	assert.ElementsMatch(t, []string{"edge", "gpu"}, merged.DeploymentHints)
}

func TestRequirements_Merge_ConflictingArgumentFails(t *testing.T) {
	r1 := New()
	r1.Arguments["rate"] = 10
	r2 := New()
	r2.Arguments["rate"] = 20

	_, err := r1.Merge(r2, "")
	require.Error(t, err)
	assert.True(t, orochestraerrors.Is(err, orochestraerrors.CodeIncompatibleSelections))
}

func TestApplyDefaults_FollowsJSONMergePatchSemantics(t *testing.T) {
	base := map[string]interface{}{
		"rate":    10,
		"timeout": 5,
		"nested":  map[string]interface{}{"a": 1, "b": 2},
	}
	override := map[string]interface{}{
		"rate":    20,
		"timeout": nil,
		"nested":  map[string]interface{}{"b": 3},
	}

	result := ApplyDefaults(base, override)
	assert.Equal(t, 20, result["rate"])
	_, hasTimeout := result["timeout"]
	assert.False(t, hasTimeout, "explicit nil deletes the key")
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 3}, result["nested"])
}
