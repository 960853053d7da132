package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_FormatsWithAndWithoutCause(t *testing.T) {
	plain := New(CodeInvalidSelection, "bad key")
	assert.Equal(t, "[INVALID_SELECTION] bad key", plain.Error())

	wrapped := Wrap(CodeInternal, "unreachable", fmt.Errorf("boom"))
	assert.Equal(t, "[INTERNAL_ERROR] unreachable: boom", wrapped.Error())
	assert.Equal(t, "boom", wrapped.Unwrap().Error())
}

func TestIs_MatchesCodeOnly(t *testing.T) {
	err := AmbiguousService("dev", []string{"a", "b"})
	assert.True(t, Is(err, CodeAmbiguousService))
	assert.False(t, Is(err, CodeInternal))
	assert.False(t, Is(fmt.Errorf("plain"), CodeAmbiguousService))
}

func TestWithDetail_Chains(t *testing.T) {
	err := InvalidSelection("neither key nor value matches").WithDetail("key", "foo").WithDetail("value", 42)
	assert.Equal(t, "foo", err.Details["key"])
	assert.Equal(t, 42, err.Details["value"])
}

func TestMissingDeployments_CarriesCandidates(t *testing.T) {
	candidates := map[string][]CandidateReport{
		"task-1": {
			{ProcessServer: "ps1", Deployment: "dc1", Slot: "sonar", Rejected: "", UsedBy: "task-0"},
		},
	}
	err := MissingDeployments(candidates)
	assert.True(t, Is(err, CodeMissingDeployments))
	assert.Equal(t, candidates, err.Details["candidates"])
}
