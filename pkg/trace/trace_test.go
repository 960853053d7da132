package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrace_RecordAndFilter(t *testing.T) {
	tr := New()
	tr.Record(KindMergeCandidate, "a may replace b", map[string]interface{}{"parent": "a", "target": "b"})
	tr.Record(KindMergeAccepted, "a absorbed b", map[string]interface{}{"parent": "a", "target": "b"})
	tr.Record(KindDeployCandidate, "task t: candidate p/d/s", nil)

	assert.Len(t, tr.Entries(), 3)
	assert.Len(t, tr.Filter(KindMergeCandidate), 1)
	assert.Len(t, tr.Filter(KindDeployCandidate), 1)
	assert.Empty(t, tr.Filter(KindDeployMissing))
}

func TestTrace_StringRendersOneLinePerEntry(t *testing.T) {
	tr := New()
	tr.Record(KindMergeAccepted, "a absorbed b", nil)
	tr.Record(KindDisambiguation, "target narrowed to 1", nil)

	s := tr.String()
	assert.Contains(t, s, "[merge_accepted] a absorbed b")
	assert.Contains(t, s, "[disambiguation] target narrowed to 1")
}

func TestTrace_NilTraceIsNoOp(t *testing.T) {
	var tr *Trace
	assert.NotPanics(t, func() {
		tr.Record(KindMergeAccepted, "anything", nil)
	})
	assert.Nil(t, tr.Entries())
	assert.Equal(t, "", tr.String())
}
