// Package trace implements the structured diagnostic log each planning
// pass emits: merge candidates considered, accepted merges, rejected
// defaults, and disambiguation decisions. The format is not part of any
// contract, so this is a plain append-only log rather than a dependency
// on a full logging library: a Trace can be walked programmatically by
// tests or rendered with String() for a human reading a CLI run.
package trace

import (
	"fmt"
	"strings"
)

// Kind identifies the category of one recorded event.
type Kind string

const (
	KindMergeCandidate   Kind = "merge_candidate"
	KindMergeAccepted    Kind = "merge_accepted"
	KindDefaultRejected  Kind = "default_rejected"
	KindDefaultAccepted  Kind = "default_accepted"
	KindDisambiguation   Kind = "disambiguation"
	KindDeployCandidate  Kind = "deploy_candidate"
	KindDeployAccepted   Kind = "deploy_accepted"
	KindDeployMissing    Kind = "deploy_missing"
)

// Entry is a single diagnostic event.
type Entry struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
}

// Trace accumulates Entries in the order they were recorded. The zero
// value is an empty trace, the same as what New returns. A nil *Trace is valid to
// record into — every method is a no-op on nil — so passes can accept an
// optional trace without a caller needing to branch on whether one was
// supplied.
type Trace struct {
	entries []Entry
}

// New creates an empty Trace.
func New() *Trace {
	return &Trace{}
}

// Record appends an entry. Safe to call on a nil *Trace.
func (t *Trace) Record(kind Kind, message string, details map[string]interface{}) {
	if t == nil {
		return
	}
	t.entries = append(t.entries, Entry{Kind: kind, Message: message, Details: details})
}

// Entries returns every recorded event in recording order. Safe to call
// on a nil *Trace (returns nil).
func (t *Trace) Entries() []Entry {
	if t == nil {
		return nil
	}
	return append([]Entry(nil), t.entries...)
}

// Filter returns only the entries of the given kind, in recording order.
func (t *Trace) Filter(kind Kind) []Entry {
	var out []Entry
	for _, e := range t.Entries() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// String renders the trace as a plain-text report, one line per entry.
func (t *Trace) String() string {
	if t == nil || len(t.entries) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range t.entries {
		fmt.Fprintf(&b, "[%s] %s\n", e.Kind, e.Message)
	}
	return b.String()
}
