// Package phase implements the pure label-set-to-phase decision table. It
// performs no I/O: every function is a deterministic map over label
// strings, which is what makes it exhaustively unit-testable without a
// forge fixture.
package phase

import "github.com/avery-oss/loom/internal/forge"

// Phase is one step of the fixed workflow sequence.
type Phase string

const (
	PlanPhase        Phase = "plan"
	QueuedToPlanning Phase = "queued_to_planning"
	ImplementPhase   Phase = "implement"
	ReviewPhase      Phase = "review"
	RevisePhase      Phase = "revise"
)

// Edge is one row of the label transition table.
type Edge struct {
	Phase Phase
	From  string
	To    string
}

// Table is the fixed transition graph from spec §4.4, in the order the
// control loop tries them when selecting the next edge for a label set.
var Table = []Edge{
	{Phase: PlanPhase, From: forge.LabelTodo, To: forge.LabelQueued},
	{Phase: QueuedToPlanning, From: forge.LabelQueued, To: forge.LabelPlanning},
	{Phase: ImplementPhase, From: forge.LabelReady, To: forge.LabelDoing},
	{Phase: ReviewPhase, From: forge.LabelReviewRequested, To: forge.LabelReviewing},
	{Phase: RevisePhase, From: forge.LabelRequiresChanges, To: forge.LabelRevising},
}

// inProgressLabels are the "external agent is currently working" sentinels;
// when any is present, determine_phase returns the zero Phase.
var inProgressLabels = []string{forge.LabelPlanning, forge.LabelDoing, forge.LabelReviewing, forge.LabelRevising}

// DeterminePhase returns the phase implied by labels, or ("", false) if any
// in-progress label is present. Otherwise it returns the first match among
// todo→plan, queued→queued_to_planning, ready→implement,
// review-requested→review, requires-changes→revise. The control loop's
// processable filter additionally excludes the bare "plan" phase, since
// todo→queued is driven by queueing rather than IssueProcessor.
func DeterminePhase(labels []forge.Label) (Phase, bool) {
	for _, ip := range inProgressLabels {
		if forge.HasLabel(labels, ip) {
			return "", false
		}
	}
	for _, e := range Table {
		if forge.HasLabel(labels, e.From) {
			return e.Phase, true
		}
	}
	return "", false
}

// EdgeFor returns the table row for a phase.
func EdgeFor(p Phase) (Edge, bool) {
	for _, e := range Table {
		if e.Phase == p {
			return e, true
		}
	}
	return Edge{}, false
}

// legacyEdges are transitions accepted by ValidateTransition beyond Table:
// the one-shot developer CLI path may CAS todo directly to planning.
var legacyEdges = []Edge{
	{From: forge.LabelTodo, To: forge.LabelPlanning},
}

// ValidateTransition reports whether (from, to) is a legal transition per
// Table, plus the legacy todo→planning edge.
func ValidateTransition(from, to string) bool {
	for _, e := range Table {
		if e.From == from && e.To == to {
			return true
		}
	}
	for _, e := range legacyEdges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

// NextLabel returns the "to" label of phase's table row, for the round-trip
// law validate_transition(from, next_label(phase)).
func NextLabel(p Phase) (string, bool) {
	e, ok := EdgeFor(p)
	if !ok {
		return "", false
	}
	return e.To, true
}
