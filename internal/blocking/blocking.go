// Package blocking implements the safety net for the single-active-issue
// invariant: whether a new workflow start is allowed, and a cross-check
// that catches races the label CAS alone cannot prevent.
package blocking

import "github.com/avery-oss/loom/internal/forge"

// activeLabels are the labels whose presence on any issue blocks queueing a
// new one: the set from spec §4.5, which is wider than the single-active
// invariant's own set because it also counts the two outbox labels.
var activeLabels = []string{
	forge.LabelQueued, forge.LabelPlanning, forge.LabelDoing, forge.LabelReviewing,
	forge.LabelRevising, forge.LabelReviewRequested, forge.LabelRequiresChanges,
}

// Blocking reports whether any issue carries a label from activeLabels,
// refusing queueing while true.
func Blocking(issues []*forge.Issue) bool {
	for _, issue := range issues {
		for _, l := range activeLabels {
			if forge.HasLabel(issue.Labels, l) {
				return true
			}
		}
	}
	return false
}

// singleActiveLabels is the narrower invariant-1 set: queued, planning,
// doing, reviewing, revising. Its count must be <=1; >1 is an anomaly the
// control loop must detect and skip the tick for.
var singleActiveLabels = []string{
	forge.LabelQueued, forge.LabelPlanning, forge.LabelDoing, forge.LabelReviewing, forge.LabelRevising,
}

// CountActive returns how many issues carry a label from the single-active
// set. The control loop treats a count >1 as a cross-daemon race that
// slipped past the CAS and skips the tick, logging an anomaly.
func CountActive(issues []*forge.Issue) int {
	count := 0
	for _, issue := range issues {
		for _, l := range singleActiveLabels {
			if forge.HasLabel(issue.Labels, l) {
				count++
				break
			}
		}
	}
	return count
}
