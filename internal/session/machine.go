// Package session implements the authoritative status of a research batch
// and the transitions driven by dispatch, ingestion, and reconciliation.
package session

import "github.com/socialscope/scrapewatch/internal/core"

// transitions encodes the forward-only state machine:
//
//	idle → extracting → scraping → {ready_for_next_phase | needs_user_intervention}
//	     → generating → completed
//
// "failed" is absorbing from any non-terminal status. Re-entering scraping
// from needs_user_intervention or failed is the explicit retry path and
// requires the caller to clear the affected tasks first; no transition is
// automatically reversible.
var transitions = map[core.SessionStatus][]core.SessionStatus{
	core.SessionIdle:              {core.SessionExtracting, core.SessionFailed},
	core.SessionExtracting:        {core.SessionScraping, core.SessionFailed},
	core.SessionScraping:          {core.SessionReadyForNextPhase, core.SessionNeedsIntervention, core.SessionFailed},
	core.SessionReadyForNextPhase: {core.SessionGenerating, core.SessionFailed},
	core.SessionNeedsIntervention: {core.SessionGenerating, core.SessionScraping, core.SessionFailed},
	core.SessionGenerating:        {core.SessionCompleted, core.SessionFailed},
	core.SessionCompleted:         {},
	core.SessionFailed:            {core.SessionScraping},
}

// CanTransition reports whether the state machine permits from → to.
func CanTransition(from, to core.SessionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further automatic transition leaves s.
func Terminal(s core.SessionStatus) bool {
	return s == core.SessionCompleted || s == core.SessionFailed
}

// ScrapingOutcome reports whether s is one of the two terminal scraping
// verdicts the reconciler produces.
func ScrapingOutcome(s core.SessionStatus) bool {
	return s == core.SessionReadyForNextPhase || s == core.SessionNeedsIntervention
}
