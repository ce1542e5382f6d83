package tasks

import "fmt"

// ProgressUpdate represents a progress event during a synthesis run.
//
// Used to send real-time updates to the CLI or HTTP layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Synthesis phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced consumers
}

// Synthesis phase enumeration
type Phase int

const (
	PhaseResolveCandidates Phase = iota
	PhaseAttachFeatures
	PhaseDeduplicate
	PhaseScore
	PhaseSelect
	PhaseSequence
)

func (p Phase) String() string {
	switch p {
	case PhaseResolveCandidates:
		return "resolve_candidates"
	case PhaseAttachFeatures:
		return "attach_features"
	case PhaseDeduplicate:
		return "deduplicate"
	case PhaseScore:
		return "score"
	case PhaseSelect:
		return "select"
	case PhaseSequence:
		return "sequence"
	default:
		return ""
	}
}

func resolvingUpdate(step, total int, query string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseResolveCandidates,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Searching catalogs: %s", query),
	}
}

func resolvedUpdate(total, candidates int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseResolveCandidates,
		Step:    total,
		Total:   total,
		Message: fmt.Sprintf("Resolved %d candidates", candidates),
	}
}

func featuresUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseAttachFeatures,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetched audio features for %d tracks", count),
	}
}

func dedupedUpdate(before, after int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseDeduplicate,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Collapsed %d candidates to %d", before, after),
	}
}

func scoredUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseScore,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Scored %d candidates", count),
	}
}

func selectedUpdate(count, durationSeconds int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseSelect,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Selected %d tracks (%ds)", count, durationSeconds),
	}
}

func sequencedUpdate(profile string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseSequence,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Sequenced for a %s energy arc", profile),
	}
}
