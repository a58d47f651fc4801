package diff

// SyncState is the reduced per-artifact classification for one scope.
type SyncState string

const (
	StateSynced   SyncState = "synced"
	StateModified SyncState = "modified" // local-side changes only
	StateOutdated SyncState = "outdated" // upstream-side changes only
	StateConflict SyncState = "conflict" // at least one file changed on both sides
	StateError    SyncState = "error"    // the comparison itself failed
)

// stateRank orders states worst-last so an artifact reports the worst state
// among its files: conflict beats outdated beats modified.
var stateRank = map[SyncState]int{
	StateSynced:   0,
	StateModified: 1,
	StateOutdated: 2,
	StateConflict: 3,
}

// Classify reduces a result's file diffs to one sync state.
func Classify(r *Result) SyncState {
	upstream := r.Scope.UpstreamSide()
	state := StateSynced
	for _, f := range r.Files {
		var s SyncState
		switch f.Origin {
		case OriginNone:
			continue
		case OriginBoth:
			s = StateConflict
		case upstream:
			s = StateOutdated
		default:
			s = StateModified
		}
		if stateRank[s] > stateRank[state] {
			state = s
		}
	}
	return state
}

// StateFor maps a diff outcome to a state, folding comparison failures into
// StateError.
func StateFor(r *Result, err error) SyncState {
	if err != nil {
		return StateError
	}
	return Classify(r)
}
