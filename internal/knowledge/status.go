package knowledge

// CanTransition reports whether a status write from current to next is
// allowed. Writes that would regress a terminal status are refused; every
// caller is expected to re-read the persisted status and no-op when this
// returns false rather than overwrite unconditionally.
func CanTransition(current, next Status) bool {
	if current == "" {
		current = StatusIdle
	}
	switch {
	case next == StatusSyncing:
		// A new job start resets any terminal state, but never preempts a
		// run already in flight.
		return current != StatusSyncing
	case next.Terminal():
		// Terminal writes only land on a live run. A worker finishing after
		// an out-of-band cancellation keeps the Cancelled status.
		return current == StatusSyncing
	case next == StatusIdle:
		return !current.Terminal() || current == StatusIdle
	default:
		return false
	}
}
