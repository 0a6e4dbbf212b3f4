package assembler

import "playout-orchestrator/internal/rundown"

// KeepaliveDuration is how long from stays on air after to has started.
// With relativeToFrom set the transition keepalive of to is honoured.
func KeepaliveDuration(from, to *rundown.Part, relativeToFrom bool) int64 {
	if from.DisableOutTransition {
		return 0
	}
	if relativeToFrom && to.TransitionKeepaliveDuration != nil {
		return max(0, to.PrerollDuration-deref(to.TransitionPrerollDuration)) + *to.TransitionKeepaliveDuration
	}
	return to.PrerollDuration
}

// PreviousPartOverlap is the time previous keeps playing once current starts.
func PreviousPartOverlap(previous, current *rundown.Part) int64 {
	if previous.AutoNext && previous.AutoNextOverlap != 0 {
		return previous.AutoNextOverlap
	}
	return KeepaliveDuration(previous, current, true)
}

// NextPartOverlap is how far before the end of current an auto-nexted next
// part starts.
func NextPartOverlap(current, next *rundown.Part) int64 {
	if current.AutoNextOverlap != 0 {
		return current.AutoNextOverlap
	}
	return KeepaliveDuration(current, next, false)
}

// CurrentPartDuration returns the part group duration of an auto-nexting
// part. Expected durations arrive with the preroll and keepalive folded in;
// this undoes that and adds back the preroll that actually applies. previous
// may be nil.
func CurrentPartDuration(previous, current *rundown.Part) (int64, bool) {
	if !current.AutoNext || current.ExpectedDuration == nil {
		return 0, false
	}
	maxPreroll := max(current.PrerollDuration, deref(current.TransitionPrerollDuration))
	maxKeepalive := deref(current.TransitionKeepaliveDuration)

	d := *current.ExpectedDuration - (maxPreroll - maxKeepalive) + current.AutoNextOverlap
	preroll := current.PrerollDuration
	if transitionAllowed(previous) && deref(current.TransitionPrerollDuration) > preroll {
		preroll = *current.TransitionPrerollDuration
	}
	return d + preroll, true
}

// transitionAllowed reports whether a part following previous may play its
// in-transition.
func transitionAllowed(previous *rundown.Part) bool {
	return previous != nil && !previous.DisableOutTransition
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
