package infinites

import (
	"sort"

	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/timeline"
)

// definitelyEndedGrace is how long past its end an instance is kept before it
// is considered gone for good.
const definitelyEndedGrace = 1000

// ResolvedPieceInstance is a piece instance with its timing resolved against
// the rest of its exclusivity group.
type ResolvedPieceInstance struct {
	Instance *rundown.PieceInstance
	// Priority is the tier the instance stacks on.
	Priority rundown.Tier
	// EndCap is set when a later instance took over. It may be "now" or an
	// expression relative to the successor's piece group.
	EndCap *timeline.Time
	// ResolvedEnd is the earlier of EndCap and the user duration.
	ResolvedEnd *timeline.Time
}

// TimingOptions tunes ResolveTimings.
type TimingOptions struct {
	// NowInPart is the playback position within the part, used to place
	// "now" starts in sequence.
	NowInPart int64
	// KeepDisabled keeps disabled instances, each on its own source layer.
	KeepDisabled bool
	// IncludeVirtual emits virtual instances of every tier.
	IncludeVirtual bool
}

type startPoint struct {
	now bool
	ms  int64
}

func (s startPoint) time() timeline.Time {
	if s.now {
		return timeline.Now()
	}
	return timeline.Abs(s.ms)
}

type startGroup struct {
	point     startPoint
	instances []*rundown.PieceInstance
}

// ResolveTimings stacks the candidates of one part instance. Instances in the
// same exclusive group (or source layer) replace each other over time, with
// higher tiers surviving lower ones; every instance that loses its slot gets
// an end cap at the takeover point.
func ResolveTimings(layers rundown.SourceLayers, candidates []*rundown.PieceInstance, opts TimingOptions) []*ResolvedPieceInstance {
	groups := make(map[string][]*rundown.PieceInstance)
	var order []string
	for _, pi := range candidates {
		if pi.Disabled && !opts.KeepDisabled {
			continue
		}
		key := groupKey(layers, pi)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], pi)
	}

	var resolved []*ResolvedPieceInstance
	for _, key := range order {
		resolved = append(resolved, processAndPrune(groups[key], opts)...)
	}

	out := resolved[:0]
	for _, r := range resolved {
		if r.EndCap != nil {
			start, sok := r.Instance.Piece.Enable.Start.Millis()
			end, eok := r.EndCap.Millis()
			if sok && eok && start == end {
				continue
			}
		}
		r.ResolvedEnd = resolvedEnd(r, opts.NowInPart)
		out = append(out, r)
	}
	return out
}

func groupKey(layers rundown.SourceLayers, pi *rundown.PieceInstance) string {
	if !pi.Disabled {
		if l, ok := layers[pi.Piece.SourceLayerID]; ok && l.ExclusiveGroup != "" {
			return "group:" + l.ExclusiveGroup
		}
	}
	return "layer:" + pi.Piece.SourceLayerID
}

func processAndPrune(instances []*rundown.PieceInstance, opts TimingOptions) []*ResolvedPieceInstance {
	var points []*startGroup
	byPoint := make(map[startPoint]*startGroup)
	for _, pi := range instances {
		sp := startPoint{now: pi.Piece.Enable.Start.IsNow()}
		if !sp.now {
			sp.ms, _ = pi.Piece.Enable.Start.Millis()
		}
		g, ok := byPoint[sp]
		if !ok {
			g = &startGroup{point: sp}
			byPoint[sp] = g
			points = append(points, g)
		}
		g.instances = append(g.instances, pi)
	}
	position := func(sp startPoint) int64 {
		if sp.now {
			return opts.NowInPart
		}
		return sp.ms
	}
	sort.SliceStable(points, func(i, j int) bool {
		a, b := points[i].point, points[j].point
		if pa, pb := position(a), position(b); pa != pb {
			return pa < pb
		}
		return !a.now && b.now
	})

	active := make(map[rundown.Tier]*ResolvedPieceInstance)
	var results []*ResolvedPieceInstance
	for _, g := range points {
		best := make(map[rundown.Tier]*rundown.PieceInstance)
		for _, pi := range g.instances {
			tier := pi.Piece.Lifespan.Tier()
			if cur, ok := best[tier]; !ok || IsCandidateBetterToBeContinued(cur, pi) {
				best[tier] = pi
			}
		}

		for _, tier := range rundown.Tiers {
			pi, ok := best[tier]
			if !ok {
				continue
			}
			next := &ResolvedPieceInstance{Instance: pi, Priority: tier}
			endAt := offsetFromStart(g.point, pi)
			if prev := active[tier]; prev != nil {
				prev.EndCap = timeline.Ref(endAt)
			}
			active[tier] = next
			if opts.IncludeVirtual || !pi.Piece.Virtual || tier == rundown.TierOther {
				results = append(results, next)
			}

			clearsOther := tier == rundown.TierSegmentEnd ||
				(tier == rundown.TierRundownEnd && active[rundown.TierSegmentEnd] == nil) ||
				(tier == rundown.TierShowStyleEnd && active[rundown.TierSegmentEnd] == nil && active[rundown.TierRundownEnd] == nil)
			if !clearsOther {
				continue
			}
			if other := active[rundown.TierOther]; other != nil && other != next {
				atZero := !g.point.now && g.point.ms == 0
				if !atZero || IsCandidateBetterToBeContinued(other.Instance, pi) {
					other.EndCap = timeline.Ref(endAt)
					delete(active, rundown.TierOther)
				}
			}
		}
	}
	return results
}

// offsetFromStart is where an instance replaced by pi at sp ends: the start
// point itself, pushed back by pi's ad-lib preroll.
func offsetFromStart(sp startPoint, pi *rundown.PieceInstance) timeline.Time {
	preroll := pi.Piece.AdlibPreroll
	if preroll == 0 {
		return sp.time()
	}
	if sp.now {
		return timeline.Expr(timeline.Offset(timeline.StartOf(timeline.PieceGroupID(pi.ID)), preroll))
	}
	return timeline.Abs(sp.ms + preroll)
}

func resolvedEnd(r *ResolvedPieceInstance, nowInPart int64) *timeline.Time {
	ud := r.Instance.UserDuration
	if ud == nil {
		return r.EndCap
	}
	if r.EndCap == nil {
		return timeline.Ref(timeline.Abs(ud.End))
	}
	if c, ok := r.EndCap.Resolve(nowInPart); ok && c < ud.End {
		return timeline.Ref(timeline.Abs(c))
	}
	return timeline.Ref(timeline.Abs(ud.End))
}

// HasDefinitelyEnded reports whether r ended more than a second before
// nowInPart. Only numeric ends count: the resolved end, or the authored
// duration from a numeric start, whichever is earlier.
func HasDefinitelyEnded(r *ResolvedPieceInstance, nowInPart int64) bool {
	end, ok := numericEnd(r)
	return ok && end+definitelyEndedGrace < nowInPart
}

func numericEnd(r *ResolvedPieceInstance) (int64, bool) {
	var (
		end   int64
		found bool
	)
	if r.ResolvedEnd != nil {
		end, found = r.ResolvedEnd.Millis()
	}
	if r.Instance != nil && r.Instance.Piece.Enable.Duration != nil {
		if start, ok := r.Instance.Piece.Enable.Start.Millis(); ok {
			byDuration := start + *r.Instance.Piece.Enable.Duration
			if !found || byDuration < end {
				end, found = byDuration, true
			}
		}
	}
	return end, found
}
