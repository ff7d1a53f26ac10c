package wall

import "github.com/coral-mesh/wallprof/internal/engine"

// StuckSeverity grades how likely it is that the engine's processing loop
// stalled during a session.
type StuckSeverity int

const (
	StuckNone StuckSeverity = iota
	StuckPossible
	StuckCertain
)

func (s StuckSeverity) String() string {
	switch s {
	case StuckPossible:
		return "possible"
	case StuckCertain:
		return "certain"
	default:
		return "none"
	}
}

// detectStuck inspects a session recorded with forced samples. A healthy
// engine lists the forced samples without hits, so samples outnumber hits
// and a zero-hit leaf exists. No hits at all means the loop never ran; hits
// matching samples with no zero-hit leaf means the forced samples vanished.
func detectStuck(p *engine.Profile) StuckSeverity {
	samples := len(p.Samples)
	if samples == 0 {
		return StuckNone
	}
	hits := p.TotalHits()
	switch {
	case hits == 0:
		return StuckCertain
	case hits == samples && !p.HasZeroHitLeaf():
		return StuckPossible
	}
	return StuckNone
}
