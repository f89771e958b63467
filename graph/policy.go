package graph

import "github.com/flowgraph/agentgraph/graph/emit"

// OutputPolicy gates which lifecycle/transition events a run forwards to
// its notify callback. Checked before notify is
// called, never after.
type OutputPolicy int

const (
	// PolicySilent forwards nothing.
	PolicySilent OutputPolicy = iota
	// PolicyQuiet forwards only fail, gate-waiting, gate-resolved.
	PolicyQuiet
	// PolicyNormal adds start, complete and cancel to Quiet.
	PolicyNormal
	// PolicyVerbose adds per-node transition events to Normal.
	PolicyVerbose
)

var quietLifecycleMsgs = map[string]bool{
	"fail":          true,
	"gate-waiting":  true,
	"gate-resolved": true,
}

var normalLifecycleMsgs = map[string]bool{
	"start":    true,
	"complete": true,
	"cancel":   true,
}

// allows decides whether e should reach notify under this policy. timing,
// memory, debug, and error events carry no lifecycle/transition label of
// their own, so this treats them as VERBOSE-only: diagnostic detail
// rather than the lifecycle signal QUIET/NORMAL promise (see DESIGN.md).
func (p OutputPolicy) allows(e emit.Event) bool {
	switch p {
	case PolicySilent:
		return false
	case PolicyQuiet:
		return e.Type == emit.TypeLifecycle && quietLifecycleMsgs[e.Msg]
	case PolicyNormal:
		if e.Type != emit.TypeLifecycle {
			return false
		}
		return quietLifecycleMsgs[e.Msg] || normalLifecycleMsgs[e.Msg]
	case PolicyVerbose:
		return true
	default:
		return false
	}
}
