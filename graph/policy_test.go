package graph

import (
	"testing"

	"github.com/flowgraph/agentgraph/graph/emit"
)

func TestOutputPolicyAllows(t *testing.T) {
	cases := []struct {
		name   string
		policy OutputPolicy
		event  emit.Event
		want   bool
	}{
		{"silent blocks everything", PolicySilent, emit.Event{Type: emit.TypeLifecycle, Msg: "start"}, false},
		{"quiet blocks start", PolicyQuiet, emit.Event{Type: emit.TypeLifecycle, Msg: "start"}, false},
		{"quiet allows fail", PolicyQuiet, emit.Event{Type: emit.TypeLifecycle, Msg: "fail"}, true},
		{"quiet allows gate-waiting", PolicyQuiet, emit.Event{Type: emit.TypeLifecycle, Msg: "gate-waiting"}, true},
		{"normal allows start", PolicyNormal, emit.Event{Type: emit.TypeLifecycle, Msg: "start"}, true},
		{"normal allows fail too", PolicyNormal, emit.Event{Type: emit.TypeLifecycle, Msg: "fail"}, true},
		{"normal blocks transition", PolicyNormal, emit.Event{Type: emit.TypeTransition, Msg: "transition"}, false},
		{"verbose allows transition", PolicyVerbose, emit.Event{Type: emit.TypeTransition, Msg: "transition"}, true},
		{"verbose allows timing", PolicyVerbose, emit.Event{Type: emit.TypeTiming, Msg: "fill"}, true},
		{"normal blocks timing", PolicyNormal, emit.Event{Type: emit.TypeTiming, Msg: "fill"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.policy.allows(tc.event); got != tc.want {
				t.Errorf("%v.allows(%+v) = %v, want %v", tc.policy, tc.event, got, tc.want)
			}
		})
	}
}
