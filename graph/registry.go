package graph

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowgraph/agentgraph/graph/emit"
)

// RunState is one state in the run lifecycle state machine.
type RunState string

const (
	RunRunning   RunState = "RUNNING"
	RunWaiting   RunState = "WAITING"
	RunDone      RunState = "DONE"
	RunFailed    RunState = "FAILED"
	RunCancelled RunState = "CANCELLED"
)

func (s RunState) terminal() bool {
	return s == RunDone || s == RunFailed || s == RunCancelled
}

// NodeTiming is one fill/choose_type call's duration, recorded by
// TimingLM.
type NodeTiming struct {
	NodeType   string
	Kind       string // "fill" or "choose_type"
	DurationNs int64
}

// DepTimingRecord is one dep callable's duration within a single resolve
// call.
type DepTimingRecord struct {
	CallableID string
	DurationNs int64
}

// RunRecord is the registry's read-only snapshot of a run, returned by
// Inspect, Registry.Run and Run.Wait.
type RunRecord struct {
	RunID         string
	State         RunState
	StartNs       int64
	EndNs         int64
	Trace         Trace
	Err           error
	NodeTimings   []NodeTiming
	DepTimings    []DepTimingRecord
	RSSDeltaBytes int64
}

const (
	defaultArchiveCapacity = 20
	defaultMaxIters        = 10
)

// Run is one in-flight or completed graph execution. Its fields are
// consulted directly by resolver.go and gate.go (id, registry, depCache,
// depSeed, trace, gateMu, gateMemo); everything else is this file's own
// lifecycle bookkeeping, guarded by mu.
type Run struct {
	id       string
	registry *Registry
	graph    *Graph
	lm       LM
	policy   OutputPolicy
	notify   func(emit.Event)
	maxIters int

	depCache *runDepCache
	depSeed  map[string]any

	// trace is appended to only by this run's own executor goroutine, so
	// no lock is needed for the writer; readers (snapshot) take mu to
	// avoid a torn read racing the final append.
	trace Trace

	gateMu   sync.Mutex
	gateMemo map[gateMemoKey]map[string]any

	ctx        context.Context
	cancelFunc context.CancelFunc
	doneCh     chan struct{}

	mu            sync.Mutex
	state         RunState
	startNs       int64
	endNs         int64
	resultErr     error
	nodeTimings   []NodeTiming
	depTimings    []DepTimingRecord
	rssDeltaBytes int64
	step          int
}

func (run *Run) setState(s RunState) {
	run.mu.Lock()
	run.state = s
	run.mu.Unlock()
}

func (run *Run) getState() RunState {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.state
}

// emit stamps RunID if unset and forwards e to notify, gated by policy.
func (run *Run) emit(e emit.Event) {
	if e.RunID == "" {
		e.RunID = run.id
	}
	if run.notify == nil {
		return
	}
	if !run.policy.allows(e) {
		return
	}
	run.notify(e)
}

// recordDepTimings appends one resolve level's dep timings to the run
// record and to the registry's Prometheus histograms, if configured.
func (run *Run) recordDepTimings(timings []depTiming) {
	if len(timings) == 0 {
		return
	}
	run.mu.Lock()
	for _, t := range timings {
		run.depTimings = append(run.depTimings, DepTimingRecord{CallableID: t.CallableID, DurationNs: t.DurationNs})
	}
	run.mu.Unlock()

	for _, t := range timings {
		run.registry.metrics.observeDepLatency(t.CallableID, time.Duration(t.DurationNs))
	}
}

// recordNodeTiming is called by TimingLM after every fill/choose_type
// call.
func (run *Run) recordNodeTiming(t reflect.Type, kind string, durationNs int64) {
	run.mu.Lock()
	run.nodeTimings = append(run.nodeTimings, NodeTiming{NodeType: t.Name(), Kind: kind, DurationNs: durationNs})
	run.mu.Unlock()

	run.registry.metrics.observeNodeTiming(t.Name(), kind, durationNs)
	run.emit(emit.Event{
		Type:   emit.TypeTiming,
		NodeID: t.Name(),
		Msg:    kind,
		Meta:   map[string]interface{}{"node_type": t.Name(), "duration_ns": durationNs},
	})
}

// nextStep returns the run's current step counter and increments it,
// used to stamp transition events with a monotonic step number.
func (run *Run) nextStep() int {
	run.mu.Lock()
	defer run.mu.Unlock()
	s := run.step
	run.step++
	return s
}

// snapshot builds the read-only RunRecord view of this run.
func (run *Run) snapshot() RunRecord {
	run.mu.Lock()
	defer run.mu.Unlock()
	nodeTimings := make([]NodeTiming, len(run.nodeTimings))
	copy(nodeTimings, run.nodeTimings)
	depTimings := make([]DepTimingRecord, len(run.depTimings))
	copy(depTimings, run.depTimings)
	trace := make(Trace, len(run.trace))
	copy(trace, run.trace)
	return RunRecord{
		RunID:         run.id,
		State:         run.state,
		StartNs:       run.startNs,
		EndNs:         run.endNs,
		Trace:         trace,
		Err:           run.resultErr,
		NodeTimings:   nodeTimings,
		DepTimings:    depTimings,
		RSSDeltaBytes: run.rssDeltaBytes,
	}
}

// Wait blocks until the run reaches a terminal state or ctx is done,
// returning the final record.
func (run *Run) Wait(ctx context.Context) (RunRecord, error) {
	select {
	case <-run.doneCh:
		return run.snapshot(), nil
	case <-ctx.Done():
		return RunRecord{}, ctx.Err()
	}
}

// RunID returns this run's identifier.
func (run *Run) RunID() string { return run.id }

// SubmitOptions configures one Registry.Submit/SubmitCoro call, built up
// from the SubmitOption functions below via the options-struct-plus-
// functional-options pattern.
type SubmitOptions struct {
	lm       LM
	depSeed  map[string]any
	maxIters int
	policy   OutputPolicy
	notify   func(emit.Event)
}

// SubmitOption mutates a SubmitOptions being built up by Registry.Submit.
type SubmitOption func(*SubmitOptions)

// WithLM overrides the registry's default LM backend for this run.
func WithLM(lm LM) SubmitOption { return func(o *SubmitOptions) { o.lm = lm } }

// WithDepCache pre-seeds dep_cache values (e.g. an external handle a Dep
// function reads via ResolveContext.Seed).
func WithDepCache(seed map[string]any) SubmitOption {
	return func(o *SubmitOptions) { o.depSeed = seed }
}

// WithMaxIters sets the step limit (default 10).
func WithMaxIters(n int) SubmitOption { return func(o *SubmitOptions) { o.maxIters = n } }

// WithPolicy sets the output policy gating emitted events (default
// PolicyNormal).
func WithPolicy(p OutputPolicy) SubmitOption { return func(o *SubmitOptions) { o.policy = p } }

// WithNotify sets the event callback.
func WithNotify(fn func(emit.Event)) SubmitOption { return func(o *SubmitOptions) { o.notify = fn } }

// Registry tracks every in-flight and recently-terminated run.
type Registry struct {
	mu         sync.Mutex
	active     map[string]*Run
	archive    []RunRecord
	archiveCap int

	pendingGates map[string]*InputGate
	gateSeq      atomic.Int64
	runSeq       atomic.Int64

	defaultLM   LM
	metrics     *RegistryMetrics
	costTracker *CostTracker
	trackRSS    bool
}

// RegistryOption configures a Registry at construction time.
type RegistryOption func(*Registry)

// WithArchiveCapacity overrides the default archival ring buffer size (20).
func WithArchiveCapacity(n int) RegistryOption {
	return func(r *Registry) { r.archiveCap = n }
}

// WithRegistryMetrics attaches a RegistryMetrics instance.
func WithRegistryMetrics(m *RegistryMetrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithRegistryCostTracker stores a CostTracker on the registry. The
// registry itself does not read it or pass it to runs; token usage is
// recorded by a StructuredLM wired to the tracker with WithCostTracker.
func WithRegistryCostTracker(ct *CostTracker) RegistryOption {
	return func(r *Registry) { r.costTracker = ct }
}

// WithRSSTracking enables per-run resident-set-size delta sampling.
func WithRSSTracking() RegistryOption {
	return func(r *Registry) { r.trackRSS = true }
}

// NewRegistry returns a Registry whose runs default to defaultLM unless a
// submit overrides it with WithLM.
func NewRegistry(defaultLM LM, opts ...RegistryOption) *Registry {
	reg := &Registry{
		active:       map[string]*Run{},
		archiveCap:   defaultArchiveCapacity,
		pendingGates: map[string]*InputGate{},
		defaultLM:    defaultLM,
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// Submit starts a new run of g from start, returning immediately with a
// handle to the in-flight run.
func (reg *Registry) Submit(g *Graph, start any, opts ...SubmitOption) (*Run, error) {
	if g == nil {
		return nil, &GraphConstructionError{Message: "graph is nil"}
	}
	st := reflect.TypeOf(start)
	if st != g.StartType() {
		return nil, &GraphConstructionError{Message: fmt.Sprintf("start instance type %s does not match graph start type %s", st, g.StartType())}
	}

	cfg := SubmitOptions{maxIters: defaultMaxIters, policy: PolicyNormal}
	for _, opt := range opts {
		opt(&cfg)
	}

	lm := cfg.lm
	if lm == nil {
		lm = reg.defaultLM
	}
	if lm == nil {
		return nil, &GraphConstructionError{Message: "no LM backend configured"}
	}

	run := reg.newRun(g, cfg)
	run.lm = NewTimingLM(lm, run)

	reg.mu.Lock()
	reg.active[run.id] = run
	reg.metrics.setActiveRuns(len(reg.active))
	reg.mu.Unlock()

	run.emit(emit.Event{Type: emit.TypeLifecycle, Msg: "start", Meta: map[string]interface{}{"event": "start"}})
	run.emit(emit.Event{Type: emit.TypeDebug, Msg: "call-graph", Meta: map[string]interface{}{"formatted_call_graph": g.FormatCallGraph()}})

	go reg.driveRun(run, func(ctx context.Context) (Trace, error) {
		return runGraph(ctx, run, start)
	})

	return run, nil
}

// Run submits g from start and blocks until it reaches a terminal state,
// returning the final record. It is Submit plus Wait, for callers who
// have no use for the in-flight handle and just want an answer; Submit
// itself remains the non-blocking entry point for a caller that wants to
// observe WAITING/cancel a run mid-flight.
func (reg *Registry) Run(ctx context.Context, g *Graph, start any, opts ...SubmitOption) (RunRecord, error) {
	run, err := reg.Submit(g, start, opts...)
	if err != nil {
		return RunRecord{}, err
	}
	return run.Wait(ctx)
}

// SubmitCoro adopts a caller-built execution function (e.g. one closing
// over an LM the caller already bound directly via the graph's callable
// form) and tracks its lifecycle only — no TimingLM wrapping, since the
// LM is already embedded in coro.
func (reg *Registry) SubmitCoro(coro func(ctx context.Context) (Trace, error), opts ...SubmitOption) *Run {
	cfg := SubmitOptions{maxIters: defaultMaxIters, policy: PolicyNormal}
	for _, opt := range opts {
		opt(&cfg)
	}

	run := reg.newRun(nil, cfg)

	reg.mu.Lock()
	reg.active[run.id] = run
	reg.metrics.setActiveRuns(len(reg.active))
	reg.mu.Unlock()

	run.emit(emit.Event{Type: emit.TypeLifecycle, Msg: "start", Meta: map[string]interface{}{"event": "start"}})

	go reg.driveRun(run, coro)

	return run
}

func (reg *Registry) newRun(g *Graph, cfg SubmitOptions) *Run {
	id := fmt.Sprintf("g%d", reg.runSeq.Add(1))
	ctx, cancel := context.WithCancel(withRNG(context.Background(), id))

	return &Run{
		id:         id,
		registry:   reg,
		graph:      g,
		depCache:   newRunDepCache(),
		depSeed:    cfg.depSeed,
		gateMemo:   map[gateMemoKey]map[string]any{},
		state:      RunRunning,
		startNs:    time.Now().UnixNano(),
		policy:     cfg.policy,
		notify:     cfg.notify,
		maxIters:   cfg.maxIters,
		ctx:        ctx,
		cancelFunc: cancel,
		doneCh:     make(chan struct{}),
	}
}

// driveRun runs exec to completion (or cancellation), then transitions
// the run to its terminal state and archives it.
func (reg *Registry) driveRun(run *Run, exec func(ctx context.Context) (Trace, error)) {
	var rssBefore int64
	if reg.trackRSS {
		rssBefore = currentRSSMaxBytes()
	}

	trace, err := exec(run.ctx)

	run.mu.Lock()
	run.trace = trace
	run.mu.Unlock()

	state := RunDone
	if err != nil {
		if run.ctx.Err() != nil {
			state = RunCancelled
		} else {
			state = RunFailed
		}
	}

	reg.CancelGates(run.id)
	run.setState(state)

	run.mu.Lock()
	run.endNs = time.Now().UnixNano()
	run.resultErr = err
	elapsedMs := (run.endNs - run.startNs) / int64(time.Millisecond)
	run.mu.Unlock()
	close(run.doneCh)

	msg := "complete"
	switch state {
	case RunFailed:
		msg = "fail"
	case RunCancelled:
		msg = "cancel"
	}
	meta := map[string]interface{}{"event": msg, "elapsed_ms": elapsedMs}
	if err != nil {
		meta["message"] = err.Error()
	}
	run.emit(emit.Event{Type: emit.TypeLifecycle, Msg: msg, Meta: meta})
	if err != nil {
		kind := errorKind(err)
		run.emit(emit.Event{Type: emit.TypeError, Msg: kind, Meta: map[string]interface{}{"error_kind": kind, "message": err.Error()}})
		if _, ok := err.(*MaxItersError); ok {
			reg.metrics.recordMaxItersExceeded()
		}
	}
	reg.metrics.recordTerminal(state)

	if reg.trackRSS {
		delta := currentRSSMaxBytes() - rssBefore
		run.mu.Lock()
		run.rssDeltaBytes = delta
		run.mu.Unlock()
		run.emit(emit.Event{Type: emit.TypeMemory, Msg: "memory", Meta: map[string]interface{}{"rss_delta_bytes": delta}})
	}

	reg.archiveRun(run)
}

// archiveRun moves run from the active table into the bounded archival
// ring.
func (reg *Registry) archiveRun(run *Run) {
	record := run.snapshot()

	reg.mu.Lock()
	delete(reg.active, run.id)
	reg.metrics.setActiveRuns(len(reg.active))
	reg.archive = append(reg.archive, record)
	if len(reg.archive) > reg.archiveCap {
		reg.archive = reg.archive[len(reg.archive)-reg.archiveCap:]
	}
	reg.mu.Unlock()
}

// Inspect returns a run's current snapshot, searching active runs then
// the archive.
func (reg *Registry) Inspect(runID string) (RunRecord, bool) {
	reg.mu.Lock()
	run, ok := reg.active[runID]
	reg.mu.Unlock()
	if ok {
		return run.snapshot(), true
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	for i := len(reg.archive) - 1; i >= 0; i-- {
		if reg.archive[i].RunID == runID {
			return reg.archive[i], true
		}
	}
	return RunRecord{}, false
}

// Active returns the run IDs currently in-flight.
func (reg *Registry) Active() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]string, 0, len(reg.active))
	for id := range reg.active {
		out = append(out, id)
	}
	return out
}

// Cancel revokes a run by id: cancels its context first (so the
// terminal-state classification in driveRun reliably observes the
// cancellation, and a gate hook suspended on that context unwinds), then
// cancels any gates it has pending.
func (reg *Registry) Cancel(runID string) bool {
	reg.mu.Lock()
	run, ok := reg.active[runID]
	reg.mu.Unlock()
	if !ok {
		return false
	}
	run.cancelFunc()
	reg.CancelGates(runID)
	return true
}

// errorKind maps an engine error to the metadata.error_kind string.
func errorKind(err error) string {
	switch err.(type) {
	case *DepError:
		return "dep"
	case *RecallError:
		return "recall"
	case *FillError:
		return "fill"
	case *LMError:
		return "lm"
	case *GateError:
		return "gate"
	case *MaxItersError:
		return "max_iters"
	case *GraphConstructionError:
		return "construction"
	default:
		return "unknown"
	}
}
