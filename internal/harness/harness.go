package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/epicflow/internal/compiler"
	"github.com/roach88/epicflow/internal/testutil"
	"github.com/roach88/epicflow/pkg/epic"
	"github.com/roach88/epicflow/pkg/ir"
)

// Option configures a harness run.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	observers []epic.Observer
	defaults  StoreConfig
}

// WithLogger routes store logs to l. By default they are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver attaches an extra store observer, such as a journal or a
// metrics collector. It sees every cycle the scenario runs.
func WithObserver(o epic.Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithDefaults fills in store settings a scenario leaves unset: patterns
// are enabled when either side enables them, and a scenario that enables
// undo without max_stack gets the default depth.
func WithDefaults(d StoreConfig) Option {
	return func(c *config) {
		c.defaults = d
	}
}

// Harness is the test execution engine for one scenario.
// Each scenario runs against a fresh store.
type Harness struct {
	store    *epic.Store
	recorder *testutil.Recorder
	logger   *slog.Logger
}

// RunFile loads the scenario at path and runs it.
func RunFile(path string, opts ...Option) (*Scenario, *Result, error) {
	scenario, err := LoadScenario(path)
	if err != nil {
		return nil, nil, err
	}
	result, err := Run(scenario, opts...)
	return scenario, result, err
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
//  1. Compile and validate the CUE specs
//  2. Install them into a fresh store configured from scenario.Store
//  3. Execute steps, checking expected errors
//  4. Capture final states and evaluate assertions
//
// An error is returned only when the scenario cannot run at all; step and
// assertion failures are reported through Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := config{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	doc, err := compiler.LoadFiles(scenario.Specs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load specs: %w", err)
	}
	if errs := compiler.Validate(doc); len(errs) > 0 {
		return nil, fmt.Errorf("invalid specs: %w", errs[0])
	}

	rec := testutil.NewRecorder()
	storeOpts := []epic.Option{
		epic.WithLogger(cfg.logger),
		epic.WithObserver(rec),
		epic.WithNameGenerator(testutil.NewSequentialNames(scenario.Name)),
	}
	for _, o := range cfg.observers {
		storeOpts = append(storeOpts, epic.WithObserver(o))
	}
	sc := scenario.Store.withDefaults(cfg.defaults)
	if sc.Patterns {
		storeOpts = append(storeOpts, epic.WithPatterns())
	}
	if u := sc.Undo; u != nil {
		storeOpts = append(storeOpts, epic.WithUndo(epic.UndoOptions{
			MaxStack:         u.MaxStack,
			ManualUndoPoints: u.ManualUndoPoints,
		}))
	}
	if sc.MaxDepth > 0 {
		storeOpts = append(storeOpts, epic.WithMaxDepth(sc.MaxDepth))
	}

	st := epic.NewStore(storeOpts...)
	if err := doc.Install(st); err != nil {
		return nil, fmt.Errorf("failed to install specs: %w", err)
	}

	h := &Harness{store: st, recorder: rec, logger: cfg.logger}
	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		err := h.executeStep(ctx, step)
		h.collect(i, result)
		h.logger.Debug("step finished",
			"scenario", scenario.Name,
			"step", i,
			"kind", step.Kind(),
			"error", err)
		checkStep(i, step, err, result)
	}

	h.snapshot(result)

	actx := &AssertionContext{Store: st}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// executeStep runs one step against the store.
func (h *Harness) executeStep(ctx context.Context, step Step) error {
	switch step.Kind() {
	case "undo":
		return h.travel(ctx, step.Undo, "undo", h.store.UndoContext)
	case "redo":
		return h.travel(ctx, step.Redo, "redo", h.store.RedoContext)
	}

	payload, err := ir.FromGo(step.Payload)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	a := epic.WithPayload(epic.Act(step.Dispatch), payload)
	if step.Target != "" {
		a = epic.WithTarget(a, step.Target)
	}
	if step.UndoPoint {
		a = epic.WithUndoPoint(a)
	}
	if step.SkipUndoPoint {
		a = epic.WithoutUndoPoint(a)
	}
	return h.store.DispatchContext(ctx, a)
}

func (h *Harness) travel(ctx context.Context, n int, what string, fn func(context.Context) (bool, error)) error {
	for k := 0; k < n; k++ {
		ok, err := fn(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %d of %d: nothing to %s", what, k+1, n, what)
		}
	}
	return nil
}

// collect moves what the recorder saw during a step into the result.
func (h *Harness) collect(step int, result *Result) {
	for _, ev := range h.recorder.Events() {
		result.Trace = append(result.Trace, TraceEvent{
			Step:   step,
			Seq:    ev.Seq,
			Kind:   string(ev.Kind),
			Action: ev.ActionType,
			ID:     ev.ID(),
			Depth:  ev.Depth,
		})
	}
	for _, rep := range h.recorder.Reports() {
		ce := CycleEvent{
			Step:    step,
			Seq:     rep.Seq,
			Kind:    string(rep.Kind),
			Action:  rep.ActionType,
			Outcome: rep.Outcome(),
			Changed: rep.Changed,
		}
		switch {
		case rep.Err != nil:
			ce.Error = rep.Err.Error()
		case rep.ListenerErr != nil:
			ce.Error = rep.ListenerErr.Error()
		}
		result.Cycles = append(result.Cycles, ce)
	}
	h.recorder.Reset()
}

// snapshot captures the final committed values of every epic.
func (h *Harness) snapshot(result *Result) {
	for _, name := range h.store.Epics() {
		if v, ok := h.store.EpicState(name); ok && !ir.IsUnset(v) {
			result.States[name] = v
		}
		if v, ok := h.store.EpicScope(name); ok && !ir.IsUnset(v) {
			result.Scopes[name] = v
		}
	}
}

// checkStep compares a step's error with what the scenario expects.
func checkStep(i int, step Step, err error, result *Result) {
	label := fmt.Sprintf("steps[%d] %s", i, describeStep(step))
	switch {
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("%s: unexpected error: %v", label, err))
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("%s: expected error %q, got none", label, step.ExpectError))
	case step.ExpectError != "" && !matchesError(err, step.ExpectError):
		result.AddError(fmt.Sprintf("%s: expected error %q, got: %v", label, step.ExpectError, err))
	}
}

// matchesError accepts an error code or a message fragment.
func matchesError(err error, want string) bool {
	if epic.IsCode(err, epic.Code(want)) {
		return true
	}
	return strings.Contains(err.Error(), want)
}

func describeStep(s Step) string {
	switch s.Kind() {
	case "undo":
		return fmt.Sprintf("undo x%d", s.Undo)
	case "redo":
		return fmt.Sprintf("redo x%d", s.Redo)
	default:
		return "dispatch " + s.Dispatch
	}
}
