package journal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/epicflow/pkg/epic"
	"github.com/roach88/epicflow/pkg/ir"
)

// Cycle is one journal row.
type Cycle struct {
	Run         string   `json:"run"`
	Seq         int64    `json:"seq"`
	Kind        string   `json:"kind"`
	ActionType  string   `json:"action_type,omitempty"`
	Outcome     string   `json:"outcome"`
	Error       string   `json:"error,omitempty"`
	Changed     []string `json:"changed,omitempty"`
	StateHash   string   `json:"state_hash"`
	Reducers    int      `json:"reducers"`
	Listeners   int      `json:"listeners"`
	Invocations []string `json:"invocations,omitempty"`
	DurationUS  int64    `json:"duration_us"`
}

// WriteCycle appends a cycle. A row with the same (run, seq) is left
// untouched, so replaying a report is harmless.
func (j *Journal) WriteCycle(ctx context.Context, c Cycle) error {
	changed, err := marshalStrings(c.Changed)
	if err != nil {
		return fmt.Errorf("write cycle: %w", err)
	}
	invocations, err := marshalStrings(c.Invocations)
	if err != nil {
		return fmt.Errorf("write cycle: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO cycles
		(run, seq, kind, action_type, outcome, error, changed, state_hash, reducers, listeners, invocations, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run, seq) DO NOTHING
	`,
		c.Run,
		c.Seq,
		c.Kind,
		c.ActionType,
		c.Outcome,
		c.Error,
		changed,
		c.StateHash,
		c.Reducers,
		c.Listeners,
		invocations,
		c.DurationUS,
	)
	if err != nil {
		return fmt.Errorf("write cycle: %w", err)
	}
	return nil
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRun sets the run identifier stamped on every row. By default a
// fresh UUIDv7 is used.
func WithRun(id string) RecorderOption {
	return func(r *Recorder) {
		if id != "" {
			r.run = id
		}
	}
}

// WithLogger routes write failures to l.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// Recorder is an epic.Observer that writes every finished cycle to a
// journal. Write failures are logged and never reach the store.
type Recorder struct {
	journal *Journal
	run     string
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[int64][]string
	failed  int
}

// NewRecorder creates a recorder writing to j.
func NewRecorder(j *Journal, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		journal: j,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending: make(map[int64][]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.run == "" {
		r.run = newRunID()
	}
	return r
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Run returns the run identifier.
func (r *Recorder) Run() string {
	return r.run
}

// Failed returns how many cycles could not be written.
func (r *Recorder) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// ReducerInvoked implements epic.Observer.
func (r *Recorder) ReducerInvoked(ev epic.ReducerEvent) {
	r.mu.Lock()
	r.pending[ev.Seq] = append(r.pending[ev.Seq], ev.ID())
	r.mu.Unlock()
}

// CycleFinished implements epic.Observer.
func (r *Recorder) CycleFinished(rep epic.CycleReport) {
	r.mu.Lock()
	invocations := r.pending[rep.Seq]
	delete(r.pending, rep.Seq)
	r.mu.Unlock()

	c, err := fromReport(r.run, rep, invocations)
	if err == nil {
		err = r.journal.WriteCycle(context.Background(), c)
	}
	if err != nil {
		r.mu.Lock()
		r.failed++
		r.mu.Unlock()
		r.logger.Error("journal write failed",
			"run", r.run,
			"cycle_seq", rep.Seq,
			"error", err)
	}
}

func fromReport(run string, rep epic.CycleReport, invocations []string) (Cycle, error) {
	hash, err := ir.StateHash(rep.States)
	if err != nil {
		return Cycle{}, fmt.Errorf("state hash: %w", err)
	}

	c := Cycle{
		Run:         run,
		Seq:         rep.Seq,
		Kind:        string(rep.Kind),
		ActionType:  rep.ActionType,
		Outcome:     rep.Outcome(),
		Changed:     rep.Changed,
		StateHash:   hash,
		Reducers:    rep.Reducers,
		Listeners:   rep.Listeners,
		Invocations: invocations,
		DurationUS:  rep.Duration.Microseconds(),
	}
	switch {
	case rep.Err != nil:
		c.Error = rep.Err.Error()
	case rep.ListenerErr != nil:
		c.Error = rep.ListenerErr.Error()
	}
	return c, nil
}

func marshalStrings(ss []string) (string, error) {
	list := make([]any, len(ss))
	for i, s := range ss {
		list[i] = s
	}
	data, err := ir.MarshalCanonical(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
