package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/epicflow/internal/journal"
	"github.com/roach88/epicflow/pkg/epic"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Action   string // optional - filter to one action type
	Run      string
	Outcome  string
	Limit    int
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Cycles []journal.Cycle `json:"cycles"`
	Stats  TraceStats      `json:"stats"`
}

// TraceStats holds summary statistics for the listed cycles.
type TraceStats struct {
	Cycles         int `json:"cycles"`
	Runs           int `json:"runs"`
	Committed      int `json:"committed"`
	RolledBack     int `json:"rolled_back"`
	ListenerErrors int `json:"listener_errors"`
	Invocations    int `json:"invocations"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print recorded cycles from a journal",
		Long: `Print the cycles recorded in a journal written by "epicflow test --journal".

Cycles are listed by run, then by sequence number, with their outcome,
the epics they changed and the reducers and listeners they invoked.

Examples:
  epicflow trace --db cycles.db
  epicflow trace --db cycles.db --action INCREMENT
  epicflow trace --db cycles.db --outcome rolled_back --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", rootOpts.Env.Journal, "path to the journal database (required)")
	cmd.Flags().StringVar(&opts.Action, "action", "", "filter to one action type")
	cmd.Flags().StringVar(&opts.Run, "run", "", "filter to one run")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "filter by outcome (committed, rolled_back, listener_error)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of cycles (0 = all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	if opts.Database == "" {
		return NewExitError(ExitCommandError, "--db is required")
	}

	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	cycles, err := j.ReadCycles(context.Background(), journal.Filter{
		Run:        opts.Run,
		ActionType: opts.Action,
		Outcome:    opts.Outcome,
		Limit:      opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := TraceResult{Cycles: cycles, Stats: summarize(cycles)}
	formatter := opts.formatter(cmd)
	if opts.Format == "json" {
		return formatter.JSON(okResponse(result))
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

func summarize(cycles []journal.Cycle) TraceStats {
	stats := TraceStats{Cycles: len(cycles)}
	runs := make(map[string]bool)
	for _, c := range cycles {
		runs[c.Run] = true
		stats.Invocations += len(c.Invocations)
		switch c.Outcome {
		case epic.OutcomeCommitted:
			stats.Committed++
		case epic.OutcomeRolledBack:
			stats.RolledBack++
		case epic.OutcomeListenerError:
			stats.ListenerErrors++
		}
	}
	stats.Runs = len(runs)
	return stats
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	if len(result.Cycles) == 0 {
		fmt.Fprintln(w, "No cycles found.")
		return nil
	}

	run := ""
	for _, c := range result.Cycles {
		if c.Run != run {
			run = c.Run
			fmt.Fprintf(w, "Run %s\n", run)
		}
		label := c.Kind
		if c.ActionType != "" {
			label += " " + c.ActionType
		}
		fmt.Fprintf(w, "  [%d] %s -> %s\n", c.Seq, label, c.Outcome)
		if len(c.Changed) > 0 {
			fmt.Fprintf(w, "       changed: %s\n", strings.Join(c.Changed, ", "))
		}
		for _, id := range c.Invocations {
			fmt.Fprintf(w, "       %s\n", id)
		}
		if c.Error != "" {
			fmt.Fprintf(w, "       error: %s\n", c.Error)
		}
		if verbose {
			fmt.Fprintf(w, "       state: %s (%dus)\n", truncateHash(c.StateHash), c.DurationUS)
		}
	}

	s := result.Stats
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Stats:")
	fmt.Fprintf(w, "  Cycles:          %d (%d run(s))\n", s.Cycles, s.Runs)
	fmt.Fprintf(w, "  Committed:       %d\n", s.Committed)
	fmt.Fprintf(w, "  Rolled back:     %d\n", s.RolledBack)
	fmt.Fprintf(w, "  Listener errors: %d\n", s.ListenerErrors)
	fmt.Fprintf(w, "  Invocations:     %d\n", s.Invocations)
	return nil
}

func truncateHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
