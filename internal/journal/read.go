package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Filter narrows ReadCycles. Zero fields match everything.
type Filter struct {
	Run        string
	ActionType string
	Outcome    string
	Limit      int
}

// ReadCycles returns matching cycles ordered by run, then seq.
// Returns an empty slice (not nil) if nothing matches.
func (j *Journal) ReadCycles(ctx context.Context, f Filter) ([]Cycle, error) {
	var (
		where []string
		args  []any
	)
	if f.Run != "" {
		where = append(where, "run = ?")
		args = append(args, f.Run)
	}
	if f.ActionType != "" {
		where = append(where, "action_type = ?")
		args = append(args, f.ActionType)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}

	query := `
		SELECT run, seq, kind, action_type, outcome, error, changed, state_hash, reducers, listeners, invocations, duration_us
		FROM cycles`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY run COLLATE BINARY ASC, seq ASC"
	if f.Limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	cycles := []Cycle{}
	for rows.Next() {
		var (
			c           Cycle
			changed     string
			invocations string
		)
		if err := rows.Scan(&c.Run, &c.Seq, &c.Kind, &c.ActionType, &c.Outcome, &c.Error,
			&changed, &c.StateHash, &c.Reducers, &c.Listeners, &invocations, &c.DurationUS); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		if c.Changed, err = unmarshalStrings(changed); err != nil {
			return nil, fmt.Errorf("cycle %d changed: %w", c.Seq, err)
		}
		if c.Invocations, err = unmarshalStrings(invocations); err != nil {
			return nil, fmt.Errorf("cycle %d invocations: %w", c.Seq, err)
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}

	return cycles, nil
}

// Runs returns the distinct run identifiers in order.
func (j *Journal) Runs(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT DISTINCT run FROM cycles ORDER BY run COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []string{}
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func unmarshalStrings(data string) ([]string, error) {
	var ss []string
	if data == "" || data == "[]" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(data), &ss); err != nil {
		return nil, err
	}
	return ss, nil
}
