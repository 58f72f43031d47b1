package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const counterSpec = `
epic: counter: {
	state: {count: 0}
	reducer: increment: {
		on: "INCREMENT"
		update: [{path: "count", op: "inc"}]
	}
	reducer: boom: {
		on: "BOOM"
		update: [{op: "fail", message: "boom"}]
	}
}

listener: audit: {on: ["counter"]}
`

const counterScenario = `
name: counter
specs: [../specs/counter.cue]
steps:
  - dispatch: INCREMENT
  - dispatch: BOOM
    expect_error: boom
assertions:
  - type: final_state
    epic: counter
    expect: {count: 1}
`

const failingScenario = `
name: failing
specs: [../specs/counter.cue]
steps:
  - dispatch: INCREMENT
assertions:
  - type: final_state
    epic: counter
    expect: {count: 5}
`

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs cmd with args and returns stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
