package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidSpecs(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "counter.cue", counterSpec)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All specs valid (1 epic(s), 1 listener(s))")
}

func TestValidateValidSpecsJSON(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "counter.cue", counterSpec)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), dir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 1, resp.Data.Epics)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
}

func TestValidateCompileErrors(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.cue", `
epic: a: reducer: r: {
	on: "X"
	update: [{op: "explode"}]
}
`)
	writeTestFile(t, dir, "b.cue", `
epic: b: reducer: r: {
	update: [{op: "inc"}]
}
`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 2 error(s)")
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, ErrCodeInvalidUpdate+": unknown op")
	assert.Contains(t, out, ErrCodeInvalidCondition+": on is required")
	assert.Contains(t, out, filepath.Join(dir, "a.cue")+" line 4")
}

func TestValidateDocumentErrors(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.cue", `epic: dup: state: {}`)
	writeTestFile(t, dir, "b.cue", `epic: dup: state: {}`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E101", resp.Error.Code)
}

func TestValidateRegistrationError(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.cue", `
epic: a: {
	state: {n: 0}
	reducer: r: {
		on: {any_of: ["ADD", "*"]}
		update: [{path: "n", op: "inc"}]
	}
}
`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeRegistration)
	assert.Contains(t, out, "INVALID_ANY_OF")
}

func TestValidateCycleWarning(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "loop.cue", `
epic: ping: {
	state: {n: 0}
	reducer: r: {
		on: "pong"
		update: [{path: "n", op: "inc"}]
	}
}
epic: pong: {
	state: {n: 0}
	reducer: r: {
		on: "ping"
		update: [{path: "n", op: "inc"}]
	}
}
`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "! Potential cascade cycle detected")
	assert.Contains(t, out, "✓ All specs valid")
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := map[string]string{
		"cue":           ErrCodeBuildFailed,
		"on":            ErrCodeInvalidCondition,
		"any_of":        ErrCodeInvalidCondition,
		"guard.op":      ErrCodeInvalidGuard,
		"update.by":     ErrCodeInvalidUpdate,
		"update":        ErrCodeInvalidUpdate,
		"something_new": ErrCodeGeneric,
	}
	for field, want := range tests {
		assert.Equal(t, want, MapFieldToErrorCode(field), field)
	}
}
