package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ResolvesSpecPaths(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/counter_mirror.yaml")
	require.NoError(t, err)

	assert.Equal(t, "counter_mirror", s.Name)
	require.Len(t, s.Specs, 1)
	assert.Equal(t, filepath.Join("testdata", "specs", "counter_mirror.cue"), s.Specs[0])
	require.NotNil(t, s.Store.Undo)
	assert.Equal(t, 10, s.Store.Undo.MaxStack)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, "dispatch", s.Steps[0].Kind())
	assert.Equal(t, "undo", s.Steps[1].Kind())
	assert.Equal(t, "redo", s.Steps[2].Kind())
	assert.Len(t, s.Assertions, 3)
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte("name: x\nassertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "spec.cue", `epic: a: state: {}`)

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "specs: [spec.cue]\nsteps: [{dispatch: X}]\n", "name is required"},
		{"missing specs", "name: x\nsteps: [{dispatch: X}]\n", "specs list is required"},
		{"missing steps", "name: x\nspecs: [spec.cue]\n", "steps list is required"},
		{"missing spec file", "name: x\nspecs: [nope.cue]\nsteps: [{dispatch: X}]\n", "spec file not found"},
		{"empty step", "name: x\nspecs: [spec.cue]\nsteps: [{}]\n", "exactly one of dispatch, undo or redo"},
		{"two kinds", "name: x\nspecs: [spec.cue]\nsteps: [{dispatch: X, undo: 1}]\n", "exactly one of dispatch, undo or redo"},
		{"payload on undo", "name: x\nspecs: [spec.cue]\nsteps: [{undo: 1, payload: 1}]\n", "only apply to dispatch"},
		{"both undo flags", "name: x\nspecs: [spec.cue]\nsteps: [{dispatch: X, undo_point: true, skip_undo_point: true}]\n", "mutually exclusive"},
		{"negative depth", "name: x\nspecs: [spec.cue]\nstore: {max_depth: -1}\nsteps: [{dispatch: X}]\n", "max_depth must be non-negative"},
		{"unknown assertion", "name: x\nspecs: [spec.cue]\nsteps: [{dispatch: X}]\nassertions: [{type: nope}]\n", "unknown assertion type"},
		{"order without list", "name: x\nspecs: [spec.cue]\nsteps: [{dispatch: X}]\nassertions: [{type: trace_order}]\n", "order list is required"},
		{"final state without epic", "name: x\nspecs: [spec.cue]\nsteps: [{dispatch: X}]\nassertions: [{type: final_state}]\n", "epic is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "scenario.yaml", tt.yaml)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFindScenarios(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata", "scenarios", "counter_mirror.yaml"),
		filepath.Join("testdata", "scenarios", "counter_rollback.yaml"),
	}, files)

	files, err = FindScenarios("testdata/scenarios", "*rollback")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("testdata", "scenarios", "counter_rollback.yaml")}, files)

	_, err = FindScenarios("testdata/scenarios", "[")
	assert.Error(t, err)
}

func TestStoreConfig_WithDefaults(t *testing.T) {
	defaults := StoreConfig{Patterns: true, Undo: &UndoConfig{MaxStack: 5}, MaxDepth: 50}

	got := StoreConfig{}.withDefaults(defaults)
	assert.True(t, got.Patterns)
	assert.Nil(t, got.Undo, "undo stays off unless the scenario enables it")
	assert.Equal(t, 50, got.MaxDepth)

	own := &UndoConfig{ManualUndoPoints: true}
	got = StoreConfig{Undo: own, MaxDepth: 3}.withDefaults(defaults)
	require.NotNil(t, got.Undo)
	assert.Equal(t, 5, got.Undo.MaxStack)
	assert.True(t, got.Undo.ManualUndoPoints)
	assert.Equal(t, 0, own.MaxStack, "scenario config is not mutated")
	assert.Equal(t, 3, got.MaxDepth)
}
