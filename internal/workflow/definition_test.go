package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefinitionYAMLRejectsMissingSteps(t *testing.T) {
	const payload = `
id: missing-steps
steps: []
`
	_, err := ParseDefinitionYAML([]byte(payload))
	assert.ErrorContains(t, err, "at least one step is required")
}

func TestParseDefinitionYAMLRejectsUnknownGraphKeys(t *testing.T) {
	const payload = `
id: invalid-graph
steps:
  - id: start
graph:
  missing: [start]
`
	_, err := ParseDefinitionYAML([]byte(payload))
	assert.ErrorContains(t, err, "references unknown step")
}

func TestParseDefinitionYAMLAllowsUndeclaredPrerequisites(t *testing.T) {
	const payload = `
id: ghost
steps:
  - id: haunted
    depends_on: [GHOST]
`
	def, err := ParseDefinitionYAML([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, []string{"GHOST"}, def.Dependencies("haunted"))
}

func TestParseDefinitionYAMLRejectsDuplicateSteps(t *testing.T) {
	const payload = `
id: dupes
steps:
  - id: a
  - id: a
`
	_, err := ParseDefinitionYAML([]byte(payload))
	assert.ErrorContains(t, err, "duplicate step id a")
}

func TestParseDefinitionYAMLRejectsSelfDependency(t *testing.T) {
	const payload = `
id: loop
steps:
  - id: a
    depends_on: [a]
`
	_, err := ParseDefinitionYAML([]byte(payload))
	assert.ErrorContains(t, err, "depends on itself")
}

func TestParseDefinitionYAMLMergesGraphIntoDependsOn(t *testing.T) {
	const payload = `
id: pricing
steps:
  - id: FILE
  - id: FACT
    depends_on: [FILE]
  - id: PRICE
    depends_on: [FACT]
graph:
  PRICE: [FILE]
`
	def, err := ParseDefinitionYAML([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, []string{"FACT", "FILE"}, def.Steps[2].DependsOn)
	assert.Equal(t, "pricing", def.Title())
}

func TestParseDefinitionYAMLKeepsNestedActionConfig(t *testing.T) {
	const payload = `
id: nested
steps:
  - id: EXTRACT
    action: set
    config:
      values: {rows: 3}
`
	def, err := ParseDefinitionYAML([]byte(payload))
	require.NoError(t, err)
	values, ok := def.Steps[0].Config["values"].(ActionConfig)
	require.True(t, ok, "nested mappings decode as %T", def.Steps[0].Config["values"])
	assert.Equal(t, 3, values["rows"])
}

func TestParseDefinitionYAMLClampsNegativeRuntimeSettings(t *testing.T) {
	const payload = `
id: clamp-runtime
runtime:
  max_parallel: -4
  retries: -1
steps:
  - id: only
`
	def, err := ParseDefinitionYAML([]byte(payload))
	require.NoError(t, err)
	assert.Zero(t, def.Runtime.MaxParallel)
	assert.Zero(t, def.Runtime.Retries)
}

func TestLoadDefinitionDirSortsAndSkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("b.yaml", "id: b\nsteps:\n  - id: one\n")
	write("a.yml", "id: a\nsteps:\n  - id: one\n")
	write("notes.txt", "ignored")

	defs, err := LoadDefinitionDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].ID)
	assert.Equal(t, "b", defs[1].ID)

	missing, err := LoadDefinitionDir(filepath.Join(dir, "nope"))
	assert.NoError(t, err)
	assert.Nil(t, missing)
}
