package classifier

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wildlifeRules = `
categories:
  wildlife:
    terms: ["heron"]
    backend: document
`

const machineryRules = `
categories:
  machinery:
    terms: ["excavator"]
    backend: relational
`

func TestWatcherReloadsRuleTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(wildlifeRules), 0o600))

	table, err := LoadRuleTable(path)
	require.NoError(t, err)
	c := New(table, nil)

	w, err := NewWatcher(c, path, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(machineryRules), 0o600))

	assert.Eventually(t, func() bool {
		result := c.Classify("excavator near the chamber")
		return len(result.Entities["machinery"]) > 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherRejectsInvalidTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(wildlifeRules), 0o600))

	table, err := LoadRuleTable(path)
	require.NoError(t, err)
	c := New(table, nil)

	w, err := NewWatcher(c, path, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("categories: {}"), 0o600))

	// The bad table never becomes active; the previous one keeps serving.
	time.Sleep(200 * time.Millisecond)
	result := c.Classify("heron by the river")
	assert.Equal(t, []string{"heron"}, result.Entities["wildlife"])
}
