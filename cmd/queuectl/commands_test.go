package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/queue-api/internal/model"
)

func runCLI(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--db", dbPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func listEntries(t *testing.T, dbPath string) []*model.QueueEntry {
	t.Helper()
	out, err := runCLI(t, dbPath, "list", "--json")
	require.NoError(t, err)
	var entries []*model.QueueEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	return entries
}

func names(entries []*model.QueueEntry) []string {
	result := make([]string, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.Name)
	}
	return result
}

func TestQueueLifecycle(t *testing.T) {
	db := filepath.Join(t.TempDir(), "queue.db")

	out, err := runCLI(t, db, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No patients waiting")

	for _, name := range []string{"Alice", "Bob", "Carol"} {
		out, err = runCLI(t, db, "add", name, "Checkup")
		require.NoError(t, err)
		assert.Contains(t, out, "Added "+name)
	}

	out, err = runCLI(t, db, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "Waiting since")

	entries := listEntries(t, db)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, names(entries))

	_, err = runCLI(t, db, "move", entries[2].ID.String(), "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Carol", "Alice", "Bob"}, names(listEntries(t, db)))

	_, err = runCLI(t, db, "update", entries[0].ID.String(), "Alicia", "X-ray")
	require.NoError(t, err)

	out, err = runCLI(t, db, "complete", entries[0].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Completed Alicia")

	out, err = runCLI(t, db, "complete", entries[0].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "No waiting patient")

	after := listEntries(t, db)
	assert.Equal(t, []string{"Carol", "Bob"}, names(after))
	assert.Equal(t, 1, after[1].PatientsAhead)

	out, err = runCLI(t, db, "completed")
	require.NoError(t, err)
	assert.Contains(t, out, "Alicia")
	assert.Contains(t, out, "X-ray")

	out, err = runCLI(t, db, "restore", entries[0].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Restored Alicia at position 3")

	_, err = runCLI(t, db, "remove", entries[1].ID.String())
	require.NoError(t, err)
	assert.Equal(t, []string{"Carol", "Alicia"}, names(listEntries(t, db)))
}

func TestClearRequiresConfirmation(t *testing.T) {
	db := filepath.Join(t.TempDir(), "queue.db")

	_, err := runCLI(t, db, "add", "Alice", "Checkup")
	require.NoError(t, err)

	_, err = runCLI(t, db, "clear")
	assert.ErrorContains(t, err, "--yes")
	assert.Len(t, listEntries(t, db), 1)

	out, err := runCLI(t, db, "clear", "--completed", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared completed patients")
	assert.Len(t, listEntries(t, db), 1)

	_, err = runCLI(t, db, "clear", "--yes")
	require.NoError(t, err)
	assert.Empty(t, listEntries(t, db))
}

func TestInvalidArguments(t *testing.T) {
	db := filepath.Join(t.TempDir(), "queue.db")

	_, err := runCLI(t, db, "complete", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid patient id")

	_, err = runCLI(t, db, "move", "7d3a4f2e-55b5-4c42-9df1-1d2c3b4a5f60", "first")
	assert.ErrorContains(t, err, "invalid position")

	_, err = runCLI(t, db, "add", "  ", "Checkup")
	assert.ErrorContains(t, err, "must not be blank")

	_, err = runCLI(t, db, "update", "7d3a4f2e-55b5-4c42-9df1-1d2c3b4a5f60", "Alice", "Checkup")
	assert.Error(t, err)
}
