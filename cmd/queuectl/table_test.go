package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTableKeepsHeaderCase(t *testing.T) {
	out := renderTable([]column{right("#"), left("Waiting since")}, [][]string{
		{"1", "2026-10-19 09:00"},
		{"2"},
	})

	assert.Contains(t, out, "Waiting since")
	assert.NotContains(t, out, "WAITING SINCE")
	assert.True(t, strings.HasSuffix(out, "\n"))
	// border, header, separator, two rows, border
	assert.Len(t, strings.Split(strings.TrimSuffix(out, "\n"), "\n"), 6, out)
}

func TestRenderTableWithoutColumns(t *testing.T) {
	assert.Empty(t, renderTable(nil, [][]string{{"x"}}))
}
