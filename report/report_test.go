package report

import (
	"bytes"
	"testing"

	"github.com/MetalBlockchain/pulseprof/engine"
	"github.com/MetalBlockchain/pulseprof/profiling"
	"github.com/MetalBlockchain/pulseprof/status"
	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func nestedReport() *engine.Report {
	return &engine.Report{
		SessionID:       uuid.MustParse("8c1d2b5e-2f4a-4e1b-9c3d-5a6b7c8d9e0f"),
		Status:          status.Succeeded,
		ComputeBudget:   1000,
		ComputeConsumed: 200,
		HeapUsed:        40,
		Logs: []string{
			"Program consumption: 900 units remaining",
			"Profiling error: no active profiling section found for ID: ghost",
		},
		UnmatchedEnds: 1,
		Sections: []profiling.CompletedEntry{
			{
				ID:            "inner",
				StartCU:       1000,
				EndCU:         900,
				StartSequence: 1,
				EndSequence:   2,
				TotalCU:       100,
				NetCU:         100,
				RemainingCU:   1000,
				Heap: &profiling.HeapMetrics{
					StartHeap:     20,
					EndHeap:       30,
					TotalHeap:     10,
					NetHeap:       10,
					RemainingHeap: 31_980,
				},
			},
			{
				ID:            "outer",
				StartCU:       1000,
				EndCU:         800,
				StartSequence: 0,
				EndSequence:   3,
				TotalCU:       200,
				NetCU:         100,
				RemainingCU:   1000,
			},
		},
		OpenSections: []profiling.ActiveEntry{
			{ID: "dangling", StartCU: 800, StartSequence: 4},
		},
	}
}

func trappedReport() *engine.Report {
	return &engine.Report{
		SessionID:     uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		Status:        status.Failed,
		Error:         "wasm error: unreachable",
		ComputeBudget: 1000,
	}
}

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name   string
		report *engine.Report
	}{
		{name: "nested.json", report: nestedReport()},
		{name: "trapped.json", report: trappedReport()},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, JSON, test.report))

			g := goldie.New(t)
			g.Assert(t, test.name, buf.Bytes())
		})
	}
}

func TestWriteYAML(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	require.NoError(Write(&buf, YAML, nestedReport()))

	var doc map[string]any
	require.NoError(yaml.Unmarshal(buf.Bytes(), &doc))
	require.Equal("8c1d2b5e-2f4a-4e1b-9c3d-5a6b7c8d9e0f", doc["session_id"])
	require.Equal("Succeeded", doc["status"])
	require.Equal(200, doc["compute_consumed"])
	require.NotContains(doc, "error")

	sections, ok := doc["sections"].([]any)
	require.True(ok)
	require.Len(sections, 2)

	inner := sections[0].(map[string]any)
	require.Equal("inner", inner["id"])
	require.Equal(100, inner["net_cu"])
	require.Equal(31_980, inner["heap"].(map[string]any)["remaining_heap"])

	outer := sections[1].(map[string]any)
	require.Equal("outer", outer["id"])
	require.NotContains(outer, "heap")
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Table, nestedReport()))
	out := buf.String()

	assert.Contains(t, out, "Session:   8c1d2b5e-2f4a-4e1b-9c3d-5a6b7c8d9e0f")
	assert.Contains(t, out, "Status:    Succeeded")
	assert.Contains(t, out, "Compute:   200 of 1000 units consumed")
	assert.Contains(t, out, "· inner")
	assert.Contains(t, out, "31980")
	assert.Contains(t, out, "dangling (opened with 800 units remaining)")
	assert.Contains(t, out, "Unmatched section ends: 1")
	assert.Contains(t, out, "  Program consumption: 900 units remaining")
	assert.NotContains(t, out, "Error:")

	// Sections are listed by start, so outer comes first.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("outer")), bytes.Index(buf.Bytes(), []byte("· inner")))
}

func TestWriteTableWithoutSections(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Table, trappedReport()))
	out := buf.String()

	assert.Contains(t, out, "Status:    Failed")
	assert.Contains(t, out, "Error:     wasm error: unreachable")
	assert.NotContains(t, out, "Program logs:")
	assert.NotContains(t, out, "Unclosed sections:")
}

func TestSectionRowsDepth(t *testing.T) {
	sections := []profiling.CompletedEntry{
		{ID: "leaf", StartSequence: 2, EndSequence: 3},
		{ID: "mid", StartSequence: 1, EndSequence: 4},
		{ID: "sibling", StartSequence: 6, EndSequence: 7},
		{ID: "root", StartSequence: 0, EndSequence: 5},
	}

	rows := sectionRows(sections)
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row[0]
		assert.Len(t, row, 9)
		assert.Equal(t, "-", row[6])
	}
	assert.Equal(t, []string{"root", "· mid", "· · leaf", "sibling"}, ids)
}

func TestParseFormat(t *testing.T) {
	for _, f := range Formats {
		parsed, err := ParseFormat(string(f))
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
	}

	parsed, err := ParseFormat("YAML")
	require.NoError(t, err)
	assert.Equal(t, YAML, parsed)

	_, err = ParseFormat("xml")
	require.ErrorIs(t, err, ErrUnknownFormat)
	require.ErrorIs(t, Write(&bytes.Buffer{}, Format("xml"), trappedReport()), ErrUnknownFormat)
}
