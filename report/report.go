// Package report renders the outcome of a profiled execution.
package report

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/MetalBlockchain/pulseprof/engine"
	"github.com/MetalBlockchain/pulseprof/profiling"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

type Format string

// Prefix repeated once per enclosing section in the table view. Cells are
// trimmed by the table writer, so plain spaces would be lost.
const nestingMarker = "· "

const (
	JSON  Format = "json"
	YAML  Format = "yaml"
	Table Format = "table"
)

var (
	ErrUnknownFormat = errors.New("unknown report format")

	Formats = []Format{JSON, YAML, Table}
)

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	if !slices.Contains(Formats, f) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
	return f, nil
}

// Write renders [r] to [w]. JSON and YAML keep sections in the order they
// ended; the table lists them by start with nested sections indented.
func Write(w io.Writer, format Format, r *engine.Report) error {
	switch format {
	case JSON:
		return writeJSON(w, r)
	case YAML:
		return writeYAML(w, r)
	case Table:
		return writeTable(w, r)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func writeJSON(w io.Writer, r *engine.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func writeYAML(w io.Writer, r *engine.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

func writeTable(w io.Writer, r *engine.Report) error {
	fmt.Fprintf(w, "Session:   %s\n", r.SessionID)
	fmt.Fprintf(w, "Status:    %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", r.Error)
	}
	fmt.Fprintf(w, "Compute:   %d of %d units consumed\n", r.ComputeConsumed, r.ComputeBudget)
	fmt.Fprintf(w, "Heap used: %d bytes\n", r.HeapUsed)

	if len(r.Sections) > 0 {
		fmt.Fprintln(w)
		table := tablewriter.NewWriter(w)
		table.Header("Section", "Start CU", "End CU", "Total CU", "Net CU", "Remaining CU", "Total Heap", "Net Heap", "Remaining Heap")
		for _, row := range sectionRows(r.Sections) {
			if err := table.Append(row); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	if len(r.OpenSections) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Unclosed sections:")
		for _, open := range r.OpenSections {
			fmt.Fprintf(w, "  %s (opened with %d units remaining)\n", open.ID, open.StartCU)
		}
	}
	if r.UnmatchedEnds > 0 {
		fmt.Fprintf(w, "\nUnmatched section ends: %d\n", r.UnmatchedEnds)
	}

	if len(r.Logs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Program logs:")
		for _, line := range r.Logs {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	return nil
}

// sectionRows orders [sections] by start and indents each ID by its nesting
// depth.
func sectionRows(sections []profiling.CompletedEntry) [][]string {
	ordered := slices.Clone(sections)
	slices.SortFunc(ordered, func(a, b profiling.CompletedEntry) int {
		return cmp.Compare(a.StartSequence, b.StartSequence)
	})

	rows := make([][]string, len(ordered))
	for i := range ordered {
		entry := &ordered[i]
		depth := 0
		for j := range ordered {
			if ordered[j].Contains(entry) {
				depth++
			}
		}

		row := []string{
			strings.Repeat(nestingMarker, depth) + entry.ID,
			strconv.FormatUint(entry.StartCU, 10),
			strconv.FormatUint(entry.EndCU, 10),
			strconv.FormatUint(entry.TotalCU, 10),
			strconv.FormatUint(entry.NetCU, 10),
			strconv.FormatUint(entry.RemainingCU, 10),
		}
		if heap := entry.Heap; heap != nil {
			row = append(row,
				strconv.FormatUint(heap.TotalHeap, 10),
				strconv.FormatUint(heap.NetHeap, 10),
				strconv.FormatUint(heap.RemainingHeap, 10),
			)
		} else {
			row = append(row, "-", "-", "-")
		}
		rows[i] = row
	}
	return rows
}
