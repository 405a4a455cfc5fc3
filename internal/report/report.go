// Package report renders the human-readable summaries of a cleaning run.
//
// Two renderings share one input: the per-dataset execution log entries plus
// the final cleaned tables. The text report follows the layout operators
// already grep through (banners, numbered step lines, column listing); the
// HTML report carries the same content in a form dashboards can link to.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"dq/internal/dataset"
	"dq/internal/executor"
)

// Entry is one dataset's execution record. The pipeline persists the same
// structure as execution_log.json, so reports consume the log verbatim.
type Entry struct {
	Dataset      string            `json:"dataset"`
	OriginalRows int               `json:"original_rows"`
	CleanedRows  int               `json:"cleaned_rows"`
	Steps        []executor.Record `json:"steps"`
}

// grouped formats integers with thousands separators ("29,384").
var grouped = message.NewPrinter(language.English)

func statusIcon(s executor.Status) string {
	switch s {
	case executor.StatusSuccess:
		return "✓"
	case executor.StatusError:
		return "✗"
	default:
		return "⊘"
	}
}

// WriteText renders the plain-text summary report.
//
// Entries render in slice order. Tables supplies the final cleaned table per
// dataset name; a missing table drops the column listing for that dataset but
// keeps its step section.
func WriteText(w io.Writer, entries []Entry, tables map[string]*dataset.Table, now time.Time) error {
	var b strings.Builder

	rule80 := strings.Repeat("=", 80)
	rule60 := strings.Repeat("=", 60)

	b.WriteString(rule80 + "\n")
	b.WriteString("DATA CLEANING AND TRANSFORMATION SUMMARY REPORT\n")
	b.WriteString(rule80 + "\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", now.Format("2006-01-02 15:04:05"))

	for _, e := range entries {
		b.WriteString("\n" + rule60 + "\n")
		fmt.Fprintf(&b, "Dataset: %s\n", strings.ToUpper(e.Dataset))
		b.WriteString(rule60 + "\n")
		grouped.Fprintf(&b, "Original rows: %d\n", e.OriginalRows)
		grouped.Fprintf(&b, "Cleaned rows: %d\n", e.CleanedRows)
		grouped.Fprintf(&b, "Rows removed: %d\n\n", e.OriginalRows-e.CleanedRows)

		b.WriteString("Executed Steps:\n")
		for i, st := range e.Steps {
			fmt.Fprintf(&b, "  %d. %s %s: %s\n", i+1, statusIcon(st.Status), st.Step, st.Message)
		}

		if t, ok := tables[e.Dataset]; ok && t != nil {
			fmt.Fprintf(&b, "\nFinal columns (%d):\n", len(t.Columns))
			for _, c := range t.Columns {
				fmt.Fprintf(&b, "  - %s (%s)\n", c.Name, c.Kind)
			}
		}
	}

	b.WriteString("\n" + rule80 + "\n")
	b.WriteString("END OF REPORT\n")
	b.WriteString(rule80 + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}
