package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"tagfiler.dev/pkg/outbox/internal/adapter"
	m "tagfiler.dev/pkg/outbox/internal/model"
)

const maxListedPending = 20

// SimpleUI implements UI by printing tables to the command output.
type SimpleUI struct {
	cmd *cobra.Command
	tty bool

	title lipgloss.Style
	bad   lipgloss.Style
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command, tty bool) *SimpleUI {
	return &SimpleUI{
		cmd:   cmd,
		tty:   tty,
		title: lipgloss.NewStyle().Bold(true),
		bad:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// StartProgress is a no-op; plain output only reports the final summary.
func (s *SimpleUI) StartProgress(ctx context.Context, _ func() m.Progress, _ func()) error {
	return ctx.Err()
}

// StopProgress is a no-op.
func (s *SimpleUI) StopProgress(context.Context) {}

// DisplaySummary prints the counters and per-item errors of a scan.
func (s *SimpleUI) DisplaySummary(ctx context.Context, summary *m.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("%s\n", s.style(s.title, "Scan "+summary.ScanID))
	s.printf("%s", renderTable([]string{"Found", "Skipped", "Checksummed", "Tagged", "Registered", "Errors", "Duration"}, [][]string{{
		strconv.Itoa(summary.Found),
		strconv.Itoa(summary.Skipped),
		strconv.Itoa(summary.Checksummed),
		strconv.Itoa(summary.Tagged),
		strconv.Itoa(summary.Registered),
		strconv.Itoa(len(summary.Errors)),
		summary.Duration().Round(time.Millisecond).String(),
	}}))

	if len(summary.Errors) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(summary.Errors))
	for _, itemErr := range summary.Errors {
		rows = append(rows, []string{string(itemErr.Stage), string(itemErr.Path), itemErr.Err.Error()})
	}

	s.printf("\n%s\n", s.style(s.bad, "Errors"))
	s.printf("%s", renderTable([]string{"Stage", "Path", "Error"}, rows))

	return nil
}

// DisplayStatus prints the state store counters, recent scans and files
// awaiting tagging.
func (s *SimpleUI) DisplayStatus(ctx context.Context, stats *adapter.StoreStats, scans []*m.Scan, pending []*m.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("%s\n", s.style(s.title, "State"))
	s.printf("%s", renderTable([]string{"Files", "Registered", "Pending tag", "Staged", "Rule era"}, [][]string{{
		strconv.Itoa(stats.Files),
		strconv.Itoa(stats.Registered),
		strconv.Itoa(stats.PendingTag),
		strconv.Itoa(stats.Staged),
		strconv.FormatInt(stats.Era, 10),
	}}))

	if len(scans) > 0 {
		rows := make([][]string, 0, len(scans))
		for _, scan := range scans {
			end := "-"
			if scan.End != nil {
				end = scan.End.Format(time.RFC3339)
			}

			rows = append(rows, []string{scan.ID, string(scan.State), scan.Start.Format(time.RFC3339), end})
		}

		s.printf("\n%s\n", s.style(s.title, "Recent scans"))
		s.printf("%s", renderTable([]string{"Scan", "State", "Started", "Finished"}, rows))
	}

	if len(pending) > 0 {
		rows := make([][]string, 0, min(len(pending), maxListedPending))
		for _, rec := range pending[:min(len(pending), maxListedPending)] {
			registered := "never"
			if rec.RTime != nil {
				registered = rec.RTime.Format(time.RFC3339)
			}

			rows = append(rows, []string{string(rec.Path), registered})
		}

		s.printf("\n%s\n", s.style(s.title, fmt.Sprintf("Pending tag (%d)", len(pending))))
		s.printf("%s", renderTable([]string{"Path", "Registered"}, rows))
	}

	return nil
}

// DisplayTags prints the tags rules derive for path.
func (s *SimpleUI) DisplayTags(ctx context.Context, path m.Path, tags m.TagSet, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	s.printf("%s\n", s.style(s.title, string(path)))

	if err != nil {
		s.printf("  %s\n", s.style(s.bad, err.Error()))
		return nil
	}

	rows := make([][]string, 0, len(tags))
	for _, name := range tags.Names() {
		rows = append(rows, []string{name, strings.Join(tags.Values(name), ", ")})
	}

	s.printf("%s", renderTable([]string{"Tag", "Values"}, rows))

	return nil
}

// DisplaySubject prints a catalog subject.
func (s *SimpleUI) DisplaySubject(ctx context.Context, name string, subject adapter.Subject) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	keys := make([]string, 0, len(subject))
	for key := range subject {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, formatValue(subject[key])})
	}

	s.printf("%s\n", s.style(s.title, name))
	s.printf("%s", renderTable([]string{"Tag", "Value"}, rows))

	return nil
}

func formatValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case nil:
		return ""
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}

		return string(data)
	}
}

func renderTable(header []string, rows [][]string) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()

	return tableBuffer.String()
}

func (s *SimpleUI) style(style lipgloss.Style, text string) string {
	if !s.tty {
		return text
	}

	return style.Render(text)
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}
