package output

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/ccollicutt/smartguard/pkg/health"
	"github.com/ccollicutt/smartguard/pkg/logstore"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	hourLayout = "2006-01-02 15:00"

	// maxSummaryWidth bounds the summary column in non-verbose record tables.
	maxSummaryWidth = 80
)

// TextFormatter formats reports as human-readable tables.
type TextFormatter struct {
	opts FormatOptions
}

// NewTextFormatter creates a new text formatter with the given options.
func NewTextFormatter(opts FormatOptions) *TextFormatter {
	return &TextFormatter{opts: opts}
}

// Name returns the format name.
func (f *TextFormatter) Name() string {
	return "text"
}

// Format renders the report as text.
func (f *TextFormatter) Format(ctx context.Context, report *Report, w io.Writer) error {
	if f.opts.Quiet {
		return f.formatQuiet(report, w)
	}

	switch report.Kind {
	case KindSearch:
		f.formatSearch(report, w)
	case KindHealth:
		f.formatHealth(report, w)
	case KindTimeline:
		f.formatTimeline(report, w)
	case KindMetrics:
		f.formatMetrics(report, w)
	case KindChat:
		fmt.Fprintln(w, report.Chat.Response)
	case KindAnalysis:
		f.formatAnalysis(report, w)
	default:
		f.formatRecords(report.Records, report.GeneratedAt, w)
	}
	return nil
}

func (f *TextFormatter) formatQuiet(report *Report, w io.Writer) error {
	s := report.Summary
	switch report.Kind {
	case KindHealth:
		fmt.Fprintf(w, "SmartGuard: %d services, %d unhealthy\n", s.Items, s.Unhealthy)
	case KindTimeline:
		fmt.Fprintf(w, "SmartGuard: %d hours, %d errors\n", s.Items, s.Errors)
	case KindMetrics:
		fmt.Fprintf(w, "SmartGuard: %s records, %d errors, %d anomalies\n",
			humanize.Comma(int64(s.Items)), s.Errors, s.Anomalies)
	case KindChat:
		fmt.Fprintln(w, strings.Join(strings.Fields(report.Chat.Response), " "))
	case KindAnalysis:
		fmt.Fprintf(w, "SmartGuard: %d lines analyzed, alert worthy: %t, alert sent: %t\n",
			s.Items, report.Analysis.AlertWorthy, report.AlertSent)
	default:
		fmt.Fprintf(w, "SmartGuard: %d records, %d errors\n", s.Items, s.Errors)
	}
	return nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func (f *TextFormatter) formatRecords(records []logstore.Record, now time.Time, w io.Writer) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No matching logs")
		return
	}

	header := []string{"Time", "Age", "Severity", "Service", "Summary"}
	if f.opts.Verbose {
		header = append([]string{"ID"}, header...)
		header = append(header, "Message")
	}
	table := newTable(w, header...)

	for _, rec := range records {
		row := []string{
			rec.Timestamp.UTC().Format(timeLayout),
			relative(rec.Timestamp, now),
			string(rec.Severity),
			rec.Service,
		}
		if f.opts.Verbose {
			row = append([]string{strconv.FormatInt(rec.ID, 10)}, row...)
			row = append(row, rec.Summary, rec.RawMessage)
		} else {
			row = append(row, clip(rec.Summary, maxSummaryWidth))
		}
		table.Append(row)
	}
	table.Render()
}

func (f *TextFormatter) formatSearch(report *Report, w io.Writer) {
	res := report.Search
	plan := res.Plan

	if plan.Interpretation != "" {
		fmt.Fprintf(w, "Interpretation: %s\n", plan.Interpretation)
	}
	fmt.Fprintf(w, "Plan (%s):", plan.Origin)
	if len(plan.Services) > 0 {
		fmt.Fprintf(w, " services=%s", strings.Join(plan.Services, ","))
	}
	if len(plan.Severities) > 0 {
		sevs := make([]string, len(plan.Severities))
		for i, s := range plan.Severities {
			sevs[i] = string(s)
		}
		fmt.Fprintf(w, " severity=%s", strings.Join(sevs, ","))
	}
	if plan.Window != nil {
		fmt.Fprintf(w, " window=%s..%s", plan.Window.Start.UTC().Format(timeLayout), plan.Window.End.UTC().Format(timeLayout))
	}
	if plan.FreeText != "" {
		fmt.Fprintf(w, " text=%q", plan.FreeText)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Showing %d of %d matching logs\n\n", len(res.Matches), res.TotalMatched)

	f.formatRecords(res.Matches, report.GeneratedAt, w)
}

func (f *TextFormatter) formatHealth(report *Report, w io.Writer) {
	if len(report.Health) == 0 {
		fmt.Fprintln(w, "No services")
		return
	}

	table := newTable(w, "Service", "Status", "Error Rate", "Logs", "Last Seen")
	for _, name := range health.Services(report.Health) {
		h := report.Health[name]
		lastSeen := "never"
		if h.LastSeen != nil {
			lastSeen = relative(*h.LastSeen, report.GeneratedAt)
		}
		table.Append([]string{
			name,
			strings.ToUpper(string(h.Status)),
			fmt.Sprintf("%.1f%%", h.ErrorRate*100),
			humanize.Comma(int64(h.TotalLogs)),
			lastSeen,
		})
	}
	table.Render()
}

func (f *TextFormatter) formatTimeline(report *Report, w io.Writer) {
	if len(report.Timeline) == 0 {
		fmt.Fprintln(w, "No events in range")
		return
	}

	if !f.opts.Verbose {
		table := newTable(w, "Hour", "Errors", "Warnings", "Info")
		for _, b := range report.Timeline {
			table.Append([]string{
				b.Hour.UTC().Format(hourLayout),
				strconv.Itoa(b.Error),
				strconv.Itoa(b.Warning),
				strconv.Itoa(b.Info),
			})
		}
		table.Render()
		return
	}

	for _, b := range report.Timeline {
		fmt.Fprintf(w, "%s  errors=%d warnings=%d info=%d\n",
			b.Hour.UTC().Format(hourLayout), b.Error, b.Warning, b.Info)
		for _, ev := range b.Events {
			fmt.Fprintf(w, "  %s %-7s %s: %s\n",
				ev.Timestamp.UTC().Format("15:04:05"), ev.Severity, ev.Service, ev.Summary)
		}
	}
}

func (f *TextFormatter) formatMetrics(report *Report, w io.Writer) {
	c := report.Counts
	fmt.Fprintf(w, "Errors:   %s\n", humanize.Comma(int64(c.Error)))
	fmt.Fprintf(w, "Warnings: %s\n", humanize.Comma(int64(c.Warning)))
	fmt.Fprintf(w, "Info:     %s\n", humanize.Comma(int64(c.Info)))

	em := report.Enhanced
	if em == nil {
		return
	}

	fmt.Fprintln(w)
	if len(em.Anomalies) == 0 {
		fmt.Fprintln(w, "No anomalies detected")
	} else {
		fmt.Fprintf(w, "Anomalies (%d):\n", len(em.Anomalies))
		table := newTable(w, "Hour", "Type", "Errors", "Expected")
		for _, ev := range em.Anomalies {
			table.Append([]string{
				ev.HourBucket.UTC().Format(hourLayout),
				string(ev.Kind),
				strconv.Itoa(ev.ObservedCount),
				strconv.FormatFloat(ev.ExpectedCount, 'f', 2, 64),
			})
		}
		table.Render()
	}

	if f.opts.Verbose && len(em.ServiceMetrics) > 0 {
		fmt.Fprintln(w)
		table := newTable(w, "Service", "Severity", "Count")
		for _, m := range em.ServiceMetrics {
			table.Append([]string{m.Service, string(m.Severity), strconv.Itoa(m.Count)})
		}
		table.Render()
	}
}

// relative renders t relative to now, or nothing when now is unset.
func relative(t, now time.Time) string {
	if now.IsZero() {
		return ""
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func (f *TextFormatter) formatAnalysis(report *Report, w io.Writer) {
	a := report.Analysis
	fmt.Fprintf(w, "Analysis of %d log lines (%s)\n\n%s\n", a.Lines, a.Origin, a.Text)
	switch {
	case report.AlertSent:
		fmt.Fprintln(w, "\nAlert sent to webhooks")
	case a.AlertWorthy:
		fmt.Fprintln(w, "\nAlert worthy, not sent")
	}
}
