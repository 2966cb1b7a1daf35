// Package observability provides logger construction and formatted output for
// the command line.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/minionlabs/minion-api/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for CLI commands
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintJob outputs a summary of a verification job.
func (p *Printer) PrintJob(job *types.VerificationJob) {
	if job == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ID:       %s\n", job.ID))
	sb.WriteString(fmt.Sprintf("Owner:    %s\n", job.OwnerID))
	sb.WriteString(fmt.Sprintf("File:     %s\n", job.FileName))
	sb.WriteString(fmt.Sprintf("Stage:    %s", job.Stage))
	if job.InProgress {
		sb.WriteString(" (in progress)")
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Emails:   %d\n", job.EmailsCount))
	sb.WriteString(fmt.Sprintf("Credits:  %d\n", job.CreditsUsed))

	if s := job.Summary; s != nil {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("Valid:            %d\n", s.Valid))
		sb.WriteString(fmt.Sprintf("Catch-all valid:  %d\n", s.CatchAllValid))
		sb.WriteString(fmt.Sprintf("Invalid:          %d\n", s.Invalid))
		sb.WriteString(fmt.Sprintf("Unknown:          %d\n", s.Unknown))
		if s.ReportURL != "" {
			sb.WriteString(fmt.Sprintf("Report: %s\n", s.ReportURL))
		}
	}

	p.printBox("VERIFICATION JOB", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintCheckpoint outputs the resume point of a stopped job: what has been
// resolved so far and which emails are still waiting, by queue.
func (p *Printer) PrintCheckpoint(cp *types.Checkpoint) {
	if cp == nil {
		return
	}
	stage, _ := types.StageForCode(cp.StageCode)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Stage:    %d (%s)\n", cp.StageCode, stage))
	sb.WriteString(fmt.Sprintf("Resolved: %d  Pending: %d\n", cp.Resolved.Total(), len(cp.Pending)))

	if len(cp.Pending) > 0 {
		byQueue := map[string]int{}
		for _, rec := range cp.Pending {
			q := rec.Queue
			if q == "" {
				q = "unassigned"
			}
			byQueue[q]++
		}
		sb.WriteString("\nPending by queue:\n")
		for _, q := range []string{types.QueueGeneric, types.QueueWorkspace, "unassigned"} {
			if n := byQueue[q]; n > 0 {
				sb.WriteString(fmt.Sprintf("  • %s: %d\n", q, n))
			}
		}

		sb.WriteString("\n")
		count := min(len(cp.Pending), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  %s\n", cp.Pending[i].Address))
		}
		if len(cp.Pending) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(cp.Pending)-maxItemsToShow))
		}
	}

	p.printBox("CHECKPOINT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintPrices outputs the current price of each service.
func (p *Printer) PrintPrices(prices []types.Price) {
	if len(prices) == 0 {
		return
	}

	var sb strings.Builder
	for _, pr := range prices {
		sb.WriteString(fmt.Sprintf("%-22s %6d  (v%d)\n", pr.Service, pr.Amount, pr.Version))
	}
	p.printBox("PRICE BOOK", strings.TrimSuffix(sb.String(), "\n"))
}
