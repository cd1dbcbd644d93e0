// Package observability provides formatted output for the analyze command.
package observability

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/jonathan/tubetrust/internal/pipeline"
	"github.com/jonathan/tubetrust/internal/results"
	"github.com/jonathan/tubetrust/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 72
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 7
	// transcriptPreview is how much of the transcript is printed
	transcriptPreview = 400
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// clip shortens s to n runes, marking the cut with "...".
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

// wrap breaks text into lines of at most width runes on word boundaries.
func wrap(text string, width int) []string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && utf8.RuneCountInString(line.String())+1+utf8.RuneCountInString(word) > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	inner := boxWidth - 4
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %s │\n", pad(title, inner))
	fmt.Fprintf(p.out, "├%s┤\n", border)
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %s │\n", pad(clip(line, inner), inner))
	}
	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// pad right-pads s with spaces to n runes. fmt's width counts bytes.
func pad(s string, n int) string {
	if c := utf8.RuneCountInString(s); c < n {
		return s + strings.Repeat(" ", n-c)
	}
	return s
}

// PrintEvent prints one line of pipeline progress.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintEvent(e pipeline.Event) {
	icon := "…"
	switch e.Status {
	case "completed":
		icon = "✓"
	case "skipped":
		icon = "→"
	case "failed":
		icon = "✗"
	}
	line := fmt.Sprintf("%s %-10s %-9s", icon, e.Stage, e.Status)
	if e.Elapsed > 0 {
		line += fmt.Sprintf(" %6.1fs", e.Elapsed.Seconds())
	}
	if e.Message != "" {
		line += "  " + clip(e.Message, 60)
	}
	fmt.Fprintln(p.out, line)
}

// PrintView prints everything known about a job.
func (p *Printer) PrintView(v *results.View) {
	if v == nil {
		return
	}
	p.printVideo(v)
	switch v.Status {
	case types.JobStatusCompleted:
		p.PrintAnalysis(v.Analysis)
	case types.JobStatusFailed:
		p.printFailure(v.Error)
	}
}

func (p *Printer) printVideo(v *results.View) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Job:       %s (%s)\n", v.JobID, v.Status))
	sb.WriteString(fmt.Sprintf("URL:       %s\n", v.SourceURL))
	if v.Video != nil {
		if v.Video.Title != "" {
			sb.WriteString(fmt.Sprintf("Title:     %s\n", v.Video.Title))
		}
		if v.Video.Channel != "" {
			sb.WriteString(fmt.Sprintf("Channel:   %s\n", v.Video.Channel))
		}
		if v.Video.DurationSeconds > 0 {
			sb.WriteString(fmt.Sprintf("Duration:  %d:%02d\n", v.Video.DurationSeconds/60, v.Video.DurationSeconds%60))
		}
		if v.Video.TranscriptSource != "" {
			sb.WriteString(fmt.Sprintf("Source:    %s\n", v.Video.TranscriptSource))
		}
	}
	sb.WriteString(fmt.Sprintf("Elapsed:   %ds\n", v.ElapsedSeconds))

	if v.Transcript != "" {
		sb.WriteString(fmt.Sprintf("\nTranscript (%d chars):\n", utf8.RuneCountInString(v.Transcript)))
		for _, line := range wrap(clip(v.Transcript, transcriptPreview), boxWidth-6) {
			sb.WriteString("  " + line + "\n")
		}
	}

	p.printBox("VIDEO", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintAnalysis outputs the summary, outline and claims.
func (p *Printer) PrintAnalysis(a *types.Analysis) {
	if a == nil {
		return
	}

	var sb strings.Builder
	for _, line := range wrap(a.OneLiner, boxWidth-4) {
		sb.WriteString(line + "\n")
	}
	sb.WriteString(fmt.Sprintf("\nTrust score: %d/100   Language: %s\n", a.TrustScore, a.Language))
	if a.Model != "" {
		sb.WriteString(fmt.Sprintf("Model: %s\n", a.Model))
	}

	if len(a.BulletPoints) > 0 {
		sb.WriteString("\nKey points:\n")
		for _, b := range a.BulletPoints {
			sb.WriteString(fmt.Sprintf("  • %s\n", b))
		}
	}

	if len(a.Outline) > 0 {
		sb.WriteString("\nOutline:\n")
		count := min(len(a.Outline), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, a.Outline[i]))
		}
		if len(a.Outline) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(a.Outline)-maxItemsToShow))
		}
	}

	if len(a.TrustSignals) > 0 {
		sb.WriteString("\nTrust signals:\n")
		for _, s := range a.TrustSignals {
			sb.WriteString(fmt.Sprintf("  • %s\n", s))
		}
	}

	p.printBox("ANALYSIS", strings.TrimSuffix(sb.String(), "\n"))
	p.printClaims(a.Claims)
}

func (p *Printer) printClaims(claims []types.Claim) {
	if len(claims) == 0 {
		return
	}

	var sb strings.Builder
	for i, c := range claims {
		sb.WriteString(fmt.Sprintf("%d. %s (confidence %d)\n", i+1, c.Text, c.Confidence))
		for _, sc := range c.SpotChecks {
			verdict := sc.Verdict
			if verdict == "" {
				verdict = "unverified"
			}
			sb.WriteString(fmt.Sprintf("   [%s] %s\n", verdict, sc.Summary))
			if sc.URL != "" {
				sb.WriteString(fmt.Sprintf("          %s\n", sc.URL))
			}
		}
		if i < len(claims)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("CLAIMS", strings.TrimSuffix(sb.String(), "\n"))
}

func (p *Printer) printFailure(e *results.JobError) {
	if e == nil {
		return
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Kind: %s\n", e.Kind))
	for _, line := range wrap(e.Message, boxWidth-4) {
		sb.WriteString(line + "\n")
	}
	p.printBox("✗ FAILED", strings.TrimSuffix(sb.String(), "\n"))
}
