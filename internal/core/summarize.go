package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"waitroom-intake/internal/llm"
	"waitroom-intake/pkg"
)

// Summarize builds the final doctor-facing document from the session.  It
// reads the session only; the Orchestrator attaches the result.  When the
// backend fails the narrative falls back to a fixed note and the structured
// sections are still produced.
func (p *Phases) Summarize(ctx context.Context, s *Session) *pkg.Summary {
	narrative, err := complete(ctx, p.LLM, p.opts.ReasoningTimeout, llm.PurposeSummary,
		llm.System(SummaryPrompt), llm.User(summaryInput(s)))
	if err != nil {
		p.log.Warn("summary narrative failed, using fallback", "session", s.id, "error", err)
		narrative = fallbackNarrative
	}

	sum := &pkg.Summary{
		SessionID:       s.id,
		KeyPoints:       keyPoints(s),
		FreeText:        narrative,
		ReportSubmitted: s.reportText != "",
		ReportText:      s.reportText,
		Clarifications:  slices.Clone(s.clarifications),
		UpdatedAt:       p.opts.Now(),
	}
	if !sum.ReportSubmitted {
		sum.ReportText = NoReportMarker
	}
	sum.Document = renderDocument(s, sum)
	return sum
}

func summaryInput(s *Session) string {
	var b strings.Builder
	b.WriteString("Conversation:\n")
	b.WriteString(formatHistory(s.history))
	b.WriteString("\nTest report:\n")
	if s.reportText != "" {
		b.WriteString(s.reportText)
	} else {
		b.WriteString(NoReportMarker)
	}
	if len(s.clarifications) > 0 {
		b.WriteString("\n\nVerification answers:\n")
		for _, c := range s.clarifications {
			fmt.Fprintf(&b, "- %s -> %s (%s)\n", c.Question, c.Answer, c.Analysis)
		}
	}
	return b.String()
}

func keyPoints(s *Session) []string {
	var points []string
	for _, r := range s.history {
		if r.Speaker == pkg.RolePatient {
			points = append(points, "Chief complaint: "+truncate(r.Text, 120))
			break
		}
	}
	points = append(points, fmt.Sprintf("Patient turns: %d", s.humanTurns()))
	switch {
	case s.reportProcessed:
		points = append(points, "Test report processed")
	case s.reportFailed:
		points = append(points, "Test report could not be read")
	default:
		points = append(points, NoReportMarker)
	}
	if n := len(s.generated); n > 0 {
		points = append(points, fmt.Sprintf("Verification questions answered: %d of %d", len(s.clarifications), n))
	}
	return points
}

func renderDocument(s *Session, sum *pkg.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consultation Summary for Doctor\nSession: %s\nGenerated: %s\n", s.id, sum.UpdatedAt.Format(time.RFC3339))

	b.WriteString("\n== Clinical Summary ==\n")
	b.WriteString(sum.FreeText)
	b.WriteString("\n\n== Key Points ==\n")
	for _, kp := range sum.KeyPoints {
		fmt.Fprintf(&b, "- %s\n", kp)
	}

	b.WriteString("\n== Test Findings ==\n")
	if s.reportAnalysis != "" {
		b.WriteString(s.reportAnalysis)
		b.WriteString("\n\n")
	}
	b.WriteString(sum.ReportText)
	b.WriteString("\n")

	b.WriteString("\n== Clarifications ==\n")
	if len(sum.Clarifications) == 0 {
		b.WriteString("None\n")
	}
	for i, c := range sum.Clarifications {
		fmt.Fprintf(&b, "%d. Q: %s\n   A: %s\n   Analysis: %s\n", i+1, c.Question, c.Answer, c.Analysis)
	}

	b.WriteString("\n== Transcript ==\n")
	b.WriteString(formatHistory(s.history))
	return b.String()
}
