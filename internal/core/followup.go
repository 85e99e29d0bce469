package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"waitroom-intake/internal/llm"
	"waitroom-intake/pkg"
)

// FollowUp generates a check-in from the history and the time since the last
// follow-up.  Pending input is recorded first so it is not lost.  A patient
// question about a processed report is answered from the report text instead.
func (p *Phases) FollowUp(ctx context.Context, s *Session) bool {
	if !p.invokedAs(s, ActionFollowUp) {
		return false
	}
	now := p.opts.Now()
	in := s.takeInput()
	if in != "" {
		s.appendRecord(pkg.RolePatient, in, now)
	}
	if in != "" && s.reportText != "" && asksAboutReport(in) {
		p.answerReportQuestion(ctx, s, in)
		return true
	}

	last := "never"
	if s.lastFollowUp != nil {
		last = fmt.Sprintf("%s (%s ago)", s.lastFollowUp.Format(time.RFC3339), now.Sub(*s.lastFollowUp).Round(time.Second))
	}
	text, err := complete(ctx, p.LLM, p.opts.ReasoningTimeout, llm.PurposeFollowUp,
		llm.System(FollowUpPrompt),
		llm.User(fmt.Sprintf("Last follow-up: %s\nConversation history:\n%s", last, formatHistory(s.history))),
	)
	if err != nil {
		p.log.Warn("follow-up failed, using fallback", "session", s.id, "error", err)
		text = fallbackFollowUp
	}
	s.appendRecord(pkg.RoleBot, text, p.opts.Now())
	s.lastFollowUp = &now
	return true
}

func asksAboutReport(in string) bool {
	return strings.Contains(strings.ToLower(in), "report")
}

func (p *Phases) answerReportQuestion(ctx context.Context, s *Session, question string) {
	answer, err := complete(ctx, p.LLM, p.opts.ReasoningTimeout, llm.PurposeReport,
		llm.System(ReportQuestionPrompt),
		llm.User(fmt.Sprintf("Report:\n%s\n\nQuestion: %s", s.reportText, question)),
	)
	if err != nil {
		p.log.Warn("report question failed, using fallback", "session", s.id, "error", err)
		answer = fallbackReportAnswer
	}
	s.appendRecord(pkg.RoleBot, answer, p.opts.Now())
}
