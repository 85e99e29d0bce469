package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"waitroom-intake/internal/llm"
	"waitroom-intake/pkg"
)

// questionLine matches "- item", "* item", "• item", "1. item" and "1) item".
var questionLine = regexp.MustCompile(`^\s*(?:[-*•]|\d{1,2}[.)])\s+(.*\S)\s*$`)

// ParseQuestions extracts enumerated items from text.  Lines of any other
// shape are ignored.  limit 0 keeps every item.
func ParseQuestions(text string, limit int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		m := questionLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		q := strings.TrimSpace(m[1])
		if q == "" {
			continue
		}
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// generateQuestions fills the question queue from the report text.  It runs
// once per session; zero parsed questions is a soft failure that leaves the
// queue empty.
func (p *Phases) generateQuestions(ctx context.Context, s *Session) {
	s.questionsGenerated = true

	out, err := complete(ctx, p.LLM, p.opts.ReasoningTimeout, llm.PurposeQuestions,
		llm.System(QuestionPrompt), llm.User(s.reportText))
	var qs []string
	if err != nil {
		p.log.Warn("question generation failed", "session", s.id, "error", err)
	} else {
		qs = ParseQuestions(out, p.opts.MaxQuestions)
	}
	if len(qs) == 0 {
		p.log.Warn("no verification questions parsed, proceeding to summary", "session", s.id)
		s.appendRecord(pkg.RoleSystem, noQuestionsNote, p.opts.Now())
		return
	}
	s.generated = qs
	s.asked = 0
	p.log.Info("verification questions generated", "session", s.id, "count", len(qs))
}

// ClarifyQuestions answers the head of the question queue with the pending
// input.  It consumes at most one question per call and is a no-op on an
// empty queue or without input.
func (p *Phases) ClarifyQuestions(ctx context.Context, s *Session) bool {
	q, ok := s.nextQuestion()
	if !ok || !s.hasInput() || !p.invokedAs(s, ActionClarifyQuestions) {
		return false
	}
	answer := s.takeInput()
	at := p.opts.Now()

	analysis, err := complete(ctx, p.LLM, p.opts.ReasoningTimeout, llm.PurposeAnalysis,
		llm.System(ClarifyPrompt),
		llm.User(fmt.Sprintf("Question: %s\nPatient response: %s\nProvide a one-sentence analysis:", q, answer)),
	)
	if err != nil {
		p.log.Warn("answer analysis failed, using fallback", "session", s.id, "error", err)
		analysis = fallbackAnalysis
	}
	// keep the analysis on one line
	analysis = strings.Join(strings.Fields(analysis), " ")

	s.appendRecord(pkg.RoleVerification, q, at)
	s.appendRecord(pkg.RolePatient, answer, at)
	s.appendRecord(pkg.RoleAnalysis, analysis, p.opts.Now())
	s.clarifications = append(s.clarifications, pkg.Clarification{Question: q, Answer: answer, Analysis: analysis})
	s.asked++
	return true
}
