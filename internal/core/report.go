package core

import (
	"context"
	"errors"
	"fmt"

	"waitroom-intake/internal/document"
	"waitroom-intake/internal/llm"
	"waitroom-intake/pkg"
)

// ProcessReport extracts the pending report exactly once.  On success the
// text is kept, an overview is added to the history and the verification
// questions are generated.  On failure a diagnostic entry is added and the
// reference is dropped so the same file is not retried.
func (p *Phases) ProcessReport(ctx context.Context, s *Session) bool {
	if s.reportRef == "" || s.reportText != "" || !p.invokedAs(s, ActionProcessReport) {
		return false
	}
	ref := s.reportRef
	text, err := p.extract(ctx, ref)
	s.reportRef = ""

	if err != nil {
		kind := document.KindOf(err)
		s.reportFailed = true
		s.appendRecord(pkg.RoleSystem, fmt.Sprintf(reportFailureTemplate, describeKind(kind)), p.opts.Now())
		p.log.Warn("report extraction failed", "session", s.id, "ref", ref, "kind", string(kind), "error", err)
		return true
	}

	s.reportText = text
	s.reportProcessed = true
	p.log.Info("report processed", "session", s.id, "ref", ref, "chars", len(text))

	overview, err := complete(ctx, p.LLM, p.opts.ReasoningTimeout, llm.PurposeReport,
		llm.System(ReportOverviewPrompt), llm.User(text))
	if err != nil {
		p.log.Warn("report overview failed, using fallback", "session", s.id, "error", err)
		overview = fallbackReportReply
	}
	s.reportAnalysis = overview
	s.appendRecord(pkg.RoleBot, overview, p.opts.Now())

	if !s.questionsGenerated && len(s.generated) == 0 {
		p.generateQuestions(ctx, s)
	}
	return true
}

func (p *Phases) extract(ctx context.Context, ref string) (string, error) {
	if p.Docs == nil {
		return "", &document.Error{Kind: document.Unreadable, Ref: ref, Err: errors.New("no document extractor configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.DocumentTimeout)
	defer cancel()
	return p.Docs.Extract(ctx, ref)
}

func describeKind(k document.Kind) string {
	switch k {
	case document.NotFound:
		return "the file was not found"
	case document.EmptyContent:
		return "the file appears to be empty"
	}
	return "the file could not be read"
}
