package core

import (
	"log/slog"
	"strings"

	"waitroom-intake/internal/document"
	"waitroom-intake/internal/llm"
	"waitroom-intake/internal/logging"
	"waitroom-intake/pkg"
)

// Phases bundles the phase handlers and the ports they call.  Handlers
// report whether they changed the session; they never pick the next phase.
type Phases struct {
	LLM  llm.Client
	Docs document.Extractor
	opts Options
	log  *slog.Logger
}

// NewPhases constructs the phase handlers.
func NewPhases(client llm.Client, docs document.Extractor, opts Options) *Phases {
	return &Phases{LLM: client, Docs: docs, opts: opts.withDefaults(), log: logging.New("phases")}
}

// invokedAs confirms the Supervisor routed the session to a.
func (p *Phases) invokedAs(s *Session, a Action) bool {
	if s.nextAction == a {
		return true
	}
	p.log.Warn("handler invoked out of turn", "handler", string(a), "next_action", string(s.nextAction))
	return false
}

func speakerLabel(r pkg.MessageRole) string {
	switch r {
	case pkg.RolePatient:
		return "Patient"
	case pkg.RoleBot:
		return "Assistant"
	case pkg.RoleVerification:
		return "Asked"
	case pkg.RoleAnalysis:
		return "Analysis"
	case pkg.RoleSystem:
		return "System"
	}
	return string(r)
}

func formatHistory(recs []Record) string {
	var b strings.Builder
	for _, r := range recs {
		b.WriteString(speakerLabel(r.Speaker))
		b.WriteString(": ")
		b.WriteString(r.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
