package core

import (
	"context"
	"fmt"

	"waitroom-intake/internal/llm"
	"waitroom-intake/pkg"
)

// CollectSymptoms records the patient's input and an interview reply.  Once
// the patient turn count exceeds SymptomTurns, symptoms count as collected.
// After that, or without pending input, it is a no-op.
func (p *Phases) CollectSymptoms(ctx context.Context, s *Session) bool {
	if s.symptomsCollected || !s.hasInput() || !p.invokedAs(s, ActionCollectSymptoms) {
		return false
	}
	input := s.takeInput()
	at := p.opts.Now()

	reply, err := complete(ctx, p.LLM, p.opts.ReasoningTimeout, llm.PurposeChat,
		llm.System(SymptomPrompt),
		llm.User(fmt.Sprintf("Conversation history:\n%s\nPatient input: %s", formatHistory(s.history), input)),
	)
	if err != nil {
		p.log.Warn("symptom reply failed, using fallback", "session", s.id, "error", err)
		reply = fallbackSymptomReply
	}

	s.appendRecord(pkg.RolePatient, input, at)
	s.appendRecord(pkg.RoleBot, reply, p.opts.Now())

	if turns := s.humanTurns(); turns > p.opts.SymptomTurns {
		s.symptomsCollected = true
		p.log.Info("symptoms collected", "session", s.id, "patient_turns", turns)
	}
	return true
}
