package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"waitroom-intake/internal/llm"
	"waitroom-intake/internal/logging"
)

// Supervisor picks the next phase after every turn.  Deterministic rules are
// evaluated first; the reasoning backend is consulted only when none fires,
// and its answer must pass the allow-list and the exit gate.
type Supervisor struct {
	LLM  llm.Client
	opts Options
	log  *slog.Logger
}

// NewSupervisor constructs a Supervisor.
func NewSupervisor(client llm.Client, opts Options) *Supervisor {
	return &Supervisor{LLM: client, opts: opts.withDefaults(), log: logging.New("supervisor")}
}

// Decide returns the next action for v.  It never fails: backend errors and
// invalid answers degrade to FailSafe.
func (s *Supervisor) Decide(ctx context.Context, v View) Action {
	if action, rule, ok := s.deterministic(v); ok {
		s.log.Debug("deterministic decision", "rule", rule, "action", string(action))
		return action
	}

	answer, err := complete(ctx, s.LLM, s.opts.ReasoningTimeout, llm.PurposeDecision,
		llm.System(fmt.Sprintf(SupervisorPrompt, v.SymptomsCollected, reportStatus(v), v.PendingQuestions, v.HistoryLen, v.HumanTurns)),
		llm.User("Recent conversation:\n"+formatRecent(v.Recent)),
	)
	if err != nil {
		s.log.Warn("reasoning backend failed, using fail-safe", "error", err)
		return FailSafe
	}
	action, ok := ParseAction(answer)
	if !ok {
		s.log.Warn("rejected decision outside allow-list", "answer", truncate(answer, 80))
		return FailSafe
	}
	validated := validate(v, action)
	s.log.Info("consulted decision", "answer", string(action), "action", string(validated))
	return validated
}

// deterministic applies the short-circuit rules in priority order.
func (s *Supervisor) deterministic(v View) (Action, string, bool) {
	switch {
	case v.Summarized && v.SymptomsCollected:
		return ActionExit, "summary-ready", true
	case !v.SymptomsCollected:
		return ActionCollectSymptoms, "symptoms-incomplete", true
	case v.ReportPending:
		return ActionProcessReport, "report-pending", true
	case v.ExitRequested:
		return ActionSummarize, "exit-requested", true
	case v.HumanTurns >= s.opts.MessageCap:
		return ActionSummarize, "message-cap", true
	case v.PendingQuestions > 0:
		return ActionClarifyQuestions, "questions-pending", true
	case v.ReportResolved():
		return ActionSummarize, "intake-complete", true
	}
	return "", "", false
}

// validate applies the exit gate to a parsed answer.
func validate(v View, a Action) Action {
	if !a.Valid() {
		return FailSafe
	}
	if a == ActionExit {
		if !v.SymptomsCollected {
			return FailSafe
		}
		if !v.Summarized {
			return ActionSummarize
		}
	}
	return a
}

func reportStatus(v View) string {
	switch {
	case v.ReportPending:
		return "Uploaded"
	case v.ReportProcessed:
		return "Processed"
	case v.ReportFailed:
		return "Unreadable"
	case v.ReportDeclined:
		return "Declined"
	}
	return "None"
}

func formatRecent(recs []Record) string {
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, fmt.Sprintf("%s: %s", speakerLabel(r.Speaker), r.Text))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
