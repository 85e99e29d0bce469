package core

import (
	"context"
	"log/slog"
	"strings"

	"waitroom-intake/internal/document"
	"waitroom-intake/internal/llm"
	"waitroom-intake/internal/logging"
	"waitroom-intake/pkg"
)

// InputKind says how an external input should be applied to the session.
type InputKind int

const (
	// InputText is free patient text.
	InputText InputKind = iota
	// InputReport is a report reference; empty or "skip" declines the upload.
	InputReport
)

// Input is one external input fed into the session between cycles.
type Input struct {
	Kind InputKind
	Text string
}

// Text wraps patient text as an Input.
func Text(s string) Input { return Input{Kind: InputText, Text: s} }

// Report wraps a report reference as an Input.
func Report(ref string) Input { return Input{Kind: InputReport, Text: ref} }

// Awaiting tells the caller what the session needs next.
type Awaiting string

const (
	AwaitText   Awaiting = "text"
	AwaitReport Awaiting = "report"
	AwaitNone   Awaiting = "none"
)

// Turn is returned to the caller after every Step.
type Turn struct {
	// Action is the last decision taken in the step.
	Action Action
	// Reply is the latest assistant-facing text added during the step.
	Reply string
	// Prompt is what the patient should answer next: the pending
	// verification question, the report request, or a generic nudge.
	Prompt   string
	Awaiting Awaiting
	Done     bool
	Summary  *pkg.Summary
	Cycles   int
}

// Orchestrator drives Supervisor → handler → Supervisor for one session at a
// time.  It holds no per-session state and may be shared between sessions.
type Orchestrator struct {
	Supervisor *Supervisor
	Phases     *Phases
	opts       Options
	log        *slog.Logger
}

// NewOrchestrator wires a Supervisor and the phase handlers to the ports.
func NewOrchestrator(client llm.Client, docs document.Extractor, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		Supervisor: NewSupervisor(client, opts),
		Phases:     NewPhases(client, docs, opts),
		opts:       opts,
		log:        logging.New("orchestrator"),
	}
}

// NewSession opens a session stamped with the orchestrator's clock.
func (o *Orchestrator) NewSession(id string) *Session {
	return NewSession(id, o.opts.Now())
}

// Start returns the greeting that opened s.
func (o *Orchestrator) Start(s *Session) string {
	if len(s.history) == 0 {
		return FirstMessage
	}
	return s.history[0].Text
}

// Step applies in to the session and runs decision cycles until the session
// needs more input, finishes, or MaxCyclesPerTurn is reached.  Cancellation
// is honoured between cycles only; a running handler always completes.
func (o *Orchestrator) Step(ctx context.Context, s *Session, in Input) (*Turn, error) {
	if s.done {
		return nil, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mark := len(s.history)
	if err := o.accept(s, in); err != nil {
		return nil, err
	}

	res := &Turn{Awaiting: AwaitText}
	for res.Cycles < o.opts.MaxCyclesPerTurn {
		if err := ctx.Err(); err != nil {
			o.recordUnrouted(s)
			o.log.Info("session step aborted", "session", s.id, "cycles", res.Cycles)
			return nil, err
		}
		action := o.Supervisor.Decide(ctx, s.View())
		s.nextAction = action
		res.Action = action
		res.Cycles++

		if action == ActionExit {
			if s.summary == nil {
				s.summary = o.Phases.Summarize(ctx, s)
			}
			s.done = true
			break
		}
		progressed, wait := o.dispatch(ctx, s, action)
		if wait != "" {
			res.Awaiting = wait
			break
		}
		if !progressed {
			break
		}
	}
	o.recordUnrouted(s)

	res.Reply = latestReply(s.history[mark:])
	if s.done {
		res.Awaiting = AwaitNone
		res.Done = true
		res.Summary = s.summary
		o.log.Info("session finished", "session", s.id, "history", len(s.history))
		return res, nil
	}
	switch res.Awaiting {
	case AwaitReport:
		res.Prompt = ReportRequestMessage
	case AwaitText:
		if q, ok := s.nextQuestion(); ok && s.symptomsCollected {
			res.Prompt = q
		} else if res.Reply == "" {
			res.Prompt = ContinueMessage
		}
	}
	return res, nil
}

// accept folds one external input into the session.
func (o *Orchestrator) accept(s *Session, in Input) error {
	now := o.opts.Now()
	text := strings.TrimSpace(in.Text)
	if in.Kind == InputReport {
		if text == "" || strings.EqualFold(text, "skip") {
			if s.reportText == "" && s.reportRef == "" && !s.reportDeclined {
				s.reportDeclined = true
				s.appendRecord(pkg.RoleSystem, reportSkippedNote, now)
			}
			return nil
		}
		return s.setReportRef(text)
	}
	if text == "" {
		return nil
	}
	if s.symptomsCollected && strings.EqualFold(text, o.opts.TerminationKeyword) {
		s.exitRequested = true
		s.appendRecord(pkg.RolePatient, text, now)
		return nil
	}
	s.pendingInput = text
	return nil
}

// dispatch runs the handler for a.  A non-empty Awaiting means the handler
// cannot run until the caller supplies that kind of input.
func (o *Orchestrator) dispatch(ctx context.Context, s *Session, a Action) (bool, Awaiting) {
	switch a {
	case ActionCollectSymptoms:
		if !s.symptomsCollected && !s.hasInput() {
			return false, AwaitText
		}
		return o.Phases.CollectSymptoms(ctx, s), ""
	case ActionProcessReport:
		if s.reportRef == "" {
			return false, AwaitReport
		}
		return o.Phases.ProcessReport(ctx, s), ""
	case ActionClarifyQuestions:
		if _, ok := s.nextQuestion(); ok && !s.hasInput() {
			return false, AwaitText
		}
		return o.Phases.ClarifyQuestions(ctx, s), ""
	case ActionFollowUp:
		o.Phases.FollowUp(ctx, s)
		return true, AwaitText
	case ActionSummarize:
		s.summary = o.Phases.Summarize(ctx, s)
		return true, ""
	}
	return false, ""
}

// recordUnrouted keeps input no handler consumed in the history.
func (o *Orchestrator) recordUnrouted(s *Session) {
	if in := s.takeInput(); in != "" {
		s.appendRecord(pkg.RolePatient, in, o.opts.Now())
	}
}

func latestReply(recs []Record) string {
	for i := len(recs) - 1; i >= 0; i-- {
		switch recs[i].Speaker {
		case pkg.RoleBot, pkg.RoleSystem:
			return recs[i].Text
		}
	}
	return ""
}
