package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"waitroom-intake/pkg"
)

var (
	ErrSessionClosed          = errors.New("session closed")
	ErrReportAlreadyProcessed = errors.New("report already processed for this session")
	ErrInvalidSnapshot        = errors.New("invalid session snapshot")
)

// Record is one entry of the conversation history.
type Record struct {
	Speaker   pkg.MessageRole `json:"speaker"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
}

// Session is the single mutable record threaded through every phase of one
// patient conversation.  It is not safe for concurrent use; the owner
// serialises Step calls.
type Session struct {
	id        string
	createdAt time.Time

	history []Record

	reportRef      string
	reportText     string
	reportAnalysis string
	reportFailed   bool
	reportDeclined bool

	generated []string
	asked     int // pending questions are generated[asked:]

	questionsGenerated bool
	clarifications     []pkg.Clarification

	symptomsCollected bool
	reportProcessed   bool
	lastFollowUp      *time.Time
	exitRequested     bool

	nextAction   Action
	pendingInput string

	summary *pkg.Summary
	done    bool
}

// NewSession opens a session and records the greeting.
func NewSession(id string, now time.Time) *Session {
	s := &Session{id: id, createdAt: now, nextAction: ActionCollectSymptoms}
	s.appendRecord(pkg.RoleBot, FirstMessage, now)
	return s
}

func (s *Session) ID() string { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) NextAction() Action { return s.nextAction }
func (s *Session) SymptomsCollected() bool { return s.symptomsCollected }
func (s *Session) ReportProcessed() bool { return s.reportProcessed }
func (s *Session) Done() bool { return s.done }
func (s *Session) Len() int { return len(s.history) }

// Summary returns the final summary, or nil before Summarize ran.
func (s *Session) Summary() *pkg.Summary { return s.summary }

// History returns a copy of the conversation history.
func (s *Session) History() []Record { return slices.Clone(s.history) }

// PendingQuestions returns the verification questions not yet asked.
func (s *Session) PendingQuestions() []string { return slices.Clone(s.generated[s.asked:]) }

// GeneratedQuestions returns every verification question produced for the report.
func (s *Session) GeneratedQuestions() []string { return slices.Clone(s.generated) }

func (s *Session) appendRecord(speaker pkg.MessageRole, text string, at time.Time) {
	s.history = append(s.history, Record{Speaker: speaker, Text: text, Timestamp: at})
}

func (s *Session) hasInput() bool { return s.pendingInput != "" }

// takeInput returns the pending input and clears it.
func (s *Session) takeInput() string {
	in := s.pendingInput
	s.pendingInput = ""
	return in
}

func (s *Session) humanTurns() int {
	n := 0
	for _, r := range s.history {
		if r.Speaker == pkg.RolePatient {
			n++
		}
	}
	return n
}

func (s *Session) reportResolved() bool {
	return s.reportProcessed || s.reportFailed || s.reportDeclined
}

func (s *Session) nextQuestion() (string, bool) {
	if s.asked >= len(s.generated) {
		return "", false
	}
	return s.generated[s.asked], true
}

// setReportRef records a new upload.  A pending reference is replaced.
func (s *Session) setReportRef(ref string) error {
	if s.reportText != "" {
		return ErrReportAlreadyProcessed
	}
	s.reportRef = ref
	return nil
}

// View is the read-only picture the Supervisor decides on.
type View struct {
	SymptomsCollected  bool
	ReportPending      bool
	ReportProcessed    bool
	ReportFailed       bool
	ReportDeclined     bool
	QuestionsGenerated bool
	PendingQuestions   int
	GeneratedQuestions int
	HistoryLen         int
	HumanTurns         int
	ExitRequested      bool
	Summarized         bool
	LastFollowUp       *time.Time
	// Recent holds at most the last three history entries, oldest first.
	Recent             []Record
}

// ReportResolved is true once the report question is settled one way or
// another: processed, failed, or declined.
func (v View) ReportResolved() bool {
	return v.ReportProcessed || v.ReportFailed || v.ReportDeclined
}

// View returns a snapshot of the flags and counts plus the last 3 entries.
func (s *Session) View() View {
	from := max(len(s.history)-3, 0)
	v := View{
		SymptomsCollected:  s.symptomsCollected,
		ReportPending:      s.reportRef != "",
		ReportProcessed:    s.reportProcessed,
		ReportFailed:       s.reportFailed,
		ReportDeclined:     s.reportDeclined,
		QuestionsGenerated: s.questionsGenerated,
		PendingQuestions:   len(s.generated) - s.asked,
		GeneratedQuestions: len(s.generated),
		HistoryLen:         len(s.history),
		HumanTurns:         s.humanTurns(),
		ExitRequested:      s.exitRequested,
		Summarized:         s.summary != nil,
		Recent:             slices.Clone(s.history[from:]),
	}
	if s.lastFollowUp != nil {
		t := *s.lastFollowUp
		v.LastFollowUp = &t
	}
	return v
}

// Snapshot is the serialisable form of a Session.
type Snapshot struct {
	ID                 string              `json:"id"`
	CreatedAt          time.Time           `json:"created_at"`
	History            []Record            `json:"history"`
	ReportRef          string              `json:"report_ref,omitempty"`
	ReportText         string              `json:"report_text,omitempty"`
	ReportAnalysis     string              `json:"report_analysis,omitempty"`
	ReportFailed       bool                `json:"report_failed"`
	ReportDeclined     bool                `json:"report_declined"`
	GeneratedQuestions []string            `json:"generated_questions"`
	PendingQuestions   []string            `json:"pending_questions"`
	QuestionsGenerated bool                `json:"questions_generated"`
	Clarifications     []pkg.Clarification `json:"clarifications"`
	SymptomsCollected  bool                `json:"symptoms_collected"`
	ReportProcessed    bool                `json:"report_processed"`
	LastFollowUp       *time.Time          `json:"last_follow_up,omitempty"`
	ExitRequested      bool                `json:"exit_requested"`
	NextAction         Action              `json:"next_action"`
	PendingUserInput   string              `json:"pending_user_input,omitempty"`
	Summary            *pkg.Summary        `json:"summary,omitempty"`
	Done               bool                `json:"done"`
}

// Snapshot returns a deep copy of the session state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:                 s.id,
		CreatedAt:          s.createdAt,
		History:            slices.Clone(s.history),
		ReportRef:          s.reportRef,
		ReportText:         s.reportText,
		ReportAnalysis:     s.reportAnalysis,
		ReportFailed:       s.reportFailed,
		ReportDeclined:     s.reportDeclined,
		GeneratedQuestions: slices.Clone(s.generated),
		PendingQuestions:   slices.Clone(s.generated[s.asked:]),
		QuestionsGenerated: s.questionsGenerated,
		Clarifications:     slices.Clone(s.clarifications),
		SymptomsCollected:  s.symptomsCollected,
		ReportProcessed:    s.reportProcessed,
		ExitRequested:      s.exitRequested,
		NextAction:         s.nextAction,
		PendingUserInput:   s.pendingInput,
		Done:               s.done,
	}
	if s.lastFollowUp != nil {
		t := *s.lastFollowUp
		snap.LastFollowUp = &t
	}
	if s.summary != nil {
		sum := *s.summary
		sum.KeyPoints = slices.Clone(s.summary.KeyPoints)
		sum.Clarifications = slices.Clone(s.summary.Clarifications)
		snap.Summary = &sum
	}
	return snap
}

// MarshalJSON encodes the session as its Snapshot.
func (s *Session) MarshalJSON() ([]byte, error) { return json.Marshal(s.Snapshot()) }

// Restore rebuilds a session from a snapshot, rejecting snapshots that
// violate the session invariants.
func Restore(snap Snapshot) (*Session, error) {
	if snap.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidSnapshot)
	}
	if !snap.NextAction.Valid() {
		return nil, fmt.Errorf("%w: unknown next action %q", ErrInvalidSnapshot, snap.NextAction)
	}
	if snap.ReportRef != "" && snap.ReportText != "" {
		return nil, fmt.Errorf("%w: report reference and report text both set", ErrInvalidSnapshot)
	}
	if snap.ReportProcessed != (snap.ReportText != "") {
		return nil, fmt.Errorf("%w: report processed flag disagrees with report text", ErrInvalidSnapshot)
	}
	n, p := len(snap.GeneratedQuestions), len(snap.PendingQuestions)
	if p > n || !slices.Equal(snap.GeneratedQuestions[n-p:], snap.PendingQuestions) {
		return nil, fmt.Errorf("%w: pending questions are not a suffix of generated questions", ErrInvalidSnapshot)
	}
	s := &Session{
		id:                 snap.ID,
		createdAt:          snap.CreatedAt,
		history:            slices.Clone(snap.History),
		reportRef:          snap.ReportRef,
		reportText:         snap.ReportText,
		reportAnalysis:     snap.ReportAnalysis,
		reportFailed:       snap.ReportFailed,
		reportDeclined:     snap.ReportDeclined,
		generated:          slices.Clone(snap.GeneratedQuestions),
		asked:              n - p,
		questionsGenerated: snap.QuestionsGenerated,
		clarifications:     slices.Clone(snap.Clarifications),
		symptomsCollected:  snap.SymptomsCollected,
		reportProcessed:    snap.ReportProcessed,
		exitRequested:      snap.ExitRequested,
		nextAction:         snap.NextAction,
		pendingInput:       snap.PendingUserInput,
		summary:            snap.Summary,
		done:               snap.Done,
	}
	if snap.LastFollowUp != nil {
		t := *snap.LastFollowUp
		s.lastFollowUp = &t
	}
	return s, nil
}
