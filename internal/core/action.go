package core

import "strings"

// Action is one of the closed set of phases the intake can be in.
type Action string

const (
	ActionCollectSymptoms  Action = "collect_symptoms"
	ActionProcessReport    Action = "process_report"
	ActionClarifyQuestions Action = "clarify_questions"
	ActionFollowUp         Action = "follow_up"
	ActionSummarize        Action = "summarize"
	ActionExit             Action = "exit"
)

// FailSafe is substituted whenever a decision is invalid or the reasoning
// backend fails.
const FailSafe = ActionCollectSymptoms

var actions = []Action{
	ActionCollectSymptoms,
	ActionProcessReport,
	ActionClarifyQuestions,
	ActionFollowUp,
	ActionSummarize,
	ActionExit,
}

// Valid reports whether a is in the closed action set.
func (a Action) Valid() bool {
	for _, v := range actions {
		if a == v {
			return true
		}
	}
	return false
}

func (a Action) String() string { return string(a) }

// ParseAction maps free text from the reasoning backend onto the allow-list.
// Only an exact match (ignoring case, surrounding whitespace, quotes, and
// trailing punctuation) is accepted; anything else reports false.
func ParseAction(s string) (Action, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, "`'\"*.!:; \t\r\n")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	a := Action(s)
	if !a.Valid() {
		return "", false
	}
	return a, true
}
