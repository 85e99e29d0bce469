package pkg

import "time"

// Session represents a patient intake visit.  It is keyed by a UUID and
// carries the message cap that applied when it was opened.
type Session struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	MessageCap int        `json:"message_cap"`
	NextAction string     `json:"next_action,omitempty"`
}

// MessageRole describes who authored a transcript entry.
type MessageRole string

const (
	RolePatient MessageRole = "patient"
	RoleBot     MessageRole = "bot"
	// RoleVerification marks a report verification question put to the patient.
	RoleVerification MessageRole = "verification"
	// RoleAnalysis marks the one-line analysis of a patient's answer.  It is
	// doctor-facing and never shown to the patient as a reply.
	RoleAnalysis MessageRole = "analysis"
	// RoleSystem marks diagnostics such as an unreadable report.
	RoleSystem MessageRole = "system"
)

// Message represents a transcript entry in a session.
type Message struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// Clarification pairs a report verification question with the patient's
// answer and the analysis of that answer.
type Clarification struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Analysis string `json:"analysis"`
}

// Summary holds the doctor‑facing summary produced when a session ends.
// Document is the rendered, self-contained text handed to the caller.
type Summary struct {
	ID              int64           `json:"id"`
	SessionID       string          `json:"session_id"`
	KeyPoints       []string        `json:"key_points"`
	FreeText        string          `json:"free_text"`
	ReportSubmitted bool            `json:"report_submitted"`
	ReportText      string          `json:"report_text"`
	Clarifications  []Clarification `json:"clarifications"`
	Document        string          `json:"document"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ChatRequest represents a request to send a message from the patient.
type ChatRequest struct {
	Content string `json:"content"`
}

// ReportRequest carries a reference to an already uploaded report.  An empty
// reference or "skip" declines the upload.
type ReportRequest struct {
	Ref string `json:"ref"`
}

// TurnResponse is returned after every patient input.  Awaiting tells the
// client whether the next input should be free text ("text") or a report
// reference ("report"); it is "none" once the session is done.
type TurnResponse struct {
	SessionID string   `json:"session_id"`
	Action    string   `json:"action"`
	Reply     string   `json:"reply,omitempty"`
	Prompt    string   `json:"prompt,omitempty"`
	Awaiting  string   `json:"awaiting"`
	Done      bool     `json:"done"`
	Summary   *Summary `json:"summary,omitempty"`
}

// DoctorSessionPreview is returned in the list of sessions for the doctor
// dashboard.  It includes a few key points and the last update time.
type DoctorSessionPreview struct {
	SessionID   string     `json:"session_id"`
	NextAction  string     `json:"next_action"`
	KeyPoints   []string   `json:"key_points"`
	CreatedAt   time.Time  `json:"created_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	LastMessage *time.Time `json:"last_message,omitempty"`
}
