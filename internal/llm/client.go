package llm

import (
	"context"
	"errors"
)

// Message is a minimal chat message used by the intake phases.
// Role must be one of: "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// Purpose tells the backend what a request is for so it can route it to a
// suitable model.
type Purpose string

const (
	PurposeDecision  Purpose = "decision"
	PurposeChat      Purpose = "chat"
	PurposeReport    Purpose = "report"
	PurposeQuestions Purpose = "questions"
	PurposeAnalysis  Purpose = "analysis"
	PurposeFollowUp  Purpose = "follow_up"
	PurposeSummary   Purpose = "summary"
)

// Request is one completion request.
type Request struct {
	Purpose  Purpose
	Messages []Message
}

// Client is the reasoning backend.  Implementations return errors wrapping
// one of ErrTimeout, ErrUnavailable or ErrMalformedOutput; callers treat all
// three the same way.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

var (
	ErrTimeout         = errors.New("reasoning backend timed out")
	ErrUnavailable     = errors.New("reasoning backend unavailable")
	ErrMalformedOutput = errors.New("reasoning backend returned malformed output")
)

// System and User build messages with the matching role.
func System(content string) Message { return Message{Role: "system", Content: content} }

func User(content string) Message { return Message{Role: "user", Content: content} }
