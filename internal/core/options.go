package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"waitroom-intake/internal/llm"
)

// Options holds the per-deployment knobs of the state machine.
type Options struct {
	// SymptomTurns is the number of patient turns that must be exceeded
	// before symptoms count as collected.
	SymptomTurns int
	// MessageCap bounds the patient turns of one session; reaching it routes
	// to Summarize.
	MessageCap int
	// MaxQuestions caps the verification questions kept per report; 0 keeps
	// all of them.
	MaxQuestions       int
	TerminationKeyword string
	MaxCyclesPerTurn   int
	ReasoningTimeout   time.Duration
	DocumentTimeout    time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultOptions returns the defaults used by the service.
func DefaultOptions() Options {
	return Options{
		SymptomTurns:       5,
		MessageCap:         50,
		MaxQuestions:       5,
		TerminationKeyword: "exit",
		MaxCyclesPerTurn:   8,
		ReasoningTimeout:   30 * time.Second,
		DocumentTimeout:    10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SymptomTurns <= 0 {
		o.SymptomTurns = d.SymptomTurns
	}
	if o.MessageCap <= 0 {
		o.MessageCap = d.MessageCap
	}
	if o.MaxQuestions < 0 {
		o.MaxQuestions = d.MaxQuestions
	}
	if strings.TrimSpace(o.TerminationKeyword) == "" {
		o.TerminationKeyword = d.TerminationKeyword
	}
	if o.MaxCyclesPerTurn <= 0 {
		o.MaxCyclesPerTurn = d.MaxCyclesPerTurn
	}
	if o.ReasoningTimeout <= 0 {
		o.ReasoningTimeout = d.ReasoningTimeout
	}
	if o.DocumentTimeout <= 0 {
		o.DocumentTimeout = d.DocumentTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// complete calls the reasoning backend under a timeout and rejects blank
// answers.
func complete(ctx context.Context, client llm.Client, timeout time.Duration, purpose llm.Purpose, msgs ...llm.Message) (string, error) {
	if client == nil {
		return "", fmt.Errorf("%w: no client configured", llm.ErrUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := client.Complete(ctx, llm.Request{Purpose: purpose, Messages: msgs})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty answer", llm.ErrMalformedOutput)
	}
	return out, nil
}
