package main

import (
	"context"
	"errors"
	"fmt"

	"waitroom-intake/internal/config"
	"waitroom-intake/internal/core"
	"waitroom-intake/internal/db"
	"waitroom-intake/internal/document"
	"waitroom-intake/internal/intake"
	"waitroom-intake/internal/llm"
)

// newReasoningClient builds the reasoning backend; tests replace it.
var newReasoningClient = func(c llm.Config) (llm.Client, error) {
	client, err := llm.NewOpenAIClient(c)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func coreOptions(c config.Config) core.Options {
	in := c.Intake
	return core.Options{
		SymptomTurns:       in.SymptomTurns,
		MessageCap:         in.MessageCap,
		MaxQuestions:       in.MaxQuestions,
		TerminationKeyword: in.TerminationKeyword,
		MaxCyclesPerTurn:   in.MaxCyclesPerTurn,
		ReasoningTimeout:   in.ReasoningTimeout,
		DocumentTimeout:    in.DocumentTimeout,
	}
}

// llmConfig routes each request purpose to its configured model.
func llmConfig(c config.Config) llm.Config {
	o := c.OpenAI
	return llm.Config{
		APIKey:       o.APIKey,
		BaseURL:      o.BaseURL,
		DefaultModel: o.ChatModel,
		Temperature:  o.Temperature,
		Models: map[llm.Purpose]string{
			llm.PurposeDecision:  o.SupervisorModel,
			llm.PurposeChat:      o.ChatModel,
			llm.PurposeFollowUp:  o.ChatModel,
			llm.PurposeReport:    o.AnalysisModel,
			llm.PurposeQuestions: o.AnalysisModel,
			llm.PurposeAnalysis:  o.AnalysisModel,
			llm.PurposeSummary:   o.SummaryModel,
		},
	}
}

// backend bundles the store and notifier behind one close function.
type backend struct {
	Store    intake.Store
	Notifier intake.Notifier
	Repo     *db.Repository
	close    func() error
}

func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// openBackend uses Postgres when a database URL is configured and an
// in-memory store otherwise.
func openBackend(ctx context.Context, c config.Config) (*backend, error) {
	if c.Database.URL == "" {
		return &backend{Store: intake.NewMemoryStore(), Notifier: intake.NewBroadcaster()}, nil
	}
	conn, err := db.Open(ctx, c.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	repo := db.NewRepository(conn)
	return &backend{
		Store:    repo,
		Notifier: db.NewNotifier(conn, c.Database.URL, c.Database.NotifyChannel),
		Repo:     repo,
		close:    conn.Close,
	}, nil
}

// newManager wires the reasoning backend, the extractor and the store into an
// intake.Manager.
func newManager(c config.Config, docs document.Extractor, b *backend) (*intake.Manager, error) {
	client, err := newReasoningClient(llmConfig(c))
	if err != nil {
		return nil, fmt.Errorf("reasoning backend: %w (set OPENAI_API_KEY)", err)
	}
	orch := core.NewOrchestrator(client, docs, coreOptions(c))
	return intake.NewManager(orch, b.Store, b.Notifier, c.Intake.MessageCap), nil
}

func describeExtractError(ref string, err error) error {
	var derr *document.Error
	if !errors.As(err, &derr) {
		return err
	}
	switch derr.Kind {
	case document.NotFound:
		return fmt.Errorf("%s: file not found", ref)
	case document.EmptyContent:
		return fmt.Errorf("%s: no text content", ref)
	}
	if derr.Err == nil {
		return fmt.Errorf("%s: unreadable", ref)
	}
	return fmt.Errorf("%s: unreadable: %w", ref, derr.Err)
}
