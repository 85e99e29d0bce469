package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"waitroom-intake/internal/config"
	"waitroom-intake/internal/core"
	"waitroom-intake/internal/document"
	httpapi "waitroom-intake/internal/http"
	"waitroom-intake/internal/intake"
	"waitroom-intake/internal/llm"
	"waitroom-intake/pkg"
)

var scripted = llm.ClientFunc(func(_ context.Context, req llm.Request) (string, error) {
	switch req.Purpose {
	case llm.PurposeDecision:
		return "process_report", nil
	case llm.PurposeQuestions:
		return "1. Any dizziness when standing?", nil
	case llm.PurposeSummary:
		return "Urgency level: Routine.", nil
	}
	return "Understood.", nil
})

func testManager(t *testing.T) *intake.Manager {
	t.Helper()
	orig := newReasoningClient
	newReasoningClient = func(llm.Config) (llm.Client, error) { return scripted, nil }
	t.Cleanup(func() { newReasoningClient = orig })

	b := &backend{Store: intake.NewMemoryStore(), Notifier: intake.NewBroadcaster()}
	m, err := newManager(config.Default(), document.NewFileExtractor(""), b)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestChatLoopWithReport(t *testing.T) {
	m := testManager(t)
	report := filepath.Join(t.TempDir(), "labs.txt")
	if err := os.WriteFile(report, []byte("Sodium 128 mmol/L (low)"), 0o644); err != nil {
		t.Fatal(err)
	}
	input := strings.Repeat("headache\n", 6) + report + "\nyes\n"
	var out bytes.Buffer
	if err := chatLoop(context.Background(), m, strings.NewReader(input), &out, chatOptions{plain: true}); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{
		"Assistant: " + core.FirstMessage,
		"Question: " + core.ReportRequestMessage,
		"Question: Any dizziness when standing?",
		"Consultation Summary for Doctor",
		"Sodium 128 mmol/L",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n%s", want, got)
		}
	}
}

func TestChatLoopSkipsReportOnEmptyLine(t *testing.T) {
	m := testManager(t)
	input := strings.Repeat("cough\n", 6) + "\n"
	var out bytes.Buffer
	if err := chatLoop(context.Background(), m, strings.NewReader(input), &out, chatOptions{plain: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), core.NoReportMarker) {
		t.Errorf("summary without report marker:\n%s", out.String())
	}
}

func TestChatLoopReportFlag(t *testing.T) {
	m := testManager(t)
	var out bytes.Buffer
	opts := chatOptions{plain: true, report: filepath.Join(t.TempDir(), "missing.docx")}
	input := strings.Repeat("fatigue\n", 6)
	if err := chatLoop(context.Background(), m, strings.NewReader(input), &out, opts); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "the file was not found") {
		t.Errorf("missing diagnostic:\n%s", out.String())
	}
}

func TestLLMConfigRoutesPurposes(t *testing.T) {
	c := config.Default()
	c.OpenAI.APIKey = "sk-test"
	c.OpenAI.SupervisorModel = "gpt-4o"
	c.OpenAI.AnalysisModel = "gpt-4o-mini"
	c.OpenAI.SummaryModel = "gpt-4o"
	got := llmConfig(c)
	want := map[llm.Purpose]string{
		llm.PurposeDecision:  "gpt-4o",
		llm.PurposeChat:      "gpt-4o-mini",
		llm.PurposeFollowUp:  "gpt-4o-mini",
		llm.PurposeReport:    "gpt-4o-mini",
		llm.PurposeQuestions: "gpt-4o-mini",
		llm.PurposeAnalysis:  "gpt-4o-mini",
		llm.PurposeSummary:   "gpt-4o",
	}
	if diff := cmp.Diff(want, got.Models); diff != "" {
		t.Errorf("models (-want +got):\n%s", diff)
	}
	if got.APIKey != "sk-test" || got.DefaultModel != "gpt-4o-mini" {
		t.Errorf("config = %+v", got)
	}
}

func TestCoreOptionsFromConfig(t *testing.T) {
	c := config.Default()
	c.Intake.MessageCap = 12
	c.Intake.TerminationKeyword = "terminate"
	got := coreOptions(c)
	if got.MessageCap != 12 || got.TerminationKeyword != "terminate" || got.ReasoningTimeout != 30*time.Second {
		t.Errorf("options = %+v", got)
	}
}

func TestRenderSessions(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	previews := []pkg.DoctorSessionPreview{
		{SessionID: "a1", NextAction: "exit", CreatedAt: created, ClosedAt: &created, KeyPoints: []string{"Chief complaint: cough"}},
		{SessionID: "b2", NextAction: "collect_symptoms", CreatedAt: created},
	}
	out := renderSessions(previews, map[string]int{"a1": 6, "b2": 1}, "ascii")
	for _, want := range []string{"a1", "b2", "Chief complaint: cough", "2024-03-01 09:00:00", "collect_symptoms"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q\n%s", want, out)
		}
	}
	md := renderSessions(previews, nil, "markdown")
	if !strings.Contains(md, "| a1 |") {
		t.Errorf("markdown table:\n%s", md)
	}
}

func TestExtractCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("Potassium 3.1 mmol/L"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"extract", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil); rootCmd.SetErr(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Potassium 3.1") {
		t.Errorf("output = %q", out.String())
	}

	rootCmd.SetArgs([]string{"extract", filepath.Join(t.TempDir(), "nope.pdf")})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "file not found") {
		t.Errorf("err = %v", err)
	}
}

func TestServerShutdownEndsSummaryStreams(t *testing.T) {
	m := testManager(t)
	id, _, err := m.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := newHTTPServer(ctx, ln.Addr().String(), httpapi.NewServer(m, t.TempDir(), 1<<20))
	go srv.Serve(ln)

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/doctor/sessions/" + id + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown with an open stream: %v", err)
	}
}
