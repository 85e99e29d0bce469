package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"waitroom-intake/internal/document"
	"waitroom-intake/internal/llm"
)

// hangingLLM blocks until its context ends, like a backend that never answers.
var hangingLLM = llm.ClientFunc(func(ctx context.Context, _ llm.Request) (string, error) {
	<-ctx.Done()
	return "", fmt.Errorf("%w: %v", llm.ErrTimeout, ctx.Err())
})

type hangingExtractor struct{}

func (hangingExtractor) Extract(ctx context.Context, ref string) (string, error) {
	<-ctx.Done()
	return "", &document.Error{Kind: document.Unreadable, Ref: ref, Err: ctx.Err()}
}

func shortTimeouts() Options {
	o := testOptions()
	o.ReasoningTimeout = 10 * time.Millisecond
	o.DocumentTimeout = 10 * time.Millisecond
	return o
}

func TestSupervisorHangingBackendTimesOut(t *testing.T) {
	sup := NewSupervisor(hangingLLM, shortTimeouts())
	start := time.Now()
	got := sup.Decide(context.Background(), View{SymptomsCollected: true})
	if got != FailSafe {
		t.Errorf("Decide = %q, want %q", got, FailSafe)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("Decide took %v", d)
	}
}

func TestOrchestratorHangingPortsDegrade(t *testing.T) {
	o := NewOrchestrator(hangingLLM, hangingExtractor{}, shortTimeouts())
	s := o.NewSession("hang")
	start := time.Now()

	for i := 0; i < 6; i++ {
		turn := step(t, o, s, Text("chest tightness"))
		if turn.Reply != fallbackSymptomReply {
			t.Fatalf("turn %d reply = %q, want fallback", i+1, turn.Reply)
		}
	}
	if !s.SymptomsCollected() {
		t.Fatal("symptoms not collected")
	}

	turn := step(t, o, s, Report("labs.docx"))
	if !s.reportFailed || s.ReportProcessed() {
		t.Errorf("reportFailed=%v processed=%v, want failed and unprocessed", s.reportFailed, s.ReportProcessed())
	}
	if !turn.Done || turn.Action != ActionExit || turn.Summary == nil {
		t.Fatalf("turn = %+v, want a finished intake with a summary", turn)
	}
	if d := time.Since(start); d > 5*time.Second {
		t.Errorf("intake took %v", d)
	}
}
