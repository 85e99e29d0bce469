package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"waitroom-intake/internal/core"
	"waitroom-intake/internal/document"
	"waitroom-intake/internal/intake"
	"waitroom-intake/internal/llm"
	"waitroom-intake/pkg"
)

var testLLM = llm.ClientFunc(func(_ context.Context, req llm.Request) (string, error) {
	switch req.Purpose {
	case llm.PurposeDecision:
		return "process_report", nil
	case llm.PurposeQuestions:
		return "1. Do you feel tired?", nil
	case llm.PurposeSummary:
		return "Urgency level: Routine.", nil
	}
	return "Noted.", nil
})

func newTestServer(t *testing.T) (*Server, *intake.MemoryStore) {
	t.Helper()
	dir := t.TempDir()
	store := intake.NewMemoryStore()
	orch := core.NewOrchestrator(testLLM, document.NewFileExtractor(dir), core.DefaultOptions())
	m := intake.NewManager(orch, store, intake.NewBroadcaster(), 50)
	return NewServer(m, dir, 1<<20), store
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, s *Server) string {
	t.Helper()
	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["greeting"] != core.FirstMessage {
		t.Errorf("greeting = %q", body["greeting"])
	}
	return body["session_id"]
}

func postJSON(t *testing.T, s *Server, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(v)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return do(t, s, req)
}

func decodeTurn(t *testing.T, rec *httptest.ResponseRecorder) pkg.TurnResponse {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var turn pkg.TurnResponse
	if err := json.NewDecoder(rec.Body).Decode(&turn); err != nil {
		t.Fatal(err)
	}
	return turn
}

func collectSymptoms(t *testing.T, s *Server, id string) pkg.TurnResponse {
	t.Helper()
	var turn pkg.TurnResponse
	for i := 0; i < 6; i++ {
		turn = decodeTurn(t, postJSON(t, s, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "sore throat"}))
	}
	return turn
}

func TestPostMessageFormAndJSON(t *testing.T) {
	s, _ := newTestServer(t)
	id := createSession(t, s)

	form := url.Values{"content": {"fever"}}
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/messages", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	turn := decodeTurn(t, do(t, s, req))
	if turn.Action != "collect_symptoms" || turn.Awaiting != "text" || turn.Reply != "Noted." {
		t.Errorf("form turn = %+v", turn)
	}

	turn = decodeTurn(t, postJSON(t, s, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "cough"}))
	if turn.SessionID != id {
		t.Errorf("session id = %q", turn.SessionID)
	}

	rec := postJSON(t, s, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d", rec.Code)
	}
}

func TestUnknownSession(t *testing.T) {
	s, _ := newTestServer(t)
	rec := postJSON(t, s, "/api/sessions/missing/messages", pkg.ChatRequest{Content: "hi"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/doctor/sessions/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("doctor status = %d", rec.Code)
	}
	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/nothing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unrouted status = %d", rec.Code)
	}
}

func TestReportUploadFlow(t *testing.T) {
	s, store := newTestServer(t)
	id := createSession(t, s)
	if turn := collectSymptoms(t, s, id); turn.Awaiting != "report" || turn.Prompt != core.ReportRequestMessage {
		t.Fatalf("after symptoms = %+v", turn)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "labs.txt")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("Hemoglobin 10.1 g/dL (low)"))
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/report", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	turn := decodeTurn(t, do(t, s, req))
	if turn.Action != "clarify_questions" || turn.Prompt != "Do you feel tired?" {
		t.Fatalf("after upload = %+v", turn)
	}
	files, _ := filepath.Glob(filepath.Join(s.UploadDir, "*.txt"))
	if len(files) != 1 {
		t.Errorf("uploaded files = %v", files)
	}

	turn = decodeTurn(t, postJSON(t, s, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "yes"}))
	if !turn.Done || turn.Summary == nil || !turn.Summary.ReportSubmitted {
		t.Fatalf("final turn = %+v", turn)
	}

	rec := postJSON(t, s, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "hello"})
	if rec.Code != http.StatusConflict {
		t.Errorf("closed session status = %d", rec.Code)
	}

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/doctor/sessions/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("doctor detail: %d", rec.Code)
	}
	var detail struct {
		Summary    *pkg.Summary  `json:"summary"`
		Transcript []pkg.Message `json:"transcript"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	stored, _ := store.GetTranscript(context.Background(), id)
	if detail.Summary == nil || len(detail.Transcript) != len(stored) {
		t.Errorf("detail summary=%v transcript=%d", detail.Summary, len(detail.Transcript))
	}
}

func TestReportRefOutsideUploadDirRejected(t *testing.T) {
	s, _ := newTestServer(t)
	id := createSession(t, s)
	for _, ref := range []string{"../etc/passwd", "/etc/passwd"} {
		rec := postJSON(t, s, "/api/sessions/"+id+"/report", pkg.ReportRequest{Ref: ref})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", ref, rec.Code)
		}
	}
}

func TestReportSkipFinishes(t *testing.T) {
	s, _ := newTestServer(t)
	id := createSession(t, s)
	collectSymptoms(t, s, id)
	turn := decodeTurn(t, postJSON(t, s, "/api/sessions/"+id+"/report", pkg.ReportRequest{Ref: "skip"}))
	if !turn.Done || turn.Summary.ReportText != core.NoReportMarker {
		t.Errorf("turn = %+v", turn)
	}
}

func TestReportByRef(t *testing.T) {
	s, _ := newTestServer(t)
	id := createSession(t, s)
	collectSymptoms(t, s, id)
	if err := os.WriteFile(filepath.Join(s.UploadDir, "cbc.txt"), []byte("WBC 7.0"), 0o644); err != nil {
		t.Fatal(err)
	}
	form := url.Values{"ref": {"cbc.txt"}}
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/report", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	turn := decodeTurn(t, do(t, s, req))
	if turn.Action != "clarify_questions" {
		t.Errorf("turn = %+v", turn)
	}
}

func TestGetSessionAndDoctorList(t *testing.T) {
	s, _ := newTestServer(t)
	id := createSession(t, s)
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var snap core.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.ID != id || len(snap.History) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/doctor/sessions", nil))
	var previews []pkg.DoctorSessionPreview
	if err := json.NewDecoder(rec.Body).Decode(&previews); err != nil {
		t.Fatal(err)
	}
	if len(previews) != 1 || previews[0].SessionID != id {
		t.Errorf("previews = %+v", previews)
	}
}

func TestDoctorStreamReceivesSummary(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()
	id := createSession(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/doctor/sessions/"+id+"/stream", nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	collectSymptoms(t, s, id)
	postJSON(t, s, "/api/sessions/"+id+"/report", pkg.ReportRequest{Ref: "skip"})

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatal(err)
		}
		if ev["type"] != "summary_update" || ev["session_id"] != id {
			t.Errorf("event = %v", ev)
		}
		return
	}
	t.Fatalf("stream ended without an event: %v", sc.Err())
}
