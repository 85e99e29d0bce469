package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"waitroom-intake/internal/core"
	"waitroom-intake/internal/intake"
	"waitroom-intake/internal/logging"
	"waitroom-intake/pkg"
)

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to http.ListenAndServe.
type Server struct {
	Manager  *intake.Manager
	Store    intake.Store
	Notifier intake.Notifier
	// UploadDir receives multipart report uploads; report references are
	// resolved inside it.
	UploadDir      string
	MaxUploadBytes int64
	log            *slog.Logger
}

// NewServer constructs a Server.
func NewServer(m *intake.Manager, uploadDir string, maxUpload int64) *Server {
	return &Server{
		Manager:        m,
		Store:          m.Store,
		Notifier:       m.Notifier,
		UploadDir:      uploadDir,
		MaxUploadBytes: maxUpload,
		log:            logging.New("http"),
	}
}

// ServeHTTP dispatches incoming requests based on the URL path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	// POST /api/sessions
	case len(parts) == 2 && parts[0] == "api" && parts[1] == "sessions" && r.Method == http.MethodPost:
		s.handleCreateSession(w, r)
	// GET /api/sessions/{id}
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "sessions" && r.Method == http.MethodGet:
		s.handleGetSession(w, r, parts[2])
	// POST /api/sessions/{id}/messages
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "sessions" && parts[3] == "messages" && r.Method == http.MethodPost:
		s.handlePostMessage(w, r, parts[2])
	// POST /api/sessions/{id}/report
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "sessions" && parts[3] == "report" && r.Method == http.MethodPost:
		s.handlePostReport(w, r, parts[2])
	// GET /api/doctor/sessions
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "doctor" && parts[2] == "sessions" && r.Method == http.MethodGet:
		s.handleDoctorSessions(w, r)
	// GET /api/doctor/sessions/{id}
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "doctor" && parts[2] == "sessions" && r.Method == http.MethodGet:
		s.handleDoctorSession(w, r, parts[3])
	// GET /api/doctor/sessions/{id}/stream
	case len(parts) == 5 && parts[0] == "api" && parts[1] == "doctor" && parts[2] == "sessions" && parts[4] == "stream" && r.Method == http.MethodGet:
		s.handleDoctorSSE(w, r, parts[3])
	case r.URL.Path == "/healthz":
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, intake.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrSessionClosed), errors.Is(err, core.ErrReportAlreadyProcessed):
		status = http.StatusConflict
	default:
		s.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, greeting, err := s.Manager.Create(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"session_id": id,
		"greeting":   greeting,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	snap, err := s.Manager.Snapshot(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// isJSON reports whether the request body is JSON rather than a form.
func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

// handlePostMessage accepts a patient message as a form field or JSON body
// and runs one intake turn.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request, sessionID string) {
	var content string
	if isJSON(r) {
		var req pkg.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		content = req.Content
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		content = r.FormValue("content")
	}
	if strings.TrimSpace(content) == "" {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}
	turn, err := s.Manager.Send(r.Context(), sessionID, core.Text(content))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

// handlePostReport accepts a report upload (multipart field "file") or a
// reference to a file already in the upload directory.  An empty reference or
// "skip" declines the report.
func (s *Server) handlePostReport(w http.ResponseWriter, r *http.Request, sessionID string) {
	var ref string
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "multipart/form-data":
		saved, err := s.saveUpload(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ref = saved
	case "application/json":
		var req pkg.ReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		ref = req.Ref
	default:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		ref = r.FormValue("ref")
	}
	ref = strings.TrimSpace(ref)
	if ref != "" && !strings.EqualFold(ref, "skip") && !filepath.IsLocal(ref) {
		http.Error(w, "report reference must name a file in the upload directory", http.StatusBadRequest)
		return
	}
	turn, err := s.Manager.Send(r.Context(), sessionID, core.Report(ref))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

var uploadExts = map[string]bool{".docx": true, ".pdf": true, ".txt": true, ".md": true}

// saveUpload stores the multipart file under a fresh name and returns the
// name relative to UploadDir.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.MaxUploadBytes); err != nil {
		return "", fmt.Errorf("invalid upload: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", fmt.Errorf("missing file: %w", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !uploadExts[ext] {
		return "", fmt.Errorf("unsupported report type %q", ext)
	}
	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		return "", err
	}
	name := uuid.NewString() + ext
	out, err := os.Create(filepath.Join(s.UploadDir, name))
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		return "", err
	}
	s.log.Info("report uploaded", "file", name, "original", header.Filename, "bytes", header.Size)
	return name, nil
}

// handleDoctorSessions returns a JSON list of sessions.  Doctors can consume
// this endpoint to build custom dashboards.
func (s *Server) handleDoctorSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Store.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []pkg.DoctorSessionPreview{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleDoctorSession returns a session with its summary and transcript.
func (s *Server) handleDoctorSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	summary, err := s.Store.GetSummary(ctx, sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	transcript, err := s.Store.GetTranscript(ctx, sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    sess,
		"summary":    summary,
		"transcript": transcript,
	})
}

// handleDoctorSSE streams summary_update events for one session until the
// client goes away.  The current summary, if any, is sent first.
func (s *Server) handleDoctorSSE(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()
	if _, err := s.Store.GetSession(ctx, sessionID); err != nil {
		s.writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if s.Notifier == nil {
		http.Error(w, "notifications disabled", http.StatusServiceUnavailable)
		return
	}
	updates, err := s.Notifier.Listen(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := s.sendSummaryEvent(w, r, sessionID); err != nil {
		s.log.Warn("failed to send summary event", "session", sessionID, "error", err)
		return
	}
	flusher.Flush()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-updates:
			if !ok {
				return
			}
			if id != sessionID {
				continue
			}
			if err := s.sendSummaryEvent(w, r, sessionID); err != nil {
				s.log.Warn("failed to send summary event", "session", sessionID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// sendSummaryEvent writes a summary_update event for the session.  Nothing is
// written while no summary exists.
func (s *Server) sendSummaryEvent(w io.Writer, r *http.Request, sessionID string) error {
	summary, err := s.Store.GetSummary(r.Context(), sessionID)
	if err != nil {
		return err
	}
	if summary == nil {
		return nil
	}
	payload := map[string]any{
		"type":       "summary_update",
		"session_id": sessionID,
		"key_points": summary.KeyPoints,
		"free_text":  summary.FreeText,
		"updated_at": summary.UpdatedAt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: summary_update\ndata: %s\n\n", data)
	return err
}
