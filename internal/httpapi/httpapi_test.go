package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Tatiwuli/financial-summarizer/internal/apperr"
	"github.com/Tatiwuli/financial-summarizer/internal/dedup"
	"github.com/Tatiwuli/financial-summarizer/internal/jobs"
	"github.com/Tatiwuli/financial-summarizer/internal/transcript"
)

func newTestServer(t *testing.T) (*Server, *jobs.Registry) {
	t.Helper()
	dir := t.TempDir()
	registry := jobs.New(dir)
	return &Server{
		Registry:         registry,
		Dedup:            dedup.New(dir),
		Transcript:       transcript.New(dir),
		MaxFileSizeBytes: 1024,
	}, registry
}

func TestHandleRoot(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.handleRoot(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] == "" {
		t.Error("expected a non-empty message")
	}
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
	if body["timestamp"] == nil {
		t.Error("expected a timestamp field")
	}
}

func TestHandleSummary_JobNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/summary?job_id=missing", nil)
	rec := httptest.NewRecorder()
	s.handleSummary(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]apperr.Error
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"].Code != apperr.CodeJobNotFound {
		t.Errorf("error.code = %q", body["error"].Code)
	}
}

func TestHandleSummary_ReturnsStatusAndOutputs(t *testing.T) {
	s, registry := newTestServer(t)
	jobID := "job-summary"
	if err := registry.Create(jobs.Status{
		JobID:        jobID,
		CurrentStage: jobs.StageCompleted,
		Stages: map[string]string{
			jobs.StageQA:       jobs.StatusCompleted,
			jobs.StageOverview: jobs.StatusCompleted,
			jobs.StageJudge:    jobs.StatusFailed,
		},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := registry.WriteOutput(jobID, "q_a_summary", jobs.OutputFile{Metadata: map[string]interface{}{}, Data: map[string]interface{}{"title": "Q3"}}); err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/summary?job_id="+jobID, nil)
	rec := httptest.NewRecorder()
	s.handleSummary(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		CurrentStage string                     `json:"current_stage"`
		Outputs      map[string]jobs.OutputFile `json:"outputs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.CurrentStage != jobs.StageCompleted {
		t.Errorf("current_stage = %q", body.CurrentStage)
	}
	if _, ok := body.Outputs["q_a_summary"]; !ok {
		t.Error("expected q_a_summary in outputs")
	}
	if _, ok := body.Outputs["overview_summary"]; ok {
		t.Error("overview_summary was never written and must be absent from outputs")
	}
}

func TestHandleCancel_JobNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/cancel?job_id=missing", nil)
	rec := httptest.NewRecorder()
	s.handleCancel(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleCancel_Success(t *testing.T) {
	s, registry := newTestServer(t)
	jobID := "job-cancel"
	if err := registry.Create(jobs.Status{
		JobID:        jobID,
		CurrentStage: jobs.StageQA,
		Stages:       map[string]string{jobs.StageQA: jobs.StatusRunning},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/cancel?job_id="+jobID, nil)
	rec := httptest.NewRecorder()
	s.handleCancel(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	status, ok := registry.ReadStatus(jobID)
	if !ok {
		t.Fatal("expected status to remain readable")
	}
	if status.CurrentStage != jobs.StageFailed || status.Error == nil || status.Error.Code != "cancelled" {
		t.Errorf("status = %+v, want terminal failed/cancelled", status)
	}
}

func TestHandleCancel_WrongMethod(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/cancel?job_id=x", nil)
	rec := httptest.NewRecorder()
	s.handleCancel(rec, req)

	if rec.Code == http.StatusOK {
		t.Error("GET should not be accepted on /cancel")
	}
}

func TestApplyCORS_AllowsConfiguredOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	applyCORS(rec, req, []string{"https://app.example.com"})

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestApplyCORS_RejectsUnlistedOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	applyCORS(rec, req, []string{"https://app.example.com"})

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty for an unlisted origin", got)
	}
}

func TestWithMiddleware_AssignsRequestID(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := WithMiddleware(inner, []string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected a generated X-Request-Id")
	}
}
