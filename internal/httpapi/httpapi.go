// Package httpapi is the HTTP Surface (spec.md §6): submit / poll / cancel
// endpoints plus error-envelope translation, grounded on RegisterRoutes /
// handleProcessUpload in the reference repo's internal/orchestrator —
// plain net/http and http.ServeMux, no router framework, matching the
// teacher's style.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Tatiwuli/financial-summarizer/internal/apperr"
	"github.com/Tatiwuli/financial-summarizer/internal/dedup"
	"github.com/Tatiwuli/financial-summarizer/internal/filetype"
	"github.com/Tatiwuli/financial-summarizer/internal/jobs"
	"github.com/Tatiwuli/financial-summarizer/internal/metrics"
	"github.com/Tatiwuli/financial-summarizer/internal/segmenter"
	"github.com/Tatiwuli/financial-summarizer/internal/stagerunner"
	"github.com/Tatiwuli/financial-summarizer/internal/transcript"
)

// Server wires the HTTP Surface to its collaborators.
type Server struct {
	Registry   *jobs.Registry
	Dedup      *dedup.Index
	Transcript *transcript.Store
	FileType   *filetype.Detector

	MaxFileSizeBytes int
	QAPromptVersion  string
	StageDeps        stagerunner.Deps // Prompts/Model/Registry already set; reused per job
}

func (s *Server) detector() *filetype.Detector {
	if s.FileType != nil {
		return s.FileType
	}
	return filetype.New()
}

// RegisterRoutes mounts every endpoint onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/validate_file", s.handleValidateFile)
	mux.HandleFunc("/summary", s.handleSummary)
	mux.HandleFunc("/cancel", s.handleCancel)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "financial-summarizer is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

type validateFileResponse struct {
	IsValidated    bool             `json:"is_validated"`
	ValidatedAt    *time.Time       `json:"validated_at,omitempty"`
	Input          *transcript.Input `json:"input,omitempty"`
	TranscriptName string           `json:"transcript_name,omitempty"`
	JobID          string           `json:"job_id,omitempty"`
	DedupHit       *bool            `json:"dedup_hit,omitempty"`
	Error          *apperr.Error    `json:"error,omitempty"`
}

// handleValidateFile implements POST /validate_file: multipart upload,
// segmentation, transcript persistence, dedup lookup, and (on miss) job
// creation plus a backgrounded Stage Runner (spec.md §6).
func (s *Server) handleValidateFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.New(apperr.CodeInternal, "method not allowed"))
		return
	}

	if err := r.ParseMultipartForm(int64(s.MaxFileSizeBytes) + 1<<20); err != nil {
		writeValidationFailure(w, apperr.New(apperr.CodeFileTooLarge, "multipart form exceeds size limit"))
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeValidationFailure(w, apperr.New(apperr.CodeInvalidFileType, "missing file field"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeValidationFailure(w, apperr.Wrap(apperr.CodeInternal, err))
		return
	}

	// Confirm the upload is actually PDF by magic bytes, independent of
	// the declared multipart content-type, before handing it to the
	// segmenter (SPEC_FULL.md §11).
	if info, err := s.detector().DetectBytes(content); err != nil || !info.IsPDF {
		writeValidationFailure(w, apperr.New(apperr.CodeInvalidFileType, "uploaded file is not a PDF"))
		return
	}

	input := transcript.Input{
		CallType:      r.FormValue("call_type"),
		SummaryLength: r.FormValue("summary_length"),
		AnswerFormat:  defaultString(r.FormValue("answer_format"), "prose"),
		Filename:      hdr.Filename,
	}

	result, err := segmenter.Segment(content, hdr.Filename, s.MaxFileSizeBytes)
	if err != nil {
		writeValidationFailure(w, asAppErr(err))
		return
	}
	if strings.TrimSpace(result.QATranscript) == "" {
		writeValidationFailure(w, apperr.New(apperr.CodeNoQATranscript, "no Q&A section detected in the transcript"))
		return
	}

	rec, err := s.Transcript.Save(hdr.Filename, input, transcript.Transcripts{
		Presentation: result.PresentationTranscript,
		QA:           result.QATranscript,
	})
	if err != nil {
		writeValidationFailure(w, asAppErr(err))
		return
	}

	qaPromptVersion := stagerunner.SelectQAPromptVersion(input.CallType, input.SummaryLength, input.AnswerFormat)
	promptSig := dedup.PromptSig(qaPromptVersion, s.StageDeps.OverviewPromptVersion, s.StageDeps.JudgePromptVersion)
	signature := dedup.ComputeSignature(rec.ContentHash, input.CallType, input.SummaryLength, promptSig, input.AnswerFormat)

	jobID, hitOK := s.Dedup.Get(signature, s.Registry)
	metrics.ObserveDedup(hitOK)
	if hitOK {
		hit := true
		writeJSON(w, http.StatusOK, validateFileResponse{
			IsValidated:    true,
			ValidatedAt:    &rec.ValidatedAt,
			Input:          &rec.Input,
			TranscriptName: rec.TranscriptName,
			JobID:          jobID,
			DedupHit:       &hit,
		})
		return
	}

	jobID = jobs.NewJobID(rec.TranscriptName, time.Now())
	if err := s.Registry.Create(jobs.Status{
		JobID:          jobID,
		TranscriptName: rec.TranscriptName,
		CurrentStage:   jobs.StageValidating,
		Stages: map[string]string{
			jobs.StageValidating: jobs.StatusCompleted,
			jobs.StageQA:         jobs.StatusPending,
			jobs.StageOverview:   jobs.StatusPending,
			jobs.StageJudge:      jobs.StatusPending,
		},
		PercentComplete: 10,
		Input:           rec.Input,
	}); err != nil {
		writeValidationFailure(w, asAppErr(err))
		return
	}
	if err := s.Dedup.Put(signature, jobID); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("failed to record dedup signature")
	}

	go stagerunner.Run(context.Background(), jobID, rec, input, s.StageDeps)

	miss := false
	writeJSON(w, http.StatusOK, validateFileResponse{
		IsValidated:    true,
		ValidatedAt:    &rec.ValidatedAt,
		Input:          &rec.Input,
		TranscriptName: rec.TranscriptName,
		JobID:          jobID,
		DedupHit:       &miss,
	})
}

type summaryResponse struct {
	jobs.Status
	Outputs map[string]jobs.OutputFile `json:"outputs"`
}

// handleSummary implements GET /summary?job_id=… (spec.md §6).
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" || !s.Registry.Exists(jobID) {
		writeError(w, apperr.New(apperr.CodeJobNotFound, "job not found"))
		return
	}
	status, ok := s.Registry.ReadStatus(jobID)
	if !ok {
		writeError(w, apperr.New(apperr.CodeStatusReadError, "failed to read job status"))
		return
	}

	outputs := map[string]jobs.OutputFile{}
	for _, name := range []string{"q_a_summary", "overview_summary", "summary_evaluation"} {
		if out, ok := s.Registry.ReadOutput(jobID, name); ok {
			outputs[name] = out
		}
	}

	writeJSON(w, http.StatusOK, summaryResponse{Status: status, Outputs: outputs})
}

// handleCancel implements POST /cancel?job_id=… (spec.md §6).
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.New(apperr.CodeInternal, "method not allowed"))
		return
	}
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" || !s.Registry.Exists(jobID) {
		writeError(w, apperr.New(apperr.CodeJobNotFound, "job not found"))
		return
	}
	if err := s.Registry.Cancel(jobID); err != nil {
		writeError(w, asAppErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// WithMiddleware wraps mux with request-id tagging and CORS, the two
// ambient HTTP concerns spec.md §1 names as external collaborators (the
// transport framework itself is out of scope; this is the minimal glue a
// standalone binary still needs to serve requests).
func WithMiddleware(handler http.Handler, corsOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		applyCORS(w, r, corsOrigins)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func applyCORS(w http.ResponseWriter, r *http.Request, allowed []string) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			w.Header().Set("Access-Control-Allow-Origin", a)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *apperr.Error) {
	writeJSON(w, apperr.StatusFor(err.Code), map[string]interface{}{"error": err})
}

func writeValidationFailure(w http.ResponseWriter, err *apperr.Error) {
	writeJSON(w, http.StatusOK, validateFileResponse{IsValidated: false, Error: err})
}

func asAppErr(err error) *apperr.Error {
	if e, ok := apperr.As(err); ok {
		return e
	}
	return apperr.Wrap(apperr.CodeInternal, err)
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
