// Package transcript implements the Transcript Store: persists segmenter
// output keyed by filename with a content hash, grounded on
// PDFProcessor.create_file_path / process_pdf in pdf_processor.py, using
// the shared atomic-write helper for crash-safe persistence.
package transcript

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"

	"github.com/Tatiwuli/financial-summarizer/internal/apperr"
	"github.com/Tatiwuli/financial-summarizer/internal/atomicfile"
)

// Input describes the request parameters a transcript was validated with.
type Input struct {
	CallType      string `json:"call_type"`
	SummaryLength string `json:"summary_length"`
	AnswerFormat  string `json:"answer_format"`
	Filename      string `json:"filename"`
}

// Transcripts holds the segmented text.
type Transcripts struct {
	Presentation string `json:"presentation"`
	QA           string `json:"q_a"`
}

// Record is the persisted transcript record (spec.md §3).
type Record struct {
	ValidatedAt    time.Time   `json:"validated_at"`
	Input          Input       `json:"input"`
	Transcripts    Transcripts `json:"transcripts"`
	ContentHash    string      `json:"content_hash"`
	TranscriptName string      `json:"transcript_name"`
}

// Store persists transcript records under a cache root directory, one
// JSON file per normalized filename.
type Store struct {
	cacheDir string
}

// New returns a Store rooted at cacheDir.
func New(cacheDir string) *Store {
	return &Store{cacheDir: cacheDir}
}

// ComputeContentHash is the SHA-256 over trimmed presentation + "\n\n" + qa.
func ComputeContentHash(presentation, qa string) string {
	joined := strings.TrimSpace(presentation) + "\n\n" + strings.TrimSpace(qa)
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// SanitizeFilename normalizes original to its base name and uses it
// literally, preserving case and spaces, per spec.md §3.
func SanitizeFilename(original string) string {
	base := filepath.Base(original)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "transcript.pdf"
	}
	return base
}

func (s *Store) recordPath(transcriptName string) string {
	return filepath.Join(s.cacheDir, transcriptName+".json")
}

// Save writes a transcript record for filename. If a record already exists
// with the same content hash, it is left untouched (reused, not rewritten);
// otherwise the file is overwritten atomically.
func (s *Store) Save(originalFilename string, input Input, segmented Transcripts) (Record, error) {
	safeName := SanitizeFilename(originalFilename)
	hash := ComputeContentHash(segmented.Presentation, segmented.QA)

	if existing, ok := s.Load(safeName); ok && existing.ContentHash == hash {
		return existing, nil
	}

	rec := Record{
		ValidatedAt:    time.Now(),
		Input:          input,
		Transcripts:    segmented,
		ContentHash:    hash,
		TranscriptName: safeName,
	}
	if err := atomicfile.WriteJSON(s.recordPath(safeName), rec); err != nil {
		return Record{}, apperr.Wrap(apperr.CodePersistError, err)
	}
	return rec, nil
}

// Load reads the transcript record for a sanitized name, if present.
func (s *Store) Load(transcriptName string) (Record, bool) {
	var rec Record
	if ok := atomicfile.ReadJSONOrDefault(s.recordPath(transcriptName), &rec); !ok {
		return Record{}, false
	}
	return rec, true
}
