// Package dedup implements the Dedup Index: a single on-disk map from a
// content+configuration signature to a reusable job_id, grounded on
// _compute_signature / _can_reuse_job in the original job_creation.py.
package dedup

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Tatiwuli/financial-summarizer/internal/atomicfile"
	"github.com/Tatiwuli/financial-summarizer/internal/jobs"
)

const indexFileName = "job_index.json"

// Index is the dedup index, the whole map rewritten atomically on update.
type Index struct {
	mu   sync.Mutex
	path string
}

// New returns an Index rooted at cacheDir.
func New(cacheDir string) *Index {
	return &Index{path: filepath.Join(cacheDir, indexFileName)}
}

// ComputeSignature mirrors _compute_signature: the first 32 hex chars of
// SHA-1("content_hash|call_type|summary_length|prompt_sig|answer_format").
func ComputeSignature(contentHash, callType, summaryLength, promptSig, answerFormat string) string {
	joined := strings.Join([]string{contentHash, callType, summaryLength, promptSig, answerFormat}, "|")
	h := sha1.Sum([]byte(joined))
	return hex.EncodeToString(h[:])[:32]
}

// PromptSig mirrors job_creation.py's prompt_sig: the three selected
// prompt versions joined by "|".
func PromptSig(qaPromptVer, overviewPromptVer, judgePromptVer string) string {
	return strings.Join([]string{qaPromptVer, overviewPromptVer, judgePromptVer}, "|")
}

func (idx *Index) read() map[string]string {
	m := map[string]string{}
	// A missing or malformed file is tolerated as an empty map, per spec.md §4.3.
	atomicfile.ReadJSONOrDefault(idx.path, &m)
	if m == nil {
		m = map[string]string{}
	}
	return m
}

func (idx *Index) write(m map[string]string) error {
	return atomicfile.WriteJSON(idx.path, m)
}

// Get looks up signature and, if present, validates the target job is
// still reusable before returning it. An absent entry or a failed
// reusability check both behave as a cache miss.
func (idx *Index) Get(signature string, registry *jobs.Registry) (jobID string, ok bool) {
	idx.mu.Lock()
	m := idx.read()
	idx.mu.Unlock()

	id, present := m[signature]
	if !present {
		return "", false
	}
	if !isReusable(id, registry) {
		return "", false
	}
	return id, true
}

// Put records signature → jobID, always overwriting any existing mapping.
func (idx *Index) Put(signature, jobID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m := idx.read()
	m[signature] = jobID
	return idx.write(m)
}

// Prune drops every entry whose job_id is not in activeJobIDs, rewriting
// the index atomically only if something changed. Used by the Cleanup
// Worker after a cycle's deletions.
func (idx *Index) Prune(activeJobIDs map[string]bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m := idx.read()
	changed := false
	for sig, jobID := range m {
		if !activeJobIDs[jobID] {
			delete(m, sig)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return idx.write(m)
}

// isReusable is the reusability predicate from spec.md §4.3: status.json
// must parse, all three stages must be completed, and all three output
// files must exist and parse as JSON objects.
func isReusable(jobID string, registry *jobs.Registry) bool {
	status, ok := registry.ReadStatus(jobID)
	if !ok {
		return false
	}
	for _, stage := range []string{jobs.StageQA, jobs.StageOverview, jobs.StageJudge} {
		if status.Stages[stage] != jobs.StatusCompleted {
			return false
		}
	}
	for _, name := range []string{"q_a_summary", "overview_summary", "summary_evaluation"} {
		if _, ok := registry.ReadOutput(jobID, name); !ok {
			return false
		}
	}
	return true
}
