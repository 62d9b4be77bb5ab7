// Package jobs implements the Job Registry: one directory per job_id,
// atomic status/output writes, a per-job lock map guarded by a meta-lock,
// and a process-local cancel-token registry, grounded on
// JobStatusManager in the original job_state.py (class-level _JOB_LOCKS /
// _META_LOCK / _CANCEL_EVENTS), adapted into a dependency-injected value
// per the redesign guidance in spec.md §9.
package jobs

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Tatiwuli/financial-summarizer/internal/apperr"
	"github.com/Tatiwuli/financial-summarizer/internal/atomicfile"
)

// Stage names, the glossary's "named step of the pipeline".
const (
	StageValidating = "validating"
	StageQA         = "q_a_summary"
	StageOverview   = "overview_summary"
	StageJudge      = "summary_evaluation"
	StageCompleted  = "completed"
	StageFailed     = "failed"
	StageCancelled  = "cancelled"
)

// Stage statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrInfo is the status.json "error" object.
type ErrInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Status is the full status.json record (spec.md §3).
type Status struct {
	JobID           string            `json:"job_id"`
	TranscriptName  string            `json:"transcript_name"`
	CurrentStage    string            `json:"current_stage"`
	Stages          map[string]string `json:"stages"`
	PercentComplete int               `json:"percent_complete"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Input           interface{}       `json:"input,omitempty"`
	Error           *ErrInfo          `json:"error,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
}

// OutputFile is the shape every stage artifact shares.
type OutputFile struct {
	Metadata map[string]interface{} `json:"metadata"`
	Data     interface{}            `json:"data"`
}

// StatusPatch is applied by UpdateStatus; nil fields are left untouched.
// Stages is deep-merged one level (only the named keys are overwritten).
type StatusPatch struct {
	CurrentStage    *string
	Stages          map[string]string
	PercentComplete *int
	Error           *ErrInfo
	ClearError      bool
}

// outputNames lists the three artifact files a job may produce, in the
// order the pipeline produces them.
var outputNames = []string{"q_a_summary", "overview_summary", "summary_evaluation"}

// CancelToken is a process-local, observable cancel signal for one job.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

func newCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel marks the token cancelled exactly once.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cancelled {
		t.cancelled = true
		close(t.done)
	}
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel closed when the token is cancelled, for use in
// select statements alongside other wait conditions.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Registry owns every job's on-disk directory plus the process-local
// lock map and cancel-token map, both guarded by metaLock per spec.md §4.4.
type Registry struct {
	cacheDir string

	metaLock sync.Mutex
	locks    map[string]*sync.Mutex
	tokens   map[string]*CancelToken
}

// New returns a Registry rooted at cacheDir.
func New(cacheDir string) *Registry {
	return &Registry{
		cacheDir: cacheDir,
		locks:    make(map[string]*sync.Mutex),
		tokens:   make(map[string]*CancelToken),
	}
}

// NewJobID derives a job_id as the first 16 hex chars of
// SHA-1(transcriptName + isoTimestamp), per spec.md §3.
func NewJobID(transcriptName string, now time.Time) string {
	h := sha1.Sum([]byte(transcriptName + now.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:])[:16]
}

func (r *Registry) lockFor(jobID string) *sync.Mutex {
	r.metaLock.Lock()
	defer r.metaLock.Unlock()
	l, ok := r.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[jobID] = l
	}
	return l
}

// TokenFor returns the cancel token for a job, creating it on first use.
// The Stage Runner holds onto the returned token for the job's lifetime.
func (r *Registry) TokenFor(jobID string) *CancelToken {
	r.metaLock.Lock()
	defer r.metaLock.Unlock()
	t, ok := r.tokens[jobID]
	if !ok {
		t = newCancelToken()
		r.tokens[jobID] = t
	}
	return t
}

func (r *Registry) jobDir(jobID string) string {
	return filepath.Join(r.cacheDir, jobID)
}

func (r *Registry) statusPath(jobID string) string {
	return filepath.Join(r.jobDir(jobID), "status.json")
}

func (r *Registry) outputPath(jobID, name string) string {
	return filepath.Join(r.jobDir(jobID), name+".json")
}

// Create makes the job directory and writes the initial status.json.
func (r *Registry) Create(status Status) error {
	lock := r.lockFor(status.JobID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(r.jobDir(status.JobID), 0o755); err != nil {
		return apperr.Wrap(apperr.CodePersistError, err)
	}
	status.UpdatedAt = time.Now()
	if err := atomicfile.WriteJSON(r.statusPath(status.JobID), status); err != nil {
		return apperr.Wrap(apperr.CodePersistError, err)
	}
	return nil
}

// UpdateStatus merges patch into the persisted status under the per-job
// lock, deep-merging Stages one level and always refreshing UpdatedAt.
func (r *Registry) UpdateStatus(jobID string, patch StatusPatch) error {
	lock := r.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	var cur Status
	if !atomicfile.ReadJSONOrDefault(r.statusPath(jobID), &cur) {
		return apperr.New(apperr.CodeStatusReadError, "status.json missing or malformed for job "+jobID)
	}

	if patch.CurrentStage != nil {
		cur.CurrentStage = *patch.CurrentStage
	}
	if patch.Stages != nil {
		if cur.Stages == nil {
			cur.Stages = map[string]string{}
		}
		for k, v := range patch.Stages {
			cur.Stages[k] = v
		}
	}
	if patch.PercentComplete != nil {
		cur.PercentComplete = *patch.PercentComplete
	}
	if patch.ClearError {
		cur.Error = nil
	} else if patch.Error != nil {
		cur.Error = patch.Error
	}
	cur.UpdatedAt = time.Now()

	if err := atomicfile.WriteJSON(r.statusPath(jobID), cur); err != nil {
		return apperr.Wrap(apperr.CodePersistError, err)
	}
	return nil
}

// AppendWarning appends msg to the job's warning list under its lock.
func (r *Registry) AppendWarning(jobID, msg string) error {
	lock := r.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	var cur Status
	if !atomicfile.ReadJSONOrDefault(r.statusPath(jobID), &cur) {
		return apperr.New(apperr.CodeStatusReadError, "status.json missing or malformed for job "+jobID)
	}
	cur.Warnings = append(cur.Warnings, msg)
	cur.UpdatedAt = time.Now()
	if err := atomicfile.WriteJSON(r.statusPath(jobID), cur); err != nil {
		return apperr.Wrap(apperr.CodePersistError, err)
	}
	return nil
}

// WriteOutput atomically writes a stage artifact. Not itself gated by the
// per-job status lock: callers must mark the owning stage "running"
// before calling this, per the ordering guarantee in spec.md §5.
func (r *Registry) WriteOutput(jobID, name string, out OutputFile) error {
	if err := atomicfile.WriteJSON(r.outputPath(jobID, name), out); err != nil {
		return apperr.Wrap(apperr.CodePersistError, err)
	}
	return nil
}

// ReadStatus best-effort reads status.json, returning ok=false on any
// failure so callers can translate to job_not_found or status_read_error.
func (r *Registry) ReadStatus(jobID string) (Status, bool) {
	var s Status
	if ok := atomicfile.ReadJSONOrDefault(r.statusPath(jobID), &s); !ok {
		return Status{}, false
	}
	return s, true
}

// Exists reports whether the job directory exists at all.
func (r *Registry) Exists(jobID string) bool {
	info, err := os.Stat(r.jobDir(jobID))
	return err == nil && info.IsDir()
}

// ReadOutput best-effort reads one stage artifact.
func (r *Registry) ReadOutput(jobID, name string) (OutputFile, bool) {
	var out OutputFile
	if ok := atomicfile.ReadJSONOrDefault(r.outputPath(jobID, name), &out); !ok {
		return OutputFile{}, false
	}
	return out, true
}

// Cancel signals the job's cancel token and eagerly transitions status to
// terminal failed/cancelled, marking any running or pending sub-stage failed and
// removing materialized output artifacts, so callers never observe
// partial data post-cancel (spec.md §4.4, §5).
func (r *Registry) Cancel(jobID string) error {
	r.TokenFor(jobID).Cancel()

	lock := r.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	var cur Status
	if !atomicfile.ReadJSONOrDefault(r.statusPath(jobID), &cur) {
		return apperr.New(apperr.CodeJobNotFound, "job "+jobID+" not found")
	}

	if cur.Stages == nil {
		cur.Stages = map[string]string{}
	}
	for _, stage := range []string{StageQA, StageOverview, StageJudge} {
		if cur.Stages[stage] == StatusRunning || cur.Stages[stage] == StatusPending {
			cur.Stages[stage] = StatusFailed
		}
	}
	cur.CurrentStage = StageFailed
	cur.Error = &ErrInfo{Code: apperr.CodeCancelled, Message: "job cancelled"}
	cur.UpdatedAt = time.Now()

	if err := atomicfile.WriteJSON(r.statusPath(jobID), cur); err != nil {
		return apperr.Wrap(apperr.CodePersistError, err)
	}

	for _, name := range outputNames {
		_ = os.Remove(r.outputPath(jobID, name))
	}
	return nil
}

// CacheDir exposes the root directory for components that need to scan
// job directories directly (the Cleanup Worker).
func (r *Registry) CacheDir() string {
	return r.cacheDir
}

// JobIDs lists every direct subdirectory of the cache root, each one a
// job_id, for the Cleanup Worker's per-cycle scan.
func (r *Registry) JobIDs() ([]string, error) {
	entries, err := os.ReadDir(r.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.CodeInternal, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// DirModTime returns the job directory's filesystem modification time, the
// Cleanup Worker's fallback when status.json's updated_at is unparseable.
func (r *Registry) DirModTime(jobID string) (time.Time, bool) {
	info, err := os.Stat(r.jobDir(jobID))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// DeleteJobDir removes a job's entire directory under its per-job lock, the
// only deletion path for job directories (spec.md §5: "only the cleanup
// worker deletes job directories").
func (r *Registry) DeleteJobDir(jobID string) error {
	lock := r.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()
	if err := os.RemoveAll(r.jobDir(jobID)); err != nil {
		return apperr.Wrap(apperr.CodeInternal, err)
	}
	return nil
}
