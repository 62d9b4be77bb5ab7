package dedup

import (
	"testing"

	"github.com/Tatiwuli/financial-summarizer/internal/jobs"
)

func TestComputeSignature_DeterministicAndSensitiveToEachField(t *testing.T) {
	base := ComputeSignature("hash1", "earnings", "long", "v1|v1|v1", "prose")
	again := ComputeSignature("hash1", "earnings", "long", "v1|v1|v1", "prose")
	if base != again {
		t.Error("identical inputs must produce identical signatures")
	}
	if len(base) != 32 {
		t.Errorf("signature length = %d, want 32", len(base))
	}

	variants := []string{
		ComputeSignature("hash2", "earnings", "long", "v1|v1|v1", "prose"),
		ComputeSignature("hash1", "conference", "long", "v1|v1|v1", "prose"),
		ComputeSignature("hash1", "earnings", "short", "v1|v1|v1", "prose"),
		ComputeSignature("hash1", "earnings", "long", "v2|v1|v1", "prose"),
		ComputeSignature("hash1", "earnings", "long", "v1|v1|v1", "bullet"),
	}
	for _, v := range variants {
		if v == base {
			t.Errorf("changing one field should change the signature, got the same value %q", v)
		}
	}
}

func TestPromptSig(t *testing.T) {
	got := PromptSig("earnings-long-prose", "overview-v1", "judge-v1")
	want := "earnings-long-prose|overview-v1|judge-v1"
	if got != want {
		t.Errorf("PromptSig = %q, want %q", got, want)
	}
}

func TestGet_MissingSignatureIsCacheMiss(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir)
	registry := jobs.New(dir)
	if _, ok := idx.Get("nonexistent", registry); ok {
		t.Error("expected a miss for a signature never put")
	}
}

func TestPutThenGet_ReusableJobHits(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir)
	registry := jobs.New(dir)

	jobID := "deadbeefcafef00d"
	completeJob(t, registry, jobID)

	if err := idx.Put("sig1", jobID); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := idx.Get("sig1", registry)
	if !ok || got != jobID {
		t.Fatalf("Get = (%q, %v), want (%q, true)", got, ok, jobID)
	}
}

func TestGet_StaleEntryToDeletedJobIsMiss(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir)
	registry := jobs.New(dir)

	jobID := "deadbeefcafef00d"
	completeJob(t, registry, jobID)
	_ = idx.Put("sig1", jobID)
	_ = registry.DeleteJobDir(jobID)

	if _, ok := idx.Get("sig1", registry); ok {
		t.Error("expected a miss once the target job directory is gone")
	}
}

func TestGet_IncompleteJobIsMiss(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir)
	registry := jobs.New(dir)

	jobID := "deadbeefcafef00d"
	_ = registry.Create(jobs.Status{
		JobID:        jobID,
		CurrentStage: jobs.StageQA,
		Stages: map[string]string{
			jobs.StageQA:       jobs.StatusCompleted,
			jobs.StageOverview: jobs.StatusRunning,
			jobs.StageJudge:    jobs.StatusPending,
		},
	})
	_ = idx.Put("sig1", jobID)

	if _, ok := idx.Get("sig1", registry); ok {
		t.Error("a job with an incomplete stage must never be reused")
	}
}

func TestPut_OverwritesExistingMapping(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir)
	registry := jobs.New(dir)

	first := "1111111111111111"
	second := "2222222222222222"
	completeJob(t, registry, first)
	completeJob(t, registry, second)

	_ = idx.Put("sig1", first)
	_ = idx.Put("sig1", second)

	got, ok := idx.Get("sig1", registry)
	if !ok || got != second {
		t.Fatalf("Get = (%q, %v), want (%q, true)", got, ok, second)
	}
}

func TestPrune_DropsEntriesForInactiveJobs(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir)
	registry := jobs.New(dir)

	active := "1111111111111111"
	gone := "2222222222222222"
	completeJob(t, registry, active)
	_ = idx.Put("sig-active", active)
	_ = idx.Put("sig-gone", gone)

	if err := idx.Prune(map[string]bool{active: true}); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	if _, ok := idx.Get("sig-gone", registry); ok {
		t.Error("pruned entry should no longer resolve")
	}
	// sig-active still resolves because the job itself remains reusable.
	if _, ok := idx.Get("sig-active", registry); !ok {
		t.Error("active job's mapping should survive Prune")
	}
}

func completeJob(t *testing.T, registry *jobs.Registry, jobID string) {
	t.Helper()
	if err := registry.Create(jobs.Status{
		JobID:        jobID,
		CurrentStage: jobs.StageCompleted,
		Stages: map[string]string{
			jobs.StageQA:       jobs.StatusCompleted,
			jobs.StageOverview: jobs.StatusCompleted,
			jobs.StageJudge:    jobs.StatusCompleted,
		},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	empty := jobs.OutputFile{Metadata: map[string]interface{}{}, Data: map[string]interface{}{}}
	for _, name := range []string{"q_a_summary", "overview_summary", "summary_evaluation"} {
		if err := registry.WriteOutput(jobID, name, empty); err != nil {
			t.Fatalf("WriteOutput(%s): %v", name, err)
		}
	}
}
