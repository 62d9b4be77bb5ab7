package stagerunner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Tatiwuli/financial-summarizer/internal/ai"
	"github.com/Tatiwuli/financial-summarizer/internal/jobs"
	"github.com/Tatiwuli/financial-summarizer/internal/transcript"
)

// fakeModel is a minimal ai.Client double: a per-stage result keyed by the
// TextFormat name, mirroring how the reference repo's dispatcher tests
// would fake internal/ai.Client (SPEC_FULL.md §10).
type fakeModel struct {
	byFormat map[string]func(ai.Request) (ai.Response, error)
}

func (f *fakeModel) Generate(ctx context.Context, req ai.Request) (ai.Response, error) {
	name := ""
	if req.TextFormat != nil {
		name = req.TextFormat.Name
	}
	if fn, ok := f.byFormat[name]; ok {
		return fn(req)
	}
	return ai.Response{}, &ai.Error{Kind: ai.KindProviderError, Message: "no fake response configured for " + name}
}

func okResponse(data map[string]interface{}) func(ai.Request) (ai.Response, error) {
	raw, _ := json.Marshal(data)
	return func(req ai.Request) (ai.Response, error) {
		return ai.Response{Model: req.Model, Parsed: raw, OutputTokens: 10}, nil
	}
}

func newRegistry(t *testing.T) *jobs.Registry {
	t.Helper()
	return jobs.New(t.TempDir())
}

func baseDeps(registry *jobs.Registry, model ai.Client) Deps {
	return Deps{
		Registry:              registry,
		Model:                 model,
		Prompts:               fakePrompts{},
		RateLimitThreshold:    40000,
		BackoffSleep:          10 * time.Millisecond,
		FanOutDeadline:        2 * time.Second,
		ModelTimeout:          2 * time.Second,
		QAModel:               "qa-model",
		OverviewModel:         "overview-model",
		JudgeModel:            "judge-model",
		OverviewPromptVersion: "overview-v1",
		JudgePromptVersion:    "judge-v1",
	}
}

type fakePrompts struct{}

func (fakePrompts) SystemPrompt(v string) string            { return "system:" + v }
func (fakePrompts) UserPrompt(v, transcript string) string { return "user:" + v }

func createJob(t *testing.T, registry *jobs.Registry, jobID string) {
	t.Helper()
	if err := registry.Create(jobs.Status{
		JobID:        jobID,
		CurrentStage: jobs.StageValidating,
		Stages: map[string]string{
			jobs.StageValidating: jobs.StatusCompleted,
			jobs.StageQA:         jobs.StatusPending,
			jobs.StageOverview:   jobs.StatusPending,
			jobs.StageJudge:      jobs.StatusPending,
		},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestRun_HappyPathCompletesAllThreeStages(t *testing.T) {
	registry := newRegistry(t)
	jobID := "job-happy"
	createJob(t, registry, jobID)

	model := &fakeModel{byFormat: map[string]func(ai.Request) (ai.Response, error){
		"qa_earnings_prose":  okResponse(map[string]interface{}{"title": "Q3", "analysts": []interface{}{}}),
		"overview_summary":   okResponse(map[string]interface{}{"executives_list": []interface{}{}, "overview": "solid quarter"}),
		"summary_evaluation": okResponse(map[string]interface{}{"evaluation_results": []interface{}{}, "overall_assessment": map[string]interface{}{}}),
	}}

	rec := transcript.Record{Transcripts: transcript.Transcripts{Presentation: "pres", QA: "qa text"}}
	input := transcript.Input{CallType: "earnings", SummaryLength: "long", AnswerFormat: "prose"}

	Run(context.Background(), jobID, rec, input, baseDeps(registry, model))

	status, ok := registry.ReadStatus(jobID)
	if !ok {
		t.Fatal("expected a readable status after Run")
	}
	if status.CurrentStage != jobs.StageCompleted {
		t.Fatalf("current_stage = %q, want completed", status.CurrentStage)
	}
	if status.PercentComplete != 100 {
		t.Errorf("percent_complete = %d, want 100", status.PercentComplete)
	}
	for _, stage := range []string{jobs.StageQA, jobs.StageOverview, jobs.StageJudge} {
		if status.Stages[stage] != jobs.StatusCompleted {
			t.Errorf("stages[%s] = %q, want completed", stage, status.Stages[stage])
		}
	}
	for _, name := range []string{"q_a_summary", "overview_summary", "summary_evaluation"} {
		if _, ok := registry.ReadOutput(jobID, name); !ok {
			t.Errorf("expected output %q to be written", name)
		}
	}
}

func TestRun_QAFailureStopsThePipeline(t *testing.T) {
	registry := newRegistry(t)
	jobID := "job-qa-fail"
	createJob(t, registry, jobID)

	model := &fakeModel{byFormat: map[string]func(ai.Request) (ai.Response, error){}} // no qa format configured -> error

	rec := transcript.Record{Transcripts: transcript.Transcripts{Presentation: "pres", QA: "qa text"}}
	input := transcript.Input{CallType: "earnings", SummaryLength: "long", AnswerFormat: "prose"}

	Run(context.Background(), jobID, rec, input, baseDeps(registry, model))

	status, ok := registry.ReadStatus(jobID)
	if !ok {
		t.Fatal("expected a readable status")
	}
	if status.CurrentStage != jobs.StageFailed {
		t.Fatalf("current_stage = %q, want failed", status.CurrentStage)
	}
	if status.Stages[jobs.StageQA] != jobs.StatusFailed {
		t.Errorf("stages[q_a_summary] = %q, want failed", status.Stages[jobs.StageQA])
	}
	if _, ok := registry.ReadOutput(jobID, "q_a_summary"); ok {
		t.Error("q_a_summary.json must not exist when the q_a_summary stage never completed")
	}
	if status.Stages[jobs.StageOverview] == jobs.StatusCompleted {
		t.Error("overview must never run once the Q&A gate fails")
	}
}

// TestRun_OverviewFailureStillCompletesJob exercises spec.md §7's
// partial-failure policy: Overview/Judge failures mark only their own
// stage failed; the job can still reach "completed" on Q&A alone.
func TestRun_OverviewFailureStillCompletesJob(t *testing.T) {
	registry := newRegistry(t)
	jobID := "job-overview-fail"
	createJob(t, registry, jobID)

	model := &fakeModel{byFormat: map[string]func(ai.Request) (ai.Response, error){
		"qa_earnings_prose":  okResponse(map[string]interface{}{"title": "Q3", "analysts": []interface{}{}}),
		"summary_evaluation": okResponse(map[string]interface{}{"evaluation_results": []interface{}{}, "overall_assessment": map[string]interface{}{}}),
		// overview_summary deliberately unconfigured -> model error.
	}}

	rec := transcript.Record{Transcripts: transcript.Transcripts{Presentation: "pres", QA: "qa text"}}
	input := transcript.Input{CallType: "earnings", SummaryLength: "long", AnswerFormat: "prose"}

	Run(context.Background(), jobID, rec, input, baseDeps(registry, model))

	status, ok := registry.ReadStatus(jobID)
	if !ok {
		t.Fatal("expected a readable status")
	}
	if status.CurrentStage != jobs.StageCompleted {
		t.Fatalf("current_stage = %q, want completed even though overview failed", status.CurrentStage)
	}
	if status.Stages[jobs.StageOverview] != jobs.StatusFailed {
		t.Errorf("stages[overview_summary] = %q, want failed", status.Stages[jobs.StageOverview])
	}
	if status.Stages[jobs.StageJudge] != jobs.StatusCompleted {
		t.Errorf("stages[summary_evaluation] = %q, want completed", status.Stages[jobs.StageJudge])
	}
	if _, ok := registry.ReadOutput(jobID, "overview_summary"); ok {
		t.Error("overview_summary.json must not exist when that stage failed")
	}
	if _, ok := registry.ReadOutput(jobID, "summary_evaluation"); !ok {
		t.Error("summary_evaluation.json should exist; judge succeeded independently of overview")
	}
	if len(status.Warnings) == 0 {
		t.Error("a failed fan-out stage should append a warning")
	}
}

func TestRun_CancelPreflightStopsBeforeAnyModelCall(t *testing.T) {
	registry := newRegistry(t)
	jobID := "job-cancel-preflight"
	createJob(t, registry, jobID)
	registry.TokenFor(jobID).Cancel()

	model := &fakeModel{byFormat: map[string]func(ai.Request) (ai.Response, error){}}
	rec := transcript.Record{Transcripts: transcript.Transcripts{Presentation: "pres", QA: "qa text"}}
	input := transcript.Input{CallType: "earnings", SummaryLength: "long", AnswerFormat: "prose"}

	Run(context.Background(), jobID, rec, input, baseDeps(registry, model))

	status, ok := registry.ReadStatus(jobID)
	if !ok {
		t.Fatal("expected a readable status")
	}
	if status.CurrentStage != jobs.StageFailed || status.Error == nil || status.Error.Code != "cancelled" {
		t.Fatalf("status = %+v, want terminal failed/cancelled", status)
	}
}
