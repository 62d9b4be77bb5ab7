package stagerunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Tatiwuli/financial-summarizer/internal/ai"
	"github.com/Tatiwuli/financial-summarizer/internal/apperr"
	"github.com/Tatiwuli/financial-summarizer/internal/jobs"
	"github.com/Tatiwuli/financial-summarizer/internal/metrics"
	"github.com/Tatiwuli/financial-summarizer/internal/prompts"
	"github.com/Tatiwuli/financial-summarizer/internal/transcript"
)

// Default max_output_tokens per stage. Not spec-mandated; chosen to be
// generous enough for each schema's expected shape.
const (
	qaMaxOutputTokens       = 8000
	overviewMaxOutputTokens = 2000
	judgeMaxOutputTokens    = 3000
)

// Deps wires the Stage Runner to its collaborators (spec.md §4.5).
type Deps struct {
	Registry *jobs.Registry
	Model    ai.Client
	Prompts  prompts.Provider

	RateLimitThreshold int
	BackoffSleep       time.Duration
	FanOutDeadline     time.Duration
	ModelTimeout       time.Duration

	QAModel       string
	OverviewModel string
	JudgeModel    string

	OverviewPromptVersion string
	JudgePromptVersion    string
}

func ptrStr(s string) *string { return &s }
func ptrInt(i int) *int       { return &i }

// Run executes the pipeline for one job: the Q&A Summary sequential gate,
// then a parallel fan-out of Overview and Judge, then finalization
// (spec.md §4.5). Intended to run in its own goroutine, started by the
// HTTP submit handler so it never blocks the handler's response.
func Run(ctx context.Context, jobID string, rec transcript.Record, input transcript.Input, deps Deps) {
	token := deps.Registry.TokenFor(jobID)

	// Step 1: cancel preflight.
	if token.Cancelled() {
		_ = deps.Registry.Cancel(jobID)
		return
	}

	qaPromptVersion := SelectQAPromptVersion(input.CallType, input.SummaryLength, input.AnswerFormat)
	schema := qaSchema(input.CallType, input.AnswerFormat)

	_ = deps.Registry.UpdateStatus(jobID, jobs.StatusPatch{
		CurrentStage:    ptrStr(jobs.StageQA),
		Stages:          map[string]string{jobs.StageQA: jobs.StatusRunning},
		PercentComplete: ptrInt(25),
	})

	qaReq := ai.Request{
		Model:           deps.QAModel,
		Stage:           jobs.StageQA,
		SystemPrompt:    deps.Prompts.SystemPrompt(qaPromptVersion),
		UserPrompt:      deps.Prompts.UserPrompt(qaPromptVersion, rec.Transcripts.QA),
		MaxOutputTokens: qaMaxOutputTokens,
		TextFormat:      schema,
	}

	qaCtx, cancel := context.WithTimeout(ctx, deps.ModelTimeout)
	start := time.Now()
	qaResp, err := deps.Model.Generate(qaCtx, qaReq)
	cancel()

	if err != nil {
		code := apperr.CodeLLMSummaryError
		if e, ok := ai.AsError(err); ok && e.Kind == ai.KindInvalidJSON {
			code = apperr.CodeLLMInvalidJSON
		}
		metrics.ObserveStage(jobs.StageQA, "failed", time.Since(start))
		failJob(deps.Registry, jobID, jobs.StageQA, code, err.Error())
		return
	}
	metrics.ObserveStage(jobs.StageQA, "completed", time.Since(start))

	if err := deps.Registry.WriteOutput(jobID, "q_a_summary", jobs.OutputFile{
		Metadata: buildMetadata(qaResp, qaPromptVersion),
		Data:     json.RawMessage(qaResp.Parsed),
	}); err != nil {
		failJob(deps.Registry, jobID, jobs.StageQA, apperr.CodePersistError, err.Error())
		return
	}

	_ = deps.Registry.UpdateStatus(jobID, jobs.StatusPatch{
		CurrentStage:    ptrStr(jobs.StageOverview),
		Stages:          map[string]string{jobs.StageQA: jobs.StatusCompleted},
		PercentComplete: ptrInt(55),
	})

	// Step 3: single, non-retried rate-limit backoff sleep.
	if qaResp.RemainingTokens != nil && *qaResp.RemainingTokens < deps.RateLimitThreshold {
		select {
		case <-time.After(deps.BackoffSleep):
		case <-ctx.Done():
		case <-token.Done():
		}
	}

	// Step 4: cancel check before fan-out.
	if token.Cancelled() {
		_ = deps.Registry.Cancel(jobID)
		return
	}

	runFanOut(ctx, token, jobID, rec, qaResp, deps)
}

// runFanOut runs Overview and Judge as independent tasks with a combined
// wall-clock deadline (spec.md §4.5 step 5), then finalizes the job.
func runFanOut(ctx context.Context, token *jobs.CancelToken, jobID string, rec transcript.Record, qaResp ai.Response, deps Deps) {
	fanCtx, fanCancel := context.WithTimeout(ctx, deps.FanOutDeadline)
	defer fanCancel()

	resultsCh := make(chan string, 2)

	go func() {
		req := ai.Request{
			Model:           deps.OverviewModel,
			Stage:           jobs.StageOverview,
			SystemPrompt:    deps.Prompts.SystemPrompt(deps.OverviewPromptVersion),
			UserPrompt:      deps.Prompts.UserPrompt(deps.OverviewPromptVersion, rec.Transcripts.Presentation),
			MaxOutputTokens: overviewMaxOutputTokens,
			TextFormat:      overviewSchema,
		}
		runFanOutStage(fanCtx, token, jobID, jobs.StageOverview, "overview_summary", req, apperr.CodeLLMOverviewError, deps)
		resultsCh <- jobs.StageOverview
	}()

	go func() {
		judgePrompt := fmt.Sprintf("Q&A transcript:\n%s\n\nQ&A summary produced:\n%s", rec.Transcripts.QA, string(qaResp.Parsed))
		req := ai.Request{
			Model:           deps.JudgeModel,
			Stage:           jobs.StageJudge,
			SystemPrompt:    deps.Prompts.SystemPrompt(deps.JudgePromptVersion),
			UserPrompt:      deps.Prompts.UserPrompt(deps.JudgePromptVersion, judgePrompt),
			MaxOutputTokens: judgeMaxOutputTokens,
			TextFormat:      judgeSchema,
		}
		runFanOutStage(fanCtx, token, jobID, jobs.StageJudge, "summary_evaluation", req, apperr.CodeLLMJudgeError, deps)
		resultsCh <- jobs.StageJudge
	}()

	pending := map[string]bool{jobs.StageOverview: true, jobs.StageJudge: true}
	for len(pending) > 0 {
		select {
		case stage := <-resultsCh:
			delete(pending, stage)
		case <-fanCtx.Done():
			for stage := range pending {
				_ = deps.Registry.UpdateStatus(jobID, jobs.StatusPatch{Stages: map[string]string{stage: jobs.StatusFailed}})
				_ = deps.Registry.AppendWarning(jobID, stage+": timed out")
				metrics.ObserveStage(stage, "failed", deps.FanOutDeadline)
			}
			pending = map[string]bool{}
		case <-token.Done():
			pending = map[string]bool{}
		}
	}

	if token.Cancelled() {
		_ = deps.Registry.Cancel(jobID)
		return
	}

	// Step 6: finalization. Both parallel tasks have terminated; Q&A
	// already completed (the only way this function is reached), and
	// every reachable path above leaves Overview/Judge in
	// {completed, failed} — never pending or running.
	_ = deps.Registry.UpdateStatus(jobID, jobs.StatusPatch{
		CurrentStage:    ptrStr(jobs.StageCompleted),
		PercentComplete: ptrInt(100),
	})
}

// runFanOutStage runs one independent fan-out task: mark running, invoke
// the Model Client, then either persist + mark completed or mark failed
// and warn. Failure here never cancels the sibling task (spec.md §4.5).
func runFanOutStage(ctx context.Context, token *jobs.CancelToken, jobID, stage, outputName string, req ai.Request, failCode string, deps Deps) {
	_ = deps.Registry.UpdateStatus(jobID, jobs.StatusPatch{Stages: map[string]string{stage: jobs.StatusRunning}})

	callCtx, cancel := context.WithTimeout(ctx, deps.ModelTimeout)
	start := time.Now()
	resp, err := deps.Model.Generate(callCtx, req)
	cancel()

	if err != nil {
		code := failCode
		if e, ok := ai.AsError(err); ok && e.Kind == ai.KindInvalidJSON {
			code = apperr.CodeLLMInvalidJSON
		}
		metrics.ObserveStage(stage, "failed", time.Since(start))
		_ = deps.Registry.UpdateStatus(jobID, jobs.StatusPatch{Stages: map[string]string{stage: jobs.StatusFailed}})
		_ = deps.Registry.AppendWarning(jobID, fmt.Sprintf("%s: %s (%s)", stage, err.Error(), code))
		return
	}
	metrics.ObserveStage(stage, "completed", time.Since(start))

	// Cancellation observed between the call returning and the write: the
	// result is discarded, matching spec.md §5's cooperative cancellation
	// contract (Cancel() already finalized the job's terminal state).
	if token.Cancelled() {
		return
	}

	promptVersion := deps.JudgePromptVersion
	if stage == jobs.StageOverview {
		promptVersion = deps.OverviewPromptVersion
	}
	if err := deps.Registry.WriteOutput(jobID, outputName, jobs.OutputFile{
		Metadata: buildMetadata(resp, promptVersion),
		Data:     json.RawMessage(resp.Parsed),
	}); err != nil {
		_ = deps.Registry.UpdateStatus(jobID, jobs.StatusPatch{Stages: map[string]string{stage: jobs.StatusFailed}})
		_ = deps.Registry.AppendWarning(jobID, fmt.Sprintf("%s: %v", stage, err))
		return
	}
	_ = deps.Registry.UpdateStatus(jobID, jobs.StatusPatch{Stages: map[string]string{stage: jobs.StatusCompleted}})
}

func failJob(registry *jobs.Registry, jobID, stage, code, message string) {
	_ = registry.UpdateStatus(jobID, jobs.StatusPatch{
		CurrentStage: ptrStr(jobs.StageFailed),
		Stages:       map[string]string{stage: jobs.StatusFailed},
		Error:        &jobs.ErrInfo{Code: code, Message: message},
	})
	_ = registry.AppendWarning(jobID, fmt.Sprintf("%s: %s", stage, message))
}

func buildMetadata(resp ai.Response, promptVersion string) map[string]interface{} {
	m := map[string]interface{}{
		"model":            resp.Model,
		"input_tokens":     resp.InputTokens,
		"output_tokens":    resp.OutputTokens,
		"reasoning_tokens": resp.ReasoningTokens,
		"finish_reason":    resp.FinishReason,
		"duration_seconds": resp.DurationSeconds,
		"prompt_version":   promptVersion,
	}
	if resp.RemainingTokens != nil {
		m["remaining_tokens"] = *resp.RemainingTokens
	}
	return m
}
