// Package stagerunner implements the Stage Runner: Q&A Summary as a
// sequential gate, Overview and Judge as an independent parallel fan-out,
// grounded on _execute_parallel_stages / _create_new_job in the original
// summary_workflow.py and adapted into Go as an explicit two-goroutine
// fan-out rather than a generic parallel-map helper (SPEC_FULL.md §12),
// matching the original's explicit per-future bookkeeping.
package stagerunner

// AnalystQuestionProse is one Q&A pair in the prose answer format.
type AnalystQuestionProse struct {
	Question      string `json:"question"`
	AnswerSummary string `json:"answer_summary"`
}

// AnalystProse groups one analyst's prose-format questions.
type AnalystProse struct {
	Name      string                 `json:"name"`
	Firm      string                 `json:"firm"`
	Questions []AnalystQuestionProse `json:"questions"`
}

// AnswerBullet is one executive's bullet-point answer.
type AnswerBullet struct {
	Executive     string   `json:"executive"`
	AnswerSummary []string `json:"answer_summary"`
}

// AnalystQuestionBullet is one Q&A pair in the bullet answer format; either
// Answers (multi-executive) or the legacy flat AnswerSummary is present.
type AnalystQuestionBullet struct {
	Question            string         `json:"question"`
	Answers             []AnswerBullet `json:"answers,omitempty"`
	LegacyAnswerSummary []string       `json:"answer_summary,omitempty"`
}

// AnalystBullet groups one analyst's bullet-format questions.
type AnalystBullet struct {
	Name      string                  `json:"name"`
	Firm      string                  `json:"firm"`
	Questions []AnalystQuestionBullet `json:"questions"`
}

// QAEarningsProse is the earnings-call, prose-answer Q&A schema.
type QAEarningsProse struct {
	Title    string         `json:"title"`
	Analysts []AnalystProse `json:"analysts"`
}

// QAEarningsBullet is the earnings-call, bullet-answer Q&A schema.
type QAEarningsBullet struct {
	Title    string          `json:"title"`
	Analysts []AnalystBullet `json:"analysts"`
}

// ConferenceTopicProse groups one topic's prose-format analyst Q&A.
type ConferenceTopicProse struct {
	Topic           string         `json:"topic"`
	QuestionAnswers []AnalystProse `json:"question_answers"`
}

// ConferenceTopicBullet groups one topic's bullet-format analyst Q&A.
type ConferenceTopicBullet struct {
	Topic           string          `json:"topic"`
	QuestionAnswers []AnalystBullet `json:"question_answers"`
}

// QAConferenceProse is the conference-call, prose-answer Q&A schema.
type QAConferenceProse struct {
	Title  string                 `json:"title"`
	Topics []ConferenceTopicProse `json:"topics"`
}

// QAConferenceBullet is the conference-call, bullet-answer Q&A schema.
type QAConferenceBullet struct {
	Title  string                  `json:"title"`
	Topics []ConferenceTopicBullet `json:"topics"`
}

// Executive is one named executive in the Overview output.
type Executive struct {
	ExecutiveName string `json:"executive_name"`
	Role          string `json:"role"`
}

// GuidanceItem is one forward-looking guidance line in the Overview output.
type GuidanceItem struct {
	PeriodLabel       string `json:"period_label"`
	MetricName        string `json:"metric_name"`
	MetricDescription string `json:"metric_description"`
}

// Overview is the Overview Summary output schema (spec.md §4.5).
type Overview struct {
	ExecutivesList  []Executive    `json:"executives_list"`
	Overview        string         `json:"overview"`
	GuidanceOutlook []GuidanceItem `json:"guidance_outlook,omitempty"`
}

// JudgeError is one failed-criterion detail in the Judge output.
type JudgeError struct {
	Error          string `json:"error"`
	SummaryText    string `json:"summary_text"`
	TranscriptText string `json:"transcript_text"`
}

// EvaluationResult is one evaluated metric in the Judge output.
type EvaluationResult struct {
	MetricName string       `json:"metric_name"`
	Passed     bool         `json:"passed"`
	Errors     []JudgeError `json:"errors"`
}

// OverallAssessment summarizes the Judge's evaluation results.
type OverallAssessment struct {
	TotalCriteria       int     `json:"total_criteria"`
	PassedCriteria      int     `json:"passed_criteria"`
	FailedCriteria      int     `json:"failed_criteria"`
	OverallPassed       bool    `json:"overall_passed"`
	PassRate            float64 `json:"pass_rate"`
	EvaluationTimestamp string  `json:"evaluation_timestamp"`
	EvaluationSummary   string  `json:"evaluation_summary"`
}

// Judge is the Summary Evaluation output schema (spec.md §4.5).
type Judge struct {
	EvaluationResults []EvaluationResult `json:"evaluation_results"`
	OverallAssessment  OverallAssessment  `json:"overall_assessment"`
}
