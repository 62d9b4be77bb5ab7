package stagerunner

import "github.com/Tatiwuli/financial-summarizer/internal/ai"

// jsonSchema helpers keep the per-stage schema builders below readable;
// they are plain map[string]interface{} since that is what ai.TextFormat
// carries across the provider boundary.
func obj(props map[string]interface{}, required ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func arr(items map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": items}
}

func str() map[string]interface{} { return map[string]interface{}{"type": "string"} }
func boolean() map[string]interface{} { return map[string]interface{}{"type": "boolean"} }
func integer() map[string]interface{} { return map[string]interface{}{"type": "integer"} }
func number() map[string]interface{} { return map[string]interface{}{"type": "number"} }

var analystQuestionProseSchema = obj(map[string]interface{}{
	"question":       str(),
	"answer_summary": str(),
}, "question", "answer_summary")

var analystProseSchema = obj(map[string]interface{}{
	"name":      str(),
	"firm":      str(),
	"questions": arr(analystQuestionProseSchema),
}, "name", "firm", "questions")

var answerBulletSchema = obj(map[string]interface{}{
	"executive":      str(),
	"answer_summary": arr(str()),
}, "executive", "answer_summary")

var analystQuestionBulletSchema = obj(map[string]interface{}{
	"question":       str(),
	"answers":        arr(answerBulletSchema),
	"answer_summary": arr(str()),
}, "question")

var analystBulletSchema = obj(map[string]interface{}{
	"name":      str(),
	"firm":      str(),
	"questions": arr(analystQuestionBulletSchema),
}, "name", "firm", "questions")

// qaSchema returns the TextFormat for one of the six Q&A prompt
// combinations named in spec.md §4.5's prompt-selector table.
func qaSchema(callType, answerFormat string) *ai.TextFormat {
	bullet := answerFormat == "bullet"
	if callType == "conference" {
		if bullet {
			return &ai.TextFormat{Name: "qa_conference_bullet", Schema: obj(map[string]interface{}{
				"title": str(),
				"topics": arr(obj(map[string]interface{}{
					"topic":            str(),
					"question_answers": arr(analystBulletSchema),
				}, "topic", "question_answers")),
			}, "title", "topics")}
		}
		return &ai.TextFormat{Name: "qa_conference_prose", Schema: obj(map[string]interface{}{
			"title": str(),
			"topics": arr(obj(map[string]interface{}{
				"topic":            str(),
				"question_answers": arr(analystProseSchema),
			}, "topic", "question_answers")),
		}, "title", "topics")}
	}

	if bullet {
		return &ai.TextFormat{Name: "qa_earnings_bullet", Schema: obj(map[string]interface{}{
			"title":    str(),
			"analysts": arr(analystBulletSchema),
		}, "title", "analysts")}
	}
	return &ai.TextFormat{Name: "qa_earnings_prose", Schema: obj(map[string]interface{}{
		"title":    str(),
		"analysts": arr(analystProseSchema),
	}, "title", "analysts")}
}

var overviewSchema = &ai.TextFormat{Name: "overview_summary", Schema: obj(map[string]interface{}{
	"executives_list": arr(obj(map[string]interface{}{
		"executive_name": str(),
		"role":           str(),
	}, "executive_name", "role")),
	"overview": str(),
	"guidance_outlook": arr(obj(map[string]interface{}{
		"period_label":       str(),
		"metric_name":        str(),
		"metric_description": str(),
	}, "period_label", "metric_name", "metric_description")),
}, "executives_list", "overview")}

var judgeSchema = &ai.TextFormat{Name: "summary_evaluation", Schema: obj(map[string]interface{}{
	"evaluation_results": arr(obj(map[string]interface{}{
		"metric_name": str(),
		"passed":      boolean(),
		"errors": arr(obj(map[string]interface{}{
			"error":           str(),
			"summary_text":    str(),
			"transcript_text": str(),
		}, "error", "summary_text", "transcript_text")),
	}, "metric_name", "passed", "errors")),
	"overall_assessment": obj(map[string]interface{}{
		"total_criteria":       integer(),
		"passed_criteria":      integer(),
		"failed_criteria":      integer(),
		"overall_passed":       boolean(),
		"pass_rate":            number(),
		"evaluation_timestamp": str(),
		"evaluation_summary":   str(),
	}, "total_criteria", "passed_criteria", "failed_criteria", "overall_passed", "pass_rate", "evaluation_timestamp", "evaluation_summary"),
}, "evaluation_results", "overall_assessment")}
