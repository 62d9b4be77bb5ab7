package stagerunner

import "testing"

func requiredFields(schema map[string]interface{}) []string {
	req, _ := schema["required"].([]string)
	return req
}

func TestQASchema_SelectsEarningsProse(t *testing.T) {
	tf := qaSchema("earnings", "prose")
	if tf.Name != "qa_earnings_prose" {
		t.Errorf("Name = %q", tf.Name)
	}
	props := tf.Schema["properties"].(map[string]interface{})
	if _, ok := props["analysts"]; !ok {
		t.Error("earnings schema must have an \"analysts\" property")
	}
}

func TestQASchema_SelectsConferenceBullet(t *testing.T) {
	tf := qaSchema("conference", "bullet")
	if tf.Name != "qa_conference_bullet" {
		t.Errorf("Name = %q", tf.Name)
	}
	props := tf.Schema["properties"].(map[string]interface{})
	if _, ok := props["topics"]; !ok {
		t.Error("conference schema must have a \"topics\" property")
	}
}

func TestQASchema_BulletAnalystAllowsLegacyAnswerSummary(t *testing.T) {
	tf := qaSchema("earnings", "bullet")
	props := tf.Schema["properties"].(map[string]interface{})
	analysts := props["analysts"].(map[string]interface{})
	questionItem := analysts["items"].(map[string]interface{})["properties"].(map[string]interface{})["questions"].(map[string]interface{})["items"].(map[string]interface{})
	qProps := questionItem["properties"].(map[string]interface{})
	if _, ok := qProps["answers"]; !ok {
		t.Error("bullet question schema must expose \"answers\"")
	}
	if _, ok := qProps["answer_summary"]; !ok {
		t.Error("bullet question schema must keep the legacy \"answer_summary\" field")
	}
}

func TestOverviewSchema_RequiresExecutivesAndOverview(t *testing.T) {
	req := requiredFields(overviewSchema.Schema)
	want := map[string]bool{"executives_list": true, "overview": true}
	for _, r := range req {
		delete(want, r)
	}
	if len(want) != 0 {
		t.Errorf("overview schema missing required fields: %v", want)
	}
}

func TestJudgeSchema_HasOverallAssessmentFields(t *testing.T) {
	props := judgeSchema.Schema["properties"].(map[string]interface{})
	assessment := props["overall_assessment"].(map[string]interface{})
	assessmentProps := assessment["properties"].(map[string]interface{})
	for _, field := range []string{"total_criteria", "passed_criteria", "failed_criteria", "overall_passed", "pass_rate", "evaluation_timestamp", "evaluation_summary"} {
		if _, ok := assessmentProps[field]; !ok {
			t.Errorf("overall_assessment missing field %q", field)
		}
	}
}
