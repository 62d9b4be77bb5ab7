package stagerunner

// SelectQAPromptVersion implements the prompt configuration selector from
// spec.md §4.5: conference calls have no "short" form (short requests
// route to the long prompt), so call_type=conference ignores
// summaryLength entirely.
func SelectQAPromptVersion(callType, summaryLength, answerFormat string) string {
	bullet := answerFormat == "bullet"
	if callType == "conference" {
		if bullet {
			return "conference-long-bullet"
		}
		return "conference-long-prose"
	}
	// earnings
	length := summaryLength
	if length != "short" && length != "long" {
		length = "long"
	}
	if bullet {
		return "earnings-" + length + "-bullet"
	}
	return "earnings-" + length + "-prose"
}
