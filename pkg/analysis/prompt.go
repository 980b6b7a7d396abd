package analysis

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"hearing-processor/pkg/models"
)

var errNoJSON = errors.New("no JSON object found in model output")

// Task markers let a mock generator tell the two prompts apart.
const (
	judgmentTask    = "TASK: judgment-extraction"
	probabilityTask = "TASK: probability-analysis"
)

const judgmentPrompt = `%s
You are a legal analyst reviewing an online dispute resolution hearing transcript.
Extract the ruling into the JSON schema below. Use only what is said in the transcript.
If information is missing, leave fields empty or null instead of inventing details.

SCHEMA (STRICT, RETURN ONLY JSON)
{
  "points": [
    {"sequence": 1, "text": "", "category": "finding|observation|ruling|order|adjournment", "timestamp": 0.0, "confidence": 0.0}
  ],
  "finalDecision": {"outcome": "plaintiff|defendant|settled|dismissed|pending", "reasoning": "", "confidence": 0.0},
  "orders": [
    {"type": "payment|compliance|costs|other", "description": "", "amount": null, "dueDate": "YYYY-MM-DD or null", "affectedParties": []}
  ],
  "nextHearingDate": "YYYY-MM-DD or null"
}

timestamp is the offset in seconds of the statement in the transcript.
affectedParties lists participant ids from the participant list.

HEARING DATE: %s

TRANSCRIPT:
%s

Return ONLY valid JSON that matches the schema. Do not wrap it in backticks.
`

const probabilityPrompt = `%s
You are a litigation analyst. Estimate the probability that each party prevails
based only on the hearing transcript below, and list the factors that drive the estimate.

SCHEMA (STRICT, RETURN ONLY JSON)
{
  "overall": {"plaintiff": 0.0, "defendant": 0.0},
  "timeline": [
    {"timestamp": 0.0, "plaintiff": 0.0, "defendant": 0.0, "event": ""}
  ],
  "keyFactors": [
    {"description": "", "impact": "positive|negative|neutral", "strength": 0.0, "party": "plaintiff|defendant", "evidence": []}
  ],
  "confidence": 0.0,
  "modelVersion": ""
}

Probabilities are percentages (0-100). strength is between 0 and 1.
timeline timestamps are offsets in seconds into the transcript.

TRANSCRIPT:
%s

Return ONLY valid JSON that matches the schema. Do not wrap it in backticks.
`

// renderTranscript lays out one "[mm:ss] role(id): text" line per segment.
func renderTranscript(t *models.Transcript) string {
	var b strings.Builder
	for _, s := range t.Segments {
		speaker := string(s.SpeakerRole)
		if speaker == "" {
			speaker = string(models.RoleUnknown)
		}
		if s.SpeakerID != "" {
			speaker += "(" + s.SpeakerID + ")"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", clock(s.Start), speaker, strings.TrimSpace(s.Text))
	}
	return b.String()
}

func clock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func buildJudgmentPrompt(t *models.Transcript, hearingDate time.Time) string {
	date := "unknown"
	if !hearingDate.IsZero() {
		date = hearingDate.Format("2006-01-02")
	}
	return fmt.Sprintf(judgmentPrompt, judgmentTask, date, renderTranscript(t))
}

func buildProbabilityPrompt(t *models.Transcript) string {
	return fmt.Sprintf(probabilityPrompt, probabilityTask, renderTranscript(t))
}

// parseDate accepts RFC3339 timestamps or bare calendar dates.
func parseDate(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised date %q", v)
}
