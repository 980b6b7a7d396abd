package analysis

import (
	"context"
	"fmt"
	"strings"
)

const mockJudgment = `{
  "points": [
    {"sequence": 2, "text": "The respondent shall pay the outstanding balance within thirty days.", "category": "order", "timestamp": 45, "confidence": 0.82},
    {"sequence": 1, "text": "The tribunal has reviewed the exhibits submitted by both parties.", "category": "finding", "timestamp": 35, "confidence": 0.9},
    {"sequence": 3, "text": "The matter is adjourned for a further hearing.", "category": "adjournment", "timestamp": 65, "confidence": 0.75}
  ],
  "finalDecision": {"outcome": "plaintiff", "reasoning": "Delivery under the service agreement was established by the exhibits.", "confidence": 0.7},
  "orders": [
    {"type": "payment", "description": "Respondent to pay the outstanding invoice balance", "amount": 12500, "dueDate": null, "affectedParties": ["defendant"]}
  ],
  "nextHearingDate": "%s"
}`

const mockProbability = `{
  "overall": {"plaintiff": 64, "defendant": 36},
  "timeline": [
    {"timestamp": 0, "plaintiff": 50, "defendant": 50, "event": "hearing opened"},
    {"timestamp": 15, "plaintiff": 58, "defendant": 42, "event": "claimant relied on signed agreement"},
    {"timestamp": 25, "plaintiff": 55, "defendant": 45, "event": "respondent disputed delivery dates"},
    {"timestamp": 45, "plaintiff": 64, "defendant": 36, "event": "payment direction issued"}
  ],
  "keyFactors": [
    {"description": "Signed service agreement on record", "impact": "positive", "strength": 0.8, "party": "plaintiff", "evidence": ["exhibit A"]},
    {"description": "Disputed delivery dates", "impact": "negative", "strength": 0.4, "party": "plaintiff", "evidence": []}
  ],
  "confidence": 0.6,
  "modelVersion": "mock-llm-1"
}`

// MockGenerator returns canned JSON for each prompt kind so the service can
// run without a gateway.
type MockGenerator struct {
	// NextHearingDate is echoed into the judgment; empty means none.
	NextHearingDate string
}

func NewMockGenerator(nextHearingDate string) *MockGenerator {
	return &MockGenerator{NextHearingDate: nextHearingDate}
}

func (g *MockGenerator) Name() string { return "mock-llm" }

func (g *MockGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch {
	case strings.HasPrefix(prompt, judgmentTask):
		out := fmt.Sprintf(mockJudgment, g.NextHearingDate)
		if g.NextHearingDate == "" {
			out = strings.Replace(out, `"nextHearingDate": ""`, `"nextHearingDate": null`, 1)
		}
		return out, nil
	case strings.HasPrefix(prompt, probabilityTask):
		return mockProbability, nil
	}
	return "", fmt.Errorf("mock generator: unrecognised prompt")
}
