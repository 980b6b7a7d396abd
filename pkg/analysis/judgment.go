package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"hearing-processor/pkg/logger"
	"hearing-processor/pkg/metrics"
	"hearing-processor/pkg/models"
)

type judgmentResponse struct {
	Points []struct {
		Sequence   int     `json:"sequence"`
		Text       string  `json:"text"`
		Category   string  `json:"category"`
		Timestamp  float64 `json:"timestamp"`
		Confidence float64 `json:"confidence"`
	} `json:"points"`
	FinalDecision *models.FinalDecision `json:"finalDecision"`
	Orders        []struct {
		Type            string   `json:"type"`
		Description     string   `json:"description"`
		Amount          *float64 `json:"amount"`
		DueDate         *string  `json:"dueDate"`
		AffectedParties []string `json:"affectedParties"`
	} `json:"orders"`
	NextHearingDate *string `json:"nextHearingDate"`
}

// JudgmentExtractor asks the generator for the ruling structure of a hearing.
type JudgmentExtractor struct {
	gen     Generator
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewJudgmentExtractor(gen Generator, m *metrics.Metrics, log *logger.Logger) *JudgmentExtractor {
	if log == nil {
		log = logger.Discard()
	}
	return &JudgmentExtractor{gen: gen, metrics: m, log: log}
}

// Extract returns the parsed judgment. A transcript without segments yields
// an empty judgment without calling the generator.
func (e *JudgmentExtractor) Extract(ctx context.Context, sessionID string, hearingDate time.Time, transcript *models.Transcript) (*models.Judgment, error) {
	judgment := &models.Judgment{
		ID:        models.NewID(),
		SessionID: sessionID,
		Points:    []models.JudgmentPoint{},
		Orders:    []models.Order{},
	}
	if transcript == nil || len(transcript.Segments) == 0 {
		return judgment, nil
	}

	start := time.Now()
	content, err := e.gen.Complete(ctx, buildJudgmentPrompt(transcript, hearingDate))
	e.metrics.RecordProviderCall(e.gen.Name(), time.Since(start).Seconds(), err)
	if err != nil {
		return nil, e.providerError(Retryable(err), err)
	}

	var resp judgmentResponse
	if err := decodeContent(content, &resp); err != nil {
		return nil, e.providerError(false, fmt.Errorf("malformed judgment: %w", err))
	}

	for _, p := range resp.Points {
		judgment.Points = append(judgment.Points, models.JudgmentPoint{
			Sequence:   p.Sequence,
			Text:       strings.TrimSpace(p.Text),
			Category:   strings.ToLower(strings.TrimSpace(p.Category)),
			Timestamp:  p.Timestamp,
			Confidence: p.Confidence,
		})
	}
	sort.SliceStable(judgment.Points, func(i, j int) bool {
		return judgment.Points[i].Sequence < judgment.Points[j].Sequence
	})

	if resp.FinalDecision != nil && resp.FinalDecision.Outcome != "" {
		judgment.FinalDecision = resp.FinalDecision
	}

	for i, o := range resp.Orders {
		due, err := parseDate(o.DueDate)
		if err != nil {
			return nil, e.providerError(false, fmt.Errorf("order %d: %w", i, err))
		}
		parties := o.AffectedParties
		if parties == nil {
			parties = []string{}
		}
		judgment.Orders = append(judgment.Orders, models.Order{
			Type:            o.Type,
			Description:     strings.TrimSpace(o.Description),
			Amount:          o.Amount,
			DueDate:         due,
			AffectedParties: parties,
		})
	}

	next, err := parseDate(resp.NextHearingDate)
	if err != nil {
		return nil, e.providerError(false, fmt.Errorf("next hearing date: %w", err))
	}
	judgment.NextHearingDate = next

	e.log.WithSession(sessionID).WithFields(logrus.Fields{
		"points": len(judgment.Points),
		"orders": len(judgment.Orders),
	}).Debug("judgment extracted")
	return judgment, nil
}

func (e *JudgmentExtractor) providerError(recoverable bool, err error) error {
	return &models.ProviderError{
		Stage:       models.StageJudgmentExtraction,
		Provider:    e.gen.Name(),
		Recoverable: recoverable,
		Err:         err,
	}
}

// FlagSegments marks the segments a judgment point was spoken in. Points
// categorised as orders also set IsOrder.
func FlagSegments(segments []models.Segment, judgment *models.Judgment) {
	if judgment == nil {
		return
	}
	for _, p := range judgment.Points {
		for i := range segments {
			s := &segments[i]
			if p.Timestamp < s.Start || p.Timestamp > s.End {
				continue
			}
			s.IsJudgment = true
			if p.Category == "order" {
				s.IsOrder = true
			}
			break
		}
	}
}
