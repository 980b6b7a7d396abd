package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"hearing-processor/pkg/logger"
	"hearing-processor/pkg/metrics"
	"hearing-processor/pkg/models"
)

type probabilityResponse struct {
	Overall    *models.WinProbability       `json:"overall"`
	Timeline   []models.ProbabilitySnapshot `json:"timeline"`
	KeyFactors []struct {
		Description string   `json:"description"`
		Impact      string   `json:"impact"`
		Strength    float64  `json:"strength"`
		Party       string   `json:"party"`
		Evidence    []string `json:"evidence"`
	} `json:"keyFactors"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"modelVersion"`
}

// ProbabilityAnalyzer asks the generator for win-probability estimates.
type ProbabilityAnalyzer struct {
	gen     Generator
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewProbabilityAnalyzer(gen Generator, m *metrics.Metrics, log *logger.Logger) *ProbabilityAnalyzer {
	if log == nil {
		log = logger.Discard()
	}
	return &ProbabilityAnalyzer{gen: gen, metrics: m, log: log}
}

// Analyze returns the parsed estimate. The plaintiff and defendant figures
// are kept as reported even when they do not add up to 100.
func (a *ProbabilityAnalyzer) Analyze(ctx context.Context, sessionID string, transcript *models.Transcript) (*models.ProbabilityAnalysis, error) {
	analysis := &models.ProbabilityAnalysis{
		ID:           models.NewID(),
		SessionID:    sessionID,
		Timeline:     []models.ProbabilitySnapshot{},
		KeyFactors:   []models.KeyFactor{},
		ModelVersion: a.gen.Name(),
	}
	if transcript == nil || len(transcript.Segments) == 0 {
		return analysis, nil
	}

	start := time.Now()
	content, err := a.gen.Complete(ctx, buildProbabilityPrompt(transcript))
	a.metrics.RecordProviderCall(a.gen.Name(), time.Since(start).Seconds(), err)
	if err != nil {
		return nil, a.providerError(Retryable(err), err)
	}

	var resp probabilityResponse
	if err := decodeContent(content, &resp); err != nil {
		return nil, a.providerError(false, fmt.Errorf("malformed probability analysis: %w", err))
	}
	if resp.Overall == nil {
		return nil, a.providerError(false, fmt.Errorf("malformed probability analysis: missing overall estimate"))
	}

	analysis.Overall = *resp.Overall
	analysis.Confidence = clamp01(resp.Confidence)
	if resp.ModelVersion != "" {
		analysis.ModelVersion = resp.ModelVersion
	}
	if resp.Timeline != nil {
		analysis.Timeline = resp.Timeline
	}
	sort.SliceStable(analysis.Timeline, func(i, j int) bool {
		return analysis.Timeline[i].Timestamp < analysis.Timeline[j].Timestamp
	})

	for _, f := range resp.KeyFactors {
		evidence := f.Evidence
		if evidence == nil {
			evidence = []string{}
		}
		analysis.KeyFactors = append(analysis.KeyFactors, models.KeyFactor{
			Description: strings.TrimSpace(f.Description),
			Impact:      normalizeImpact(f.Impact),
			Strength:    clamp01(f.Strength),
			Party:       f.Party,
			Evidence:    evidence,
		})
	}

	if sum := analysis.Overall.Plaintiff + analysis.Overall.Defendant; math.Abs(sum-100) > 0.5 {
		a.log.WithSession(sessionID).WithFields(logrus.Fields{
			"plaintiff": analysis.Overall.Plaintiff,
			"defendant": analysis.Overall.Defendant,
		}).Warn("win probabilities do not sum to 100")
	}
	return analysis, nil
}

func (a *ProbabilityAnalyzer) providerError(recoverable bool, err error) error {
	return &models.ProviderError{
		Stage:       models.StageProbabilityAnalysis,
		Provider:    a.gen.Name(),
		Recoverable: recoverable,
		Err:         err,
	}
}

func normalizeImpact(s string) models.Impact {
	switch models.Impact(strings.ToLower(strings.TrimSpace(s))) {
	case models.ImpactPositive:
		return models.ImpactPositive
	case models.ImpactNegative:
		return models.ImpactNegative
	default:
		return models.ImpactNeutral
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
