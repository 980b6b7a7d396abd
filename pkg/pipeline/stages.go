package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"hearing-processor/pkg/analysis"
	"hearing-processor/pkg/artifacts"
	"hearing-processor/pkg/models"
)

// steps returns the stage handlers in the order of stageTable.
func (m *Manager) steps() []step {
	handlers := map[models.StageName]func(context.Context, *hearingRun) error{
		models.StageExtraction:          m.extractAudio,
		models.StageTranscription:       m.transcribe,
		models.StageSpeakerID:           m.identifySpeakers,
		models.StageJudgmentExtraction:  m.extractJudgment,
		models.StageProbabilityAnalysis: m.analyzeProbability,
		models.StagePDFGeneration:       m.generatePDF,
		models.StageCalendarIntegration: m.scheduleNextHearing,
	}
	out := make([]step, 0, len(stageTable))
	for _, s := range stageTable {
		out = append(out, step{name: s.stage, run: handlers[s.stage]})
	}
	return out
}

func (m *Manager) extractAudio(ctx context.Context, r *hearingRun) error {
	asset, err := m.deps.Extractor.Extract(ctx, r.request.MediaURL, r.workDir)
	if err != nil {
		return err
	}
	chunks, err := m.deps.Chunker.Split(asset, filepath.Join(r.workDir, "chunks"))
	if err != nil {
		return fmt.Errorf("chunking failed: %w", err)
	}
	r.asset = asset
	r.chunks = chunks
	m.deps.Metrics.RecordChunks(len(chunks))
	m.refineEstimate(r.sessionID, asset.DurationSeconds)

	m.log.WithSession(r.sessionID).WithField("chunks", len(chunks)).
		WithField("duration_seconds", asset.DurationSeconds).Debug("audio extracted")
	return nil
}

func (m *Manager) transcribe(ctx context.Context, r *hearingRun) error {
	transcript, err := m.deps.Transcriber.Run(ctx, r.sessionID, r.chunks, r.request.Language)
	if err != nil {
		return err
	}
	r.transcript = transcript
	return nil
}

func (m *Manager) identifySpeakers(ctx context.Context, r *hearingRun) error {
	r.transcript.Segments = m.deps.Speakers.AssignSpeakers(r.transcript.Segments, r.request.Participants)
	return nil
}

func (m *Manager) extractJudgment(ctx context.Context, r *hearingRun) error {
	judgment, err := m.deps.Judgments.Extract(ctx, r.sessionID, r.request.HearingDate, r.transcript)
	if err != nil {
		return err
	}
	analysis.FlagSegments(r.transcript.Segments, judgment)
	r.judgment = judgment
	return nil
}

func (m *Manager) analyzeProbability(ctx context.Context, r *hearingRun) error {
	result, err := m.deps.Probability.Analyze(ctx, r.sessionID, r.transcript)
	if err != nil {
		return err
	}
	r.analysis = result
	return nil
}

func (m *Manager) generatePDF(ctx context.Context, r *hearingRun) error {
	ref, err := m.deps.PDF.Render(ctx, artifacts.JudgmentDocument{
		SessionID:    r.sessionID,
		CaseID:       r.request.CaseID,
		HearingDate:  r.request.HearingDate,
		Participants: r.request.Participants,
		Judgment:     r.judgment,
		Analysis:     r.analysis,
	})
	if err != nil {
		return err
	}
	r.pdfRef = ref
	return nil
}

func (m *Manager) scheduleNextHearing(ctx context.Context, r *hearingRun) error {
	if r.judgment == nil || r.judgment.NextHearingDate == nil {
		return errSkipped
	}
	event := artifacts.NextHearingEvent(r.sessionID, r.request.CaseID, r.request.Participants, *r.judgment.NextHearingDate)
	id, err := m.deps.Calendar.Schedule(ctx, event)
	if err != nil {
		return err
	}
	r.eventID = id
	return nil
}
