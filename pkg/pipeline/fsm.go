package pipeline

import "hearing-processor/pkg/models"

// stageTable is the execution order of a session together with the overall
// progress reached once each stage has finished. Checkpoints are strictly
// increasing; reaching completed sets the session to 100.
var stageTable = []struct {
	stage      models.StageName
	checkpoint int
}{
	{models.StageExtraction, 10},
	{models.StageTranscription, 40},
	{models.StageSpeakerID, 50},
	{models.StageJudgmentExtraction, 65},
	{models.StageProbabilityAnalysis, 80},
	{models.StagePDFGeneration, 90},
	{models.StageCalendarIntegration, 95},
}

const completedProgress = 100

// checkpoint returns the session progress after stage completes.
func checkpoint(stage models.StageName) int {
	for _, s := range stageTable {
		if s.stage == stage {
			return s.checkpoint
		}
	}
	return 0
}

// isValidStageTransition enforces the allowed stage status edges.
func isValidStageTransition(from, to models.StageStatus) bool {
	switch from {
	case models.StagePending:
		return to == models.StageInProgress
	case models.StageInProgress:
		return to == models.StageCompleted || to == models.StageFailed || to == models.StageSkipped
	default:
		return false
	}
}

// isValidSessionTransition enforces the allowed session status edges.
func isValidSessionTransition(from, to models.SessionStatus) bool {
	switch from {
	case models.StatusQueued:
		return to == models.StatusProcessing || to == models.StatusFailed
	case models.StatusProcessing:
		return to == models.StatusCompleted || to == models.StatusFailed
	default:
		return false
	}
}

// artifactStage reports whether a stage only produces downstream artifacts
// and may be tolerated as failed in best-effort mode.
func artifactStage(stage models.StageName) bool {
	return stage == models.StagePDFGeneration || stage == models.StageCalendarIntegration
}
