package funnel

import "github.com/MichaelRobotics/Hustler-sub011/internal/models"

// ClassifyPhase maps a stage name to a funnel phase. Unknown or empty names
// classify as COMPLETED so downstream consumers always get a usable value.
func ClassifyPhase(stageName models.StageName) models.Phase {
	switch stageName {
	case models.StageWelcome:
		return models.PhaseOne
	case models.StageValueDelivery:
		return models.PhaseTwo
	default:
		return models.PhaseCompleted
	}
}

// ClassifyBlockPhase classifies a block by the stage that owns it. A block id
// not covered by any stage, including an unknown id, classifies as COMPLETED.
// Pure and total: never errors for any input.
func ClassifyBlockPhase(blockID string, graph *models.FunnelGraph) models.Phase {
	if graph == nil {
		return models.PhaseCompleted
	}
	stage, ok := graph.StageOf(blockID)
	if !ok {
		return models.PhaseCompleted
	}
	return ClassifyPhase(stage.Name)
}

// ClassifyTransition reports the phase movement implied by a stage change.
func ClassifyTransition(fromStage, toStage models.StageName) models.PhaseTransition {
	return models.PhaseTransition{
		From: ClassifyPhase(fromStage),
		To:   ClassifyPhase(toStage),
	}
}

// CrossesIntoPhaseTwo reports whether a move between the given phases is the
// PHASE1 to PHASE2 boundary. The conversation's phase2 timestamp is stamped
// only on this exact crossing, and only the first time.
func CrossesIntoPhaseTwo(from, to models.Phase) bool {
	return from == models.PhaseOne && to == models.PhaseTwo
}
