package funnel

import (
	"testing"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
)

func TestClassifyPhase(t *testing.T) {
	tests := []struct {
		stage models.StageName
		want  models.Phase
	}{
		{models.StageWelcome, models.PhaseOne},
		{models.StageValueDelivery, models.PhaseTwo},
		{models.StageOffer, models.PhaseCompleted},
		{models.StageTransition, models.PhaseCompleted},
		{models.StagePainPointQualification, models.PhaseCompleted},
		{models.StageName("SOMETHING_NEW"), models.PhaseCompleted},
		{models.StageName(""), models.PhaseCompleted},
	}
	for _, tt := range tests {
		if got := ClassifyPhase(tt.stage); got != tt.want {
			t.Errorf("ClassifyPhase(%q) = %v, want %v", tt.stage, got, tt.want)
		}
	}
}

func TestClassifyBlockPhase(t *testing.T) {
	graph := &models.FunnelGraph{
		ID:           "f1",
		ExperienceID: "exp1",
		StartBlockID: "w1",
		Stages: []models.Stage{
			{Name: models.StageWelcome, BlockIDs: []string{"w1"}},
			{Name: models.StageValueDelivery, BlockIDs: []string{"v1"}},
		},
		Blocks: map[string]models.Block{
			"w1":     {ID: "w1", Message: "hi"},
			"v1":     {ID: "v1", Message: "value"},
			"orphan": {ID: "orphan", Message: "no stage"},
		},
	}

	if got := ClassifyBlockPhase("w1", graph); got != models.PhaseOne {
		t.Errorf("welcome block classified as %v, want PHASE1", got)
	}
	if got := ClassifyBlockPhase("v1", graph); got != models.PhaseTwo {
		t.Errorf("value block classified as %v, want PHASE2", got)
	}
	if got := ClassifyBlockPhase("orphan", graph); got != models.PhaseCompleted {
		t.Errorf("stageless block classified as %v, want COMPLETED", got)
	}
	if got := ClassifyBlockPhase("does-not-exist", graph); got != models.PhaseCompleted {
		t.Errorf("unknown block classified as %v, want COMPLETED", got)
	}
	if got := ClassifyBlockPhase("w1", nil); got != models.PhaseCompleted {
		t.Errorf("nil graph classified as %v, want COMPLETED", got)
	}
}

func TestCrossesIntoPhaseTwo(t *testing.T) {
	if !CrossesIntoPhaseTwo(models.PhaseOne, models.PhaseTwo) {
		t.Error("PHASE1 to PHASE2 should cross")
	}
	if CrossesIntoPhaseTwo(models.PhaseTwo, models.PhaseTwo) {
		t.Error("staying in PHASE2 should not cross")
	}
	if CrossesIntoPhaseTwo(models.PhaseCompleted, models.PhaseTwo) {
		t.Error("COMPLETED to PHASE2 should not cross")
	}
	if CrossesIntoPhaseTwo(models.PhaseOne, models.PhaseCompleted) {
		t.Error("PHASE1 to COMPLETED should not cross")
	}
}
