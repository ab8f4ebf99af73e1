package models

import (
	"errors"
	"testing"
)

func validGraph() FunnelGraph {
	return FunnelGraph{
		ID:           "funnel-1",
		ExperienceID: "exp-1",
		Version:      1,
		StartBlockID: "start",
		Stages: []Stage{
			{Name: StageWelcome, BlockIDs: []string{"start"}},
			{Name: StageValueDelivery, BlockIDs: []string{"info"}},
		},
		Blocks: map[string]Block{
			"start": {ID: "start", Message: "Hi there", Options: []Option{{Text: "Tell me more", NextBlockID: "info"}}},
			"info":  {ID: "info", Message: "Here is the value", Options: []Option{{Text: "Done"}}},
		},
	}
}

func TestFunnelGraphValidate(t *testing.T) {
	g := validGraph()
	if err := g.Validate(); err != nil {
		t.Fatalf("valid graph rejected: %v", err)
	}
}

func TestFunnelGraphValidateDanglingOption(t *testing.T) {
	g := validGraph()
	g.Blocks["start"] = Block{ID: "start", Message: "Hi", Options: []Option{{Text: "Go", NextBlockID: "missing"}}}
	if err := g.Validate(); !errors.Is(err, ErrDanglingOptionTarget) {
		t.Errorf("expected ErrDanglingOptionTarget, got %v", err)
	}
}

func TestFunnelGraphValidateTerminalOptionAllowed(t *testing.T) {
	g := validGraph()
	// "Done" on info has no target; that is a terminal leaf, not a dangling reference.
	if err := g.Validate(); err != nil {
		t.Errorf("terminal option should be allowed: %v", err)
	}
}

func TestFunnelGraphValidateUnknownStartBlock(t *testing.T) {
	g := validGraph()
	g.StartBlockID = "nope"
	if err := g.Validate(); !errors.Is(err, ErrUnknownStartBlock) {
		t.Errorf("expected ErrUnknownStartBlock, got %v", err)
	}
}

func TestFunnelGraphValidateStageUnknownBlock(t *testing.T) {
	g := validGraph()
	g.Stages = append(g.Stages, Stage{Name: StageOffer, BlockIDs: []string{"ghost"}})
	if err := g.Validate(); !errors.Is(err, ErrUnknownStageBlock) {
		t.Errorf("expected ErrUnknownStageBlock, got %v", err)
	}
}

func TestStageOf(t *testing.T) {
	g := validGraph()
	stage, ok := g.StageOf("info")
	if !ok {
		t.Fatal("expected info to be owned by a stage")
	}
	if stage.Name != StageValueDelivery {
		t.Errorf("expected VALUE_DELIVERY, got %s", stage.Name)
	}
	if _, ok := g.StageOf("unknown"); ok {
		t.Error("unknown block should not belong to any stage")
	}
}

func TestFindStage(t *testing.T) {
	g := validGraph()
	if _, ok := g.FindStage(StageWelcome); !ok {
		t.Error("expected WELCOME stage to be found")
	}
	if _, ok := g.FindStage(StageOffer); ok {
		t.Error("OFFER stage should be absent")
	}
}

func TestOptionIsTerminal(t *testing.T) {
	if (Option{Text: "Go", NextBlockID: "b"}).IsTerminal() {
		t.Error("option with target should not be terminal")
	}
	if !(Option{Text: "Bye"}).IsTerminal() {
		t.Error("option without target should be terminal")
	}
}

func TestIsValidConversationStatus(t *testing.T) {
	for _, s := range []ConversationStatus{ConversationStatusActive, ConversationStatusClosed, ConversationStatusAbandoned} {
		if !IsValidConversationStatus(s) {
			t.Errorf("status %s should be valid", s)
		}
	}
	if IsValidConversationStatus("paused") {
		t.Error("unknown status should be invalid")
	}
}
