package funnel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
	"github.com/MichaelRobotics/Hustler-sub011/internal/platform"
	"github.com/MichaelRobotics/Hustler-sub011/internal/store"
)

func TestTransitionToStage(t *testing.T) {
	e, st, _ := newTestEngine(t)
	conv := startConversation(t, e)

	out, err := e.TransitionToStage(context.Background(), conv.ID, "exp1", models.StageValueDelivery)
	if err != nil {
		t.Fatalf("TransitionToStage failed: %v", err)
	}
	if out.NextBlockID != "value" {
		t.Errorf("expected first block of the stage, got %q", out.NextBlockID)
	}

	got, err := st.GetConversation(conv.ID, "exp1")
	if err != nil || got == nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.CurrentBlockID != "value" {
		t.Errorf("current block not persisted, got %q", got.CurrentBlockID)
	}
	if got.Phase2StartTime == nil {
		t.Error("transition into VALUE_DELIVERY should stamp phase2StartTime")
	}
}

func TestTransitionToStageErrors(t *testing.T) {
	e, _, _ := newTestEngine(t)
	conv := startConversation(t, e)
	ctx := context.Background()

	if _, err := e.TransitionToStage(ctx, conv.ID, "exp1", models.StageName("NOPE")); !errors.Is(err, models.ErrStageNotFound) {
		t.Errorf("expected ErrStageNotFound, got %v", err)
	}

	// a declared stage with zero blocks is a validation failure
	st := store.NewInMemoryStore()
	graph := testGraph()
	graph.Stages = append(graph.Stages, models.Stage{Name: models.StageExperienceQualification})
	if err := st.SaveFunnel(graph); err != nil {
		t.Fatalf("SaveFunnel failed: %v", err)
	}
	e2 := NewEngine(st)
	conv2, _, err := e2.StartConversation(ctx, "exp1", "funnel1", "user1")
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	if _, err := e2.TransitionToStage(ctx, conv2.ID, "exp1", models.StageExperienceQualification); !errors.Is(err, models.ErrStageEmpty) {
		t.Errorf("expected ErrStageEmpty, got %v", err)
	}
}

func TestCompleteTransitionDeliversResolvedMessage(t *testing.T) {
	msgr := &captureMessenger{}
	links := NewLinkResolver(store.NewInMemoryStore(), platform.NewMockClient(), "https://hustler.app")
	e, _, _ := newTestEngine(t, WithMessenger(msgr), WithLinkResolver(links))
	conv := startConversation(t, e)

	out, err := e.CompleteTransition(context.Background(), conv.ID, "exp1", models.StageValueDelivery, "Keep going here: [LINK]")
	if err != nil {
		t.Fatalf("CompleteTransition failed: %v", err)
	}
	if out.NextBlockID != "value" {
		t.Errorf("expected move to 'value', got %q", out.NextBlockID)
	}
	if msgr.to != "user1" {
		t.Errorf("expected delivery to the external user id, got %q", msgr.to)
	}
	if strings.Contains(msgr.body, LinkPlaceholder) || !strings.Contains(msgr.body, "/experiences/exp1/chat/") {
		t.Errorf("delivered body should carry the resolved chat link, got %q", msgr.body)
	}
}

func TestCompleteTransitionDeliveryFailureKeepsState(t *testing.T) {
	msgr := &captureMessenger{err: errors.New("transport down")}
	e, st, _ := newTestEngine(t, WithMessenger(msgr))
	conv := startConversation(t, e)

	_, err := e.CompleteTransition(context.Background(), conv.ID, "exp1", models.StageValueDelivery, "Keep going: [LINK]")
	if !errors.Is(err, models.ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}

	// the committed move is not rolled back
	got, err := st.GetConversation(conv.ID, "exp1")
	if err != nil || got == nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.CurrentBlockID != "value" {
		t.Errorf("delivery failure must not undo the transition, current block %q", got.CurrentBlockID)
	}
}
