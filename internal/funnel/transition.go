package funnel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
)

// TransitionToStage jumps a conversation to the first block of the named
// stage, using the same persistence and phase bookkeeping as a regular
// advance. Fails when the stage is absent or declares no blocks.
func (e *Engine) TransitionToStage(ctx context.Context, conversationID, experienceID string, target models.StageName) (*Outcome, error) {
	conv, graph, err := e.loadConversation(conversationID, experienceID)
	if err != nil {
		return nil, err
	}
	if conv.Status != models.ConversationStatusActive {
		return nil, fmt.Errorf("%w: conversation %s is %s", models.ErrConversationClosed, conversationID, conv.Status)
	}

	stage, ok := graph.FindStage(target)
	if !ok {
		return nil, fmt.Errorf("%w: stage %s", models.ErrStageNotFound, target)
	}
	if len(stage.BlockIDs) == 0 {
		return nil, fmt.Errorf("%w: stage %s", models.ErrStageEmpty, target)
	}

	out, err := e.advance(ctx, conv, graph, stage.BlockIDs[0], "")
	if err != nil {
		return nil, err
	}
	slog.Info("Engine.TransitionToStage: moved to stage", "conversationID", conversationID, "stage", target, "blockID", out.NextBlockID)
	return out, nil
}

// CompleteTransition moves the conversation to the target stage and then
// delivers the resolved message template to the conversation's external user.
// The state move commits before delivery is attempted; a delivery failure is
// surfaced as a typed error but never rolls the move back.
func (e *Engine) CompleteTransition(ctx context.Context, conversationID, experienceID string, target models.StageName, messageTemplate string) (*Outcome, error) {
	out, err := e.TransitionToStage(ctx, conversationID, experienceID, target)
	if err != nil {
		return nil, err
	}

	conv, err := e.store.GetConversation(conversationID, experienceID)
	if err != nil {
		return out, fmt.Errorf("%w: reload conversation: %v", models.ErrStorage, err)
	}
	if conv == nil {
		return out, fmt.Errorf("%w: conversation %s", models.ErrConversationNotFound, conversationID)
	}

	body := e.links.ResolveTransitionMessage(ctx, messageTemplate, conv)
	if e.messenger == nil {
		return out, fmt.Errorf("%w: no messenger configured", models.ErrDeliveryFailed)
	}
	if err := e.messenger.SendMessage(ctx, conv.ExternalUserID, body); err != nil {
		slog.Error("Engine.CompleteTransition: delivery failed", "conversationID", conversationID, "error", err)
		return out, fmt.Errorf("%w: %v", models.ErrDeliveryFailed, err)
	}
	slog.Info("Engine.CompleteTransition: transition message delivered", "conversationID", conversationID, "stage", target)
	return out, nil
}
