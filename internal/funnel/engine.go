package funnel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
	"github.com/MichaelRobotics/Hustler-sub011/internal/platform"
	"github.com/MichaelRobotics/Hustler-sub011/internal/store"
	"github.com/MichaelRobotics/Hustler-sub011/internal/util"
)

// TerminalPathMessage is the fixed reply sent when a selected option has no
// next block and the conversation path ends.
const TerminalPathMessage = "This path has ended. Thank you for chatting with us!"

// Outcome is the result of processing one inbound message. Escalation is a
// successful outcome, not an error; EscalationLevel is nonzero only then.
type Outcome struct {
	BotMessage      string                  `json:"bot_message"`
	NextBlockID     string                  `json:"next_block_id,omitempty"`
	PhaseTransition *models.PhaseTransition `json:"phase_transition,omitempty"`
	EscalationLevel int                     `json:"escalation_level,omitempty"`
	Terminated      bool                    `json:"terminated,omitempty"`
}

// Messenger is the slice of the messaging service the engine needs for
// transition delivery.
type Messenger interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds engine configuration.
type Opts struct {
	Escalations EscalationStore
	Links       *LinkResolver
	Interest    platform.InterestTracker
	Messenger   Messenger
}

// Option configures the engine.
type Option func(*Opts)

// WithEscalationStore overrides the default in-memory escalation store.
func WithEscalationStore(s EscalationStore) Option {
	return func(o *Opts) { o.Escalations = s }
}

// WithLinkResolver sets the resolver used for offer and transition messages.
func WithLinkResolver(r *LinkResolver) Option {
	return func(o *Opts) { o.Links = r }
}

// WithInterestTracker enables best-effort interest tracking.
func WithInterestTracker(t platform.InterestTracker) Option {
	return func(o *Opts) { o.Interest = t }
}

// WithMessenger sets the transport used by CompleteTransition.
func WithMessenger(m Messenger) Option {
	return func(o *Opts) { o.Messenger = m }
}

// Engine drives conversations through a funnel graph. One engine serves all
// tenants; every load and mutation is scoped by experience id. Callers must
// serialize concurrent calls for the same conversation id; calls for
// different conversations are independent.
type Engine struct {
	store       store.Store
	escalations EscalationStore
	links       *LinkResolver
	interest    platform.InterestTracker
	messenger   Messenger
}

// NewEngine builds an engine over the given store. Without options it uses an
// in-memory escalation store and a link resolver with no platform lookup.
func NewEngine(st store.Store, opts ...Option) *Engine {
	o := Opts{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Escalations == nil {
		o.Escalations = NewInMemoryEscalationStore()
	}
	if o.Links == nil {
		o.Links = NewLinkResolver(st, nil, "")
	}
	return &Engine{
		store:       st,
		escalations: o.Escalations,
		links:       o.Links,
		interest:    o.Interest,
		messenger:   o.Messenger,
	}
}

// StartConversation creates an active conversation positioned at the funnel's
// start block. Any existing active conversation for the same user and
// experience is closed first. Returns the new conversation and the rendered
// welcome message, which is also appended to the message log.
func (e *Engine) StartConversation(ctx context.Context, experienceID, funnelID, externalUserID string) (*models.Conversation, string, error) {
	graph, err := e.loadGraph(funnelID, experienceID)
	if err != nil {
		return nil, "", err
	}
	startBlock, ok := graph.Blocks[graph.StartBlockID]
	if !ok {
		return nil, "", fmt.Errorf("%w: start block %s", models.ErrBlockNotFound, graph.StartBlockID)
	}

	now := time.Now().UTC()
	conv := models.Conversation{
		ID:             util.GenerateConversationID(),
		ExperienceID:   experienceID,
		FunnelID:       funnelID,
		ExternalUserID: externalUserID,
		Status:         models.ConversationStatusActive,
		CurrentBlockID: graph.StartBlockID,
		Path:           []string{graph.StartBlockID},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateConversation(conv); err != nil {
		return nil, "", fmt.Errorf("%w: create conversation: %v", models.ErrStorage, err)
	}
	slog.Info("Engine.StartConversation: conversation created", "conversationID", conv.ID, "experienceID", experienceID, "funnelID", funnelID)

	stage, _ := graph.StageOf(graph.StartBlockID)
	reply := e.renderBlockReply(ctx, startBlock, stage.Name, experienceID)
	if err := e.appendBotMessage(conv.ID, reply); err != nil {
		return nil, "", err
	}
	return &conv, reply, nil
}

// ProcessMessage runs one inbound message through the state machine: load,
// log, resolve, then either advance or escalate. The inbound message is
// logged even when resolution fails.
func (e *Engine) ProcessMessage(ctx context.Context, conversationID, experienceID, inputText string) (*Outcome, error) {
	conv, graph, err := e.loadConversation(conversationID, experienceID)
	if err != nil {
		return nil, err
	}
	if conv.Status != models.ConversationStatusActive {
		return nil, fmt.Errorf("%w: conversation %s is %s", models.ErrConversationClosed, conversationID, conv.Status)
	}
	block, ok := graph.Blocks[conv.CurrentBlockID]
	if !ok {
		return nil, fmt.Errorf("%w: current block %s", models.ErrBlockNotFound, conv.CurrentBlockID)
	}

	if err := e.appendUserMessage(conv.ID, inputText); err != nil {
		return nil, err
	}

	opt := ResolveOption(inputText, block)
	if opt == nil {
		level := e.escalations.Escalate(conv.ID)
		reply := EscalationMessage(level, block)
		if err := e.appendBotMessage(conv.ID, reply); err != nil {
			return nil, err
		}
		slog.Info("Engine.ProcessMessage: escalated", "conversationID", conv.ID, "level", level)
		return &Outcome{BotMessage: reply, EscalationLevel: level}, nil
	}

	if opt.IsTerminal() {
		return e.terminate(conv, block, opt)
	}
	return e.advance(ctx, conv, graph, opt.NextBlockID, opt.Text)
}

// NavigateToNextBlock advances a conversation to an explicit block without
// resolving an option, using the same persistence and phase bookkeeping as a
// matched option.
func (e *Engine) NavigateToNextBlock(ctx context.Context, conversationID, experienceID, nextBlockID string) (*Outcome, error) {
	conv, graph, err := e.loadConversation(conversationID, experienceID)
	if err != nil {
		return nil, err
	}
	if conv.Status != models.ConversationStatusActive {
		return nil, fmt.Errorf("%w: conversation %s is %s", models.ErrConversationClosed, conversationID, conv.Status)
	}
	return e.advance(ctx, conv, graph, nextBlockID, "")
}

// Close marks a conversation closed and drops its escalation state.
func (e *Engine) Close(ctx context.Context, conversationID, experienceID string) error {
	return e.setStatus(conversationID, experienceID, models.ConversationStatusClosed)
}

// Abandon marks a conversation abandoned and drops its escalation state.
func (e *Engine) Abandon(ctx context.Context, conversationID, experienceID string) error {
	return e.setStatus(conversationID, experienceID, models.ConversationStatusAbandoned)
}

// advance moves the conversation to nextBlockID: interaction record, phase
// bookkeeping, persisted block-and-path update, optional interest tracking,
// escalation reset, then the rendered reply for the destination block.
func (e *Engine) advance(ctx context.Context, conv *models.Conversation, graph *models.FunnelGraph, nextBlockID, optionText string) (*Outcome, error) {
	nextBlock, ok := graph.Blocks[nextBlockID]
	if !ok {
		return nil, fmt.Errorf("%w: next block %s", models.ErrBlockNotFound, nextBlockID)
	}

	e.recordInteraction(conv.ID, conv.CurrentBlockID, optionText, nextBlockID)

	fromPhase := ClassifyBlockPhase(conv.CurrentBlockID, graph)
	toPhase := ClassifyBlockPhase(nextBlockID, graph)
	var phase2Stamp *time.Time
	if CrossesIntoPhaseTwo(fromPhase, toPhase) {
		now := time.Now().UTC()
		phase2Stamp = &now
	}

	if err := e.store.UpdateConversationBlock(conv.ID, conv.ExperienceID, nextBlockID, nextBlockID, phase2Stamp); err != nil {
		return nil, fmt.Errorf("%w: update conversation block: %v", models.ErrStorage, err)
	}

	destStage, _ := graph.StageOf(nextBlockID)
	if destStage.Name == models.StagePainPointQualification && e.interest != nil {
		experienceID, funnelID := conv.ExperienceID, conv.FunnelID
		Background("interest-tracking", func(ctx context.Context) error {
			return e.interest.RecordInterest(ctx, experienceID, funnelID)
		})
	}

	e.escalations.Reset(conv.ID)

	reply := e.renderBlockReply(ctx, nextBlock, destStage.Name, conv.ExperienceID)
	if err := e.appendBotMessage(conv.ID, reply); err != nil {
		return nil, err
	}

	out := &Outcome{BotMessage: reply, NextBlockID: nextBlockID}
	if fromPhase != toPhase {
		out.PhaseTransition = &models.PhaseTransition{From: fromPhase, To: toPhase}
	}
	slog.Info("Engine.advance: conversation advanced", "conversationID", conv.ID, "nextBlockID", nextBlockID, "fromPhase", fromPhase, "toPhase", toPhase)
	return out, nil
}

// terminate ends the path for a terminal option: the conversation is closed
// and a fixed farewell is logged and returned.
func (e *Engine) terminate(conv *models.Conversation, block models.Block, opt *models.Option) (*Outcome, error) {
	e.recordInteraction(conv.ID, block.ID, opt.Text, "")

	if err := e.store.UpdateConversationStatus(conv.ID, conv.ExperienceID, models.ConversationStatusClosed); err != nil {
		return nil, fmt.Errorf("%w: close conversation: %v", models.ErrStorage, err)
	}
	e.escalations.Forget(conv.ID)

	if err := e.appendBotMessage(conv.ID, TerminalPathMessage); err != nil {
		return nil, err
	}
	slog.Info("Engine.terminate: path ended", "conversationID", conv.ID, "blockID", block.ID)
	return &Outcome{BotMessage: TerminalPathMessage, Terminated: true}, nil
}

func (e *Engine) setStatus(conversationID, experienceID string, status models.ConversationStatus) error {
	conv, err := e.store.GetConversation(conversationID, experienceID)
	if err != nil {
		return fmt.Errorf("%w: load conversation: %v", models.ErrStorage, err)
	}
	if conv == nil {
		return fmt.Errorf("%w: conversation %s", models.ErrConversationNotFound, conversationID)
	}
	if err := e.store.UpdateConversationStatus(conversationID, experienceID, status); err != nil {
		return fmt.Errorf("%w: update status: %v", models.ErrStorage, err)
	}
	e.escalations.Forget(conversationID)
	slog.Info("Engine.setStatus: conversation status updated", "conversationID", conversationID, "status", status)
	return nil
}

// loadConversation loads a conversation and its owning graph, both scoped by
// experience id. Missing either is a typed not-found error.
func (e *Engine) loadConversation(conversationID, experienceID string) (*models.Conversation, *models.FunnelGraph, error) {
	conv, err := e.store.GetConversation(conversationID, experienceID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: load conversation: %v", models.ErrStorage, err)
	}
	if conv == nil {
		return nil, nil, fmt.Errorf("%w: conversation %s", models.ErrConversationNotFound, conversationID)
	}
	graph, err := e.loadGraph(conv.FunnelID, experienceID)
	if err != nil {
		return nil, nil, err
	}
	return conv, graph, nil
}

func (e *Engine) loadGraph(funnelID, experienceID string) (*models.FunnelGraph, error) {
	graph, err := e.store.GetFunnel(funnelID, experienceID)
	if err != nil {
		return nil, fmt.Errorf("%w: load funnel: %v", models.ErrStorage, err)
	}
	if graph == nil {
		return nil, fmt.Errorf("%w: funnel %s", models.ErrFunnelNotFound, funnelID)
	}
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid funnel %s: %w", funnelID, err)
	}
	return graph, nil
}

// renderBlockReply formats a block's message for delivery: link resolution
// first, then a numbered option list when the block has options.
func (e *Engine) renderBlockReply(ctx context.Context, block models.Block, stageName models.StageName, experienceID string) string {
	reply := e.links.ResolveBlockMessage(ctx, block.Message, block, stageName, experienceID)
	if len(block.Options) > 0 {
		reply = reply + "\n\n" + formatOptionList(block.Options)
	}
	return reply
}

func (e *Engine) appendUserMessage(conversationID, content string) error {
	return e.appendMessage(conversationID, models.MessageRoleUser, content)
}

func (e *Engine) appendBotMessage(conversationID, content string) error {
	return e.appendMessage(conversationID, models.MessageRoleBot, content)
}

func (e *Engine) appendMessage(conversationID string, role models.MessageRole, content string) error {
	msg := models.Message{
		ID:             util.GenerateMessageID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.AddMessage(msg); err != nil {
		return fmt.Errorf("%w: append %s message: %v", models.ErrStorage, role, err)
	}
	return nil
}

// recordInteraction writes the analytics record for an accepted selection or
// navigation. A failure here is logged but does not abort the advance.
func (e *Engine) recordInteraction(conversationID, blockID, optionText, nextBlockID string) {
	rec := models.Interaction{
		ID:             util.GenerateInteractionID(),
		ConversationID: conversationID,
		BlockID:        blockID,
		OptionText:     optionText,
		NextBlockID:    nextBlockID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.AddInteraction(rec); err != nil {
		slog.Warn("Engine.recordInteraction: failed to record interaction", "conversationID", conversationID, "error", err)
	}
}
