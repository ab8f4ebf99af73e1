package funnel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
	"github.com/MichaelRobotics/Hustler-sub011/internal/store"
)

type chanTracker struct{ calls chan [2]string }

func (c chanTracker) RecordInterest(ctx context.Context, experienceID, funnelID string) error {
	c.calls <- [2]string{experienceID, funnelID}
	return nil
}

type captureMessenger struct {
	to, body string
	err      error
}

func (m *captureMessenger) SendMessage(ctx context.Context, to, body string) error {
	m.to, m.body = to, body
	return m.err
}

func testGraph() models.FunnelGraph {
	return models.FunnelGraph{
		ID:           "funnel1",
		ExperienceID: "exp1",
		Version:      1,
		StartBlockID: "welcome",
		Stages: []models.Stage{
			{Name: models.StageWelcome, BlockIDs: []string{"welcome", "about"}},
			{Name: models.StageValueDelivery, BlockIDs: []string{"value"}},
			{Name: models.StagePainPointQualification, BlockIDs: []string{"pain"}},
			{Name: models.StageOffer, BlockIDs: []string{"offer"}},
		},
		Blocks: map[string]models.Block{
			"welcome": {ID: "welcome", Message: "Welcome!", Options: []models.Option{
				{Text: "Tell me more", NextBlockID: "value"},
				{Text: "Who are you", NextBlockID: "about"},
				{Text: "No thanks"},
			}},
			"about": {ID: "about", Message: "We help creators grow.", Options: []models.Option{
				{Text: "Tell me more", NextBlockID: "value"},
			}},
			"value": {ID: "value", Message: "Here is what you get.", Options: []models.Option{
				{Text: "What problem do I have", NextBlockID: "pain"},
				{Text: "Show me the offer", NextBlockID: "offer"},
				{Text: "Start over", NextBlockID: "welcome"},
			}},
			"pain": {ID: "pain", Message: "Where does it hurt?", Options: []models.Option{
				{Text: "Back", NextBlockID: "value"},
			}},
			"offer": {ID: "offer", Message: "Grab it here: [LINK]", ResourceName: "course"},
		},
	}
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *store.InMemoryStore, *InMemoryEscalationStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	if err := st.SaveFunnel(testGraph()); err != nil {
		t.Fatalf("SaveFunnel failed: %v", err)
	}
	esc := NewInMemoryEscalationStore()
	opts = append([]Option{WithEscalationStore(esc)}, opts...)
	return NewEngine(st, opts...), st, esc
}

func startConversation(t *testing.T, e *Engine) *models.Conversation {
	t.Helper()
	conv, _, err := e.StartConversation(context.Background(), "exp1", "funnel1", "user1")
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	return conv
}

func TestStartConversationWelcomesUser(t *testing.T) {
	e, st, _ := newTestEngine(t)
	conv, welcome, err := e.StartConversation(context.Background(), "exp1", "funnel1", "user1")
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	if conv.CurrentBlockID != "welcome" {
		t.Errorf("expected conversation at start block, got %q", conv.CurrentBlockID)
	}
	if !strings.Contains(welcome, "Welcome!") || !strings.Contains(welcome, "1. Tell me more") {
		t.Errorf("welcome message should carry the block template and numbered options, got %q", welcome)
	}

	msgs, err := st.GetMessages(conv.ID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != models.MessageRoleBot {
		t.Errorf("expected one logged bot message, got %+v", msgs)
	}
}

func TestProcessMessageHappyPath(t *testing.T) {
	e, _, _ := newTestEngine(t)
	conv := startConversation(t, e)

	out, err := e.ProcessMessage(context.Background(), conv.ID, "exp1", "tell me more")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if out.NextBlockID != "value" {
		t.Errorf("expected next block 'value', got %q", out.NextBlockID)
	}
	if !strings.Contains(out.BotMessage, "Here is what you get.") {
		t.Errorf("bot message should carry the destination template, got %q", out.BotMessage)
	}
	if out.PhaseTransition == nil {
		t.Fatal("expected a phase transition marker for WELCOME to VALUE_DELIVERY")
	}
	if out.PhaseTransition.From != models.PhaseOne || out.PhaseTransition.To != models.PhaseTwo {
		t.Errorf("unexpected phase transition %+v", out.PhaseTransition)
	}
}

func TestProcessMessageSameStageNoPhaseTransition(t *testing.T) {
	e, _, _ := newTestEngine(t)
	conv := startConversation(t, e)

	out, err := e.ProcessMessage(context.Background(), conv.ID, "exp1", "who are you")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if out.NextBlockID != "about" {
		t.Errorf("expected next block 'about', got %q", out.NextBlockID)
	}
	if out.PhaseTransition != nil {
		t.Errorf("blocks in the same stage should not produce a phase transition, got %+v", out.PhaseTransition)
	}
}

func TestProcessMessagePhaseStampWriteOnce(t *testing.T) {
	e, st, _ := newTestEngine(t)
	conv := startConversation(t, e)
	ctx := context.Background()

	if _, err := e.ProcessMessage(ctx, conv.ID, "exp1", "tell me more"); err != nil {
		t.Fatalf("advance to value failed: %v", err)
	}
	first, err := st.GetConversation(conv.ID, "exp1")
	if err != nil || first == nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if first.Phase2StartTime == nil {
		t.Fatal("phase2StartTime should be stamped on the PHASE1 to PHASE2 crossing")
	}
	stamp := *first.Phase2StartTime

	// cycle back to PHASE1 and cross the boundary again
	if _, err := e.ProcessMessage(ctx, conv.ID, "exp1", "start over"); err != nil {
		t.Fatalf("cycle back failed: %v", err)
	}
	if _, err := e.ProcessMessage(ctx, conv.ID, "exp1", "tell me more"); err != nil {
		t.Fatalf("second crossing failed: %v", err)
	}

	again, err := st.GetConversation(conv.ID, "exp1")
	if err != nil || again == nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if again.Phase2StartTime == nil || !again.Phase2StartTime.Equal(stamp) {
		t.Errorf("phase2StartTime must not be overwritten: first %v, now %v", stamp, again.Phase2StartTime)
	}
}

func TestProcessMessageEscalationThenRecovery(t *testing.T) {
	e, st, esc := newTestEngine(t)
	conv := startConversation(t, e)
	ctx := context.Background()

	out, err := e.ProcessMessage(ctx, conv.ID, "exp1", "purple")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if out.EscalationLevel != 1 {
		t.Errorf("first unmatched input: got level %d, want 1", out.EscalationLevel)
	}
	if !strings.Contains(out.BotMessage, "1. Tell me more") {
		t.Errorf("escalation message should re-list options, got %q", out.BotMessage)
	}

	out, err = e.ProcessMessage(ctx, conv.ID, "exp1", "purple")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if out.EscalationLevel != 2 {
		t.Errorf("second unmatched input: got level %d, want 2", out.EscalationLevel)
	}

	// numeric selection recovers and resets escalation
	out, err = e.ProcessMessage(ctx, conv.ID, "exp1", "1")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if out.EscalationLevel != 0 || out.NextBlockID != "value" {
		t.Errorf("expected recovery to block 'value' with level 0, got %+v", out)
	}
	if lvl := esc.Level(conv.ID); lvl != 0 {
		t.Errorf("escalation level after recovery: got %d, want 0", lvl)
	}

	// the unmatched user messages were still logged
	msgs, err := st.GetMessages(conv.ID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	var userMsgs int
	for _, m := range msgs {
		if m.Role == models.MessageRoleUser {
			userMsgs++
		}
	}
	if userMsgs != 3 {
		t.Errorf("expected 3 logged user messages, got %d", userMsgs)
	}
}

func TestProcessMessageEscalationCap(t *testing.T) {
	e, _, _ := newTestEngine(t)
	conv := startConversation(t, e)
	ctx := context.Background()

	var out *Outcome
	var err error
	for i := 0; i < 4; i++ {
		out, err = e.ProcessMessage(ctx, conv.ID, "exp1", "purple")
		if err != nil {
			t.Fatalf("ProcessMessage failed: %v", err)
		}
	}
	if out.EscalationLevel != MaxEscalationLevel {
		t.Errorf("fourth unmatched input: got level %d, want %d", out.EscalationLevel, MaxEscalationLevel)
	}
}

func TestProcessMessageTerminalOption(t *testing.T) {
	e, st, _ := newTestEngine(t)
	conv := startConversation(t, e)
	ctx := context.Background()

	out, err := e.ProcessMessage(ctx, conv.ID, "exp1", "no thanks")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if !out.Terminated || out.BotMessage != TerminalPathMessage {
		t.Errorf("expected terminated outcome with the fixed farewell, got %+v", out)
	}

	got, err := st.GetConversation(conv.ID, "exp1")
	if err != nil || got == nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Status != models.ConversationStatusClosed {
		t.Errorf("conversation status after terminal option: got %s, want closed", got.Status)
	}

	// no further resolution against a terminated conversation
	if _, err := e.ProcessMessage(ctx, conv.ID, "exp1", "1"); !errors.Is(err, models.ErrConversationClosed) {
		t.Errorf("expected ErrConversationClosed, got %v", err)
	}
}

func TestProcessMessageTenantIsolation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	conv := startConversation(t, e)

	_, err := e.ProcessMessage(context.Background(), conv.ID, "other-tenant", "1")
	if !errors.Is(err, models.ErrConversationNotFound) {
		t.Errorf("wrong tenant id must yield not-found, got %v", err)
	}
}

func TestProcessMessageUnknownConversation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.ProcessMessage(context.Background(), "conv_missing", "exp1", "1")
	if !errors.Is(err, models.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestProcessMessageFiresInterestTracking(t *testing.T) {
	tracker := chanTracker{calls: make(chan [2]string, 1)}
	e, _, _ := newTestEngine(t, WithInterestTracker(tracker))
	conv := startConversation(t, e)
	ctx := context.Background()

	if _, err := e.ProcessMessage(ctx, conv.ID, "exp1", "tell me more"); err != nil {
		t.Fatalf("advance to value failed: %v", err)
	}
	out, err := e.ProcessMessage(ctx, conv.ID, "exp1", "what problem do i have")
	if err != nil {
		t.Fatalf("advance to pain failed: %v", err)
	}
	if out.NextBlockID != "pain" {
		t.Fatalf("expected next block 'pain', got %q", out.NextBlockID)
	}

	select {
	case call := <-tracker.calls:
		if call[0] != "exp1" || call[1] != "funnel1" {
			t.Errorf("unexpected interest call %v", call)
		}
	case <-time.After(2 * time.Second):
		t.Error("interest tracking was not fired for the qualification stage")
	}
}

func TestNavigateToNextBlock(t *testing.T) {
	e, st, _ := newTestEngine(t)
	conv := startConversation(t, e)

	out, err := e.NavigateToNextBlock(context.Background(), conv.ID, "exp1", "value")
	if err != nil {
		t.Fatalf("NavigateToNextBlock failed: %v", err)
	}
	if out.NextBlockID != "value" {
		t.Errorf("expected next block 'value', got %q", out.NextBlockID)
	}

	got, err := st.GetConversation(conv.ID, "exp1")
	if err != nil || got == nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.CurrentBlockID != "value" {
		t.Errorf("current block not persisted, got %q", got.CurrentBlockID)
	}
	if len(got.Path) != 2 || got.Path[1] != "value" {
		t.Errorf("path should record the visit, got %v", got.Path)
	}

	if _, err := e.NavigateToNextBlock(context.Background(), conv.ID, "exp1", "nope"); !errors.Is(err, models.ErrBlockNotFound) {
		t.Errorf("expected ErrBlockNotFound for unknown target, got %v", err)
	}
}

func TestCloseAndAbandon(t *testing.T) {
	e, st, esc := newTestEngine(t)
	ctx := context.Background()

	conv := startConversation(t, e)
	esc.Escalate(conv.ID)
	if err := e.Close(ctx, conv.ID, "exp1"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	got, _ := st.GetConversation(conv.ID, "exp1")
	if got.Status != models.ConversationStatusClosed {
		t.Errorf("status after Close: got %s, want closed", got.Status)
	}
	if esc.Level(conv.ID) != 0 {
		t.Error("closing should drop escalation state")
	}

	conv2 := startConversation(t, e)
	if err := e.Abandon(ctx, conv2.ID, "exp1"); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	got2, _ := st.GetConversation(conv2.ID, "exp1")
	if got2.Status != models.ConversationStatusAbandoned {
		t.Errorf("status after Abandon: got %s, want abandoned", got2.Status)
	}

	if err := e.Close(ctx, "conv_missing", "exp1"); !errors.Is(err, models.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestAdvanceRecordsInteraction(t *testing.T) {
	e, st, _ := newTestEngine(t)
	conv := startConversation(t, e)

	if _, err := e.ProcessMessage(context.Background(), conv.ID, "exp1", "tell me more"); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	recs := st.GetInteractions()
	if len(recs) != 1 {
		t.Fatalf("expected one interaction record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.ConversationID != conv.ID || rec.BlockID != "welcome" || rec.OptionText != "Tell me more" || rec.NextBlockID != "value" {
		t.Errorf("unexpected interaction record %+v", rec)
	}
}
