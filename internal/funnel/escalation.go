package funnel

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
)

// MaxEscalationLevel caps the per-conversation escalation counter. Repeated
// unmatched input beyond the cap keeps re-sending the final guidance message.
const MaxEscalationLevel = 3

// EscalationStore tracks how many consecutive unmatched messages a
// conversation has produced. Implementations are keyed per conversation and
// may be ephemeral; a restart resetting all counters to zero is acceptable.
type EscalationStore interface {
	// Level returns the current escalation level for a conversation,
	// zero if none has been recorded.
	Level(conversationID string) int
	// Escalate increments the level, capped at MaxEscalationLevel, and
	// returns the new level.
	Escalate(conversationID string) int
	// Reset clears the level after a successful option match.
	Reset(conversationID string)
	// Forget drops all state for a conversation once it ends.
	Forget(conversationID string)
}

// InMemoryEscalationStore is the default EscalationStore. State lives in
// process memory only and is lost on restart.
type InMemoryEscalationStore struct {
	mu     sync.Mutex
	levels map[string]int
}

func NewInMemoryEscalationStore() *InMemoryEscalationStore {
	return &InMemoryEscalationStore{levels: make(map[string]int)}
}

func (s *InMemoryEscalationStore) Level(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[conversationID]
}

func (s *InMemoryEscalationStore) Escalate(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	level := s.levels[conversationID] + 1
	if level > MaxEscalationLevel {
		level = MaxEscalationLevel
	}
	s.levels[conversationID] = level
	slog.Debug("InMemoryEscalationStore.Escalate", "conversationID", conversationID, "level", level)
	return level
}

func (s *InMemoryEscalationStore) Reset(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.levels[conversationID] != 0 {
		slog.Debug("InMemoryEscalationStore.Reset", "conversationID", conversationID)
	}
	delete(s.levels, conversationID)
}

func (s *InMemoryEscalationStore) Forget(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.levels, conversationID)
}

// EscalationMessage renders the guidance message for the given level against
// the conversation's current block. Level 1 re-lists the options, level 2
// warns that an operator will be informed, level 3 and above tell the user to
// contact the operator directly.
func EscalationMessage(level int, block models.Block) string {
	switch {
	case level <= 1:
		return fmt.Sprintf("I didn't quite catch that. Here are your options:\n\n%s\n\nPlease reply with one of them, or its number.", formatOptionList(block.Options))
	case level == 2:
		return fmt.Sprintf("I still couldn't match your reply, so a human operator will be informed. In the meantime, please pick one of these:\n\n%s", formatOptionList(block.Options))
	default:
		return fmt.Sprintf("I'm unable to help further here. Please contact the operator directly for assistance.\n\nYour options remain:\n\n%s", formatOptionList(block.Options))
	}
}

func formatOptionList(options []models.Option) string {
	lines := make([]string, 0, len(options))
	for i, opt := range options {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, opt.Text))
	}
	return strings.Join(lines, "\n")
}
