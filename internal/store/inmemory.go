package store

import (
	"sync"
	"time"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
)

// InMemoryStore is a mutex-guarded in-memory implementation of Store.
// It backs tests and single-process development runs.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation // keyed by conversation id
	messages      []models.Message
	interactions  []models.Interaction
	resources     map[string]models.Resource // keyed by experienceID + "/" + name
	funnels       map[string]models.FunnelGraph
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]models.Conversation),
		resources:     make(map[string]models.Resource),
		funnels:       make(map[string]models.FunnelGraph),
	}
}

func (s *InMemoryStore) CreateConversation(conv models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.conversations {
		if existing.ExternalUserID == conv.ExternalUserID &&
			existing.ExperienceID == conv.ExperienceID &&
			existing.Status == models.ConversationStatusActive {
			existing.Status = models.ConversationStatusClosed
			existing.UpdatedAt = time.Now()
			s.conversations[id] = existing
		}
	}
	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *InMemoryStore) GetConversation(id, experienceID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok || conv.ExperienceID != experienceID {
		return nil, nil
	}
	c := cloneConversation(conv)
	return &c, nil
}

func (s *InMemoryStore) GetActiveConversationByUser(externalUserID, experienceID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conv := range s.conversations {
		if conv.ExternalUserID == externalUserID &&
			conv.ExperienceID == experienceID &&
			conv.Status == models.ConversationStatusActive {
			c := cloneConversation(conv)
			return &c, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) UpdateConversationBlock(id, experienceID, currentBlockID, visitedBlockID string, phase2StartTime *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.ExperienceID != experienceID {
		return models.ErrConversationNotFound
	}
	conv.CurrentBlockID = currentBlockID
	if visitedBlockID != "" {
		conv.Path = append(conv.Path, visitedBlockID)
	}
	// Write-once: a later stamp never overwrites an earlier one.
	if phase2StartTime != nil && conv.Phase2StartTime == nil {
		t := *phase2StartTime
		conv.Phase2StartTime = &t
	}
	conv.UpdatedAt = time.Now()
	s.conversations[id] = conv
	return nil
}

func (s *InMemoryStore) UpdateConversationStatus(id, experienceID string, status models.ConversationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.ExperienceID != experienceID {
		return models.ErrConversationNotFound
	}
	conv.Status = status
	conv.UpdatedAt = time.Now()
	s.conversations[id] = conv
	return nil
}

func (s *InMemoryStore) ListIdleActiveConversations(before time.Time) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var idle []models.Conversation
	for _, conv := range s.conversations {
		if conv.Status == models.ConversationStatusActive && conv.UpdatedAt.Before(before) {
			idle = append(idle, cloneConversation(conv))
		}
	}
	return idle, nil
}

func (s *InMemoryStore) AddMessage(msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *InMemoryStore) GetMessages(conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddInteraction(rec models.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = append(s.interactions, rec)
	return nil
}

// GetInteractions returns all recorded interactions (test helper).
func (s *InMemoryStore) GetInteractions() []models.Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Interaction, len(s.interactions))
	copy(out, s.interactions)
	return out
}

func (s *InMemoryStore) GetResourceByName(name, experienceID string) (*models.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.resources[experienceID+"/"+name]
	if !ok {
		return nil, nil
	}
	r := res
	return &r, nil
}

func (s *InMemoryStore) SaveResource(res models.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[res.ExperienceID+"/"+res.Name] = res
	return nil
}

func (s *InMemoryStore) SaveFunnel(graph models.FunnelGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funnels[graph.ExperienceID+"/"+graph.ID] = graph
	return nil
}

func (s *InMemoryStore) GetFunnel(id, experienceID string) (*models.FunnelGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	graph, ok := s.funnels[experienceID+"/"+id]
	if !ok {
		return nil, nil
	}
	g := graph
	return &g, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func cloneConversation(conv models.Conversation) models.Conversation {
	out := conv
	out.Path = append([]string(nil), conv.Path...)
	if conv.Phase2StartTime != nil {
		t := *conv.Phase2StartTime
		out.Phase2StartTime = &t
	}
	return out
}
