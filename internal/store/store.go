// Package store provides storage backends for the Hustler funnel engine.
//
// It includes SQLite and PostgreSQL stores behind a shared interface, plus an
// in-memory store for tests and single-process development.
package store

import (
	"strings"
	"time"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
)

// Store is the persistence boundary consumed by the funnel engine and the API.
// Every conversation read and write is scoped by experience id (the tenant
// key); lookups that miss return (nil, nil) and callers map that to a typed
// not-found error.
type Store interface {
	// CreateConversation inserts a new conversation. Any existing active
	// conversation for the same (external user, experience) pair is closed in
	// the same transaction.
	CreateConversation(conv models.Conversation) error

	// GetConversation loads a conversation by id, scoped by experience id.
	GetConversation(id, experienceID string) (*models.Conversation, error)

	// GetActiveConversationByUser loads the single active conversation for an
	// external user within an experience, if one exists.
	GetActiveConversationByUser(externalUserID, experienceID string) (*models.Conversation, error)

	// UpdateConversationBlock persists a conversation advance: the new current
	// block id (empty on termination), an optional visited block id appended
	// to the path, and an optional phase-2 start timestamp. The timestamp is
	// write-once: a non-nil value only lands if the column is still unset.
	UpdateConversationBlock(id, experienceID, currentBlockID, visitedBlockID string, phase2StartTime *time.Time) error

	// UpdateConversationStatus updates a conversation's lifecycle status.
	UpdateConversationStatus(id, experienceID string, status models.ConversationStatus) error

	// ListIdleActiveConversations returns active conversations whose last
	// update predates the cutoff. Used by the abandonment sweeper.
	ListIdleActiveConversations(before time.Time) ([]models.Conversation, error)

	// AddMessage appends one entry to a conversation's message log.
	AddMessage(msg models.Message) error

	// GetMessages returns a conversation's message log ordered by creation time.
	GetMessages(conversationID string) ([]models.Message, error)

	// AddInteraction appends one analytics interaction record.
	AddInteraction(rec models.Interaction) error

	// GetResourceByName looks up a named resource, scoped by experience id.
	GetResourceByName(name, experienceID string) (*models.Resource, error)

	// SaveResource inserts or replaces a resource.
	SaveResource(res models.Resource) error

	// SaveFunnel inserts or replaces a funnel graph definition.
	SaveFunnel(graph models.FunnelGraph) error

	// GetFunnel loads a funnel graph by id, scoped by experience id.
	GetFunnel(id, experienceID string) (*models.FunnelGraph, error)

	// Close releases the underlying database resources.
	Close() error
}

// Opts holds configuration options for store construction.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType inspects a DSN and reports "postgres" or "sqlite".
// Anything that does not look like a PostgreSQL connection string is treated
// as a SQLite file path.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
