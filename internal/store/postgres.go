// Package store provides storage backends for the Hustler funnel engine.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// CreateConversation inserts a conversation, closing any existing active
// conversation for the same user and experience in the same transaction.
func (s *PostgresStore) CreateConversation(conv models.Conversation) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore CreateConversation begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`UPDATE conversations SET status = $1, updated_at = $2 WHERE external_user_id = $3 AND experience_id = $4 AND status = $5`,
		models.ConversationStatusClosed, time.Now(), conv.ExternalUserID, conv.ExperienceID, models.ConversationStatusActive)
	if err != nil {
		slog.Error("PostgresStore CreateConversation close-active failed", "error", err, "externalUserID", conv.ExternalUserID)
		return fmt.Errorf("failed to close active conversations: %w", err)
	}

	pathJSON, err := marshalPath(conv.Path)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO conversations (id, experience_id, funnel_id, external_user_id, status, current_block_id, path, phase2_start_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		conv.ID, conv.ExperienceID, conv.FunnelID, conv.ExternalUserID, conv.Status,
		nilIfEmpty(conv.CurrentBlockID), pathJSON, conv.Phase2StartTime, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateConversation insert failed", "error", err, "id", conv.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", conv.ID, err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore CreateConversation commit failed", "error", err, "id", conv.ID)
		return fmt.Errorf("failed to commit conversation insert: %w", err)
	}
	slog.Debug("PostgresStore CreateConversation succeeded", "id", conv.ID, "experienceID", conv.ExperienceID)
	return nil
}

// GetConversation loads a conversation by id scoped by experience id.
func (s *PostgresStore) GetConversation(id, experienceID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, experience_id, funnel_id, external_user_id, status, current_block_id, path, phase2_start_time, created_at, updated_at
		FROM conversations WHERE id = $1 AND experience_id = $2`, id, experienceID)
	conv, err := scanConversationRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversation not found", "id", id, "experienceID", experienceID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	return conv, nil
}

// GetActiveConversationByUser loads the active conversation for an external
// user within an experience.
func (s *PostgresStore) GetActiveConversationByUser(externalUserID, experienceID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, experience_id, funnel_id, external_user_id, status, current_block_id, path, phase2_start_time, created_at, updated_at
		FROM conversations WHERE external_user_id = $1 AND experience_id = $2 AND status = $3`,
		externalUserID, experienceID, models.ConversationStatusActive)
	conv, err := scanConversationRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetActiveConversationByUser failed", "error", err, "externalUserID", externalUserID)
		return nil, fmt.Errorf("failed to load active conversation for %s: %w", externalUserID, err)
	}
	return conv, nil
}

// UpdateConversationBlock persists an advance. The phase-2 timestamp column is
// only written while still NULL, keeping the stamp write-once.
func (s *PostgresStore) UpdateConversationBlock(id, experienceID, currentBlockID, visitedBlockID string, phase2StartTime *time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore UpdateConversationBlock begin failed", "error", err, "id", id)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pathJSON string
	err = tx.QueryRow(`SELECT path FROM conversations WHERE id = $1 AND experience_id = $2 FOR UPDATE`, id, experienceID).Scan(&pathJSON)
	if err == sql.ErrNoRows {
		return fmt.Errorf("conversation %s not found for update", id)
	}
	if err != nil {
		slog.Error("PostgresStore UpdateConversationBlock path read failed", "error", err, "id", id)
		return fmt.Errorf("failed to read conversation path: %w", err)
	}

	path, err := unmarshalPath(pathJSON)
	if err != nil {
		return err
	}
	if visitedBlockID != "" {
		path = append(path, visitedBlockID)
	}
	newPathJSON, err := marshalPath(path)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`UPDATE conversations
		SET current_block_id = $1, path = $2, phase2_start_time = COALESCE(phase2_start_time, $3), updated_at = $4
		WHERE id = $5 AND experience_id = $6`,
		nilIfEmpty(currentBlockID), newPathJSON, phase2StartTime, time.Now(), id, experienceID)
	if err != nil {
		slog.Error("PostgresStore UpdateConversationBlock update failed", "error", err, "id", id)
		return fmt.Errorf("failed to update conversation %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore UpdateConversationBlock commit failed", "error", err, "id", id)
		return fmt.Errorf("failed to commit conversation update: %w", err)
	}
	slog.Debug("PostgresStore UpdateConversationBlock succeeded", "id", id, "currentBlockID", currentBlockID)
	return nil
}

// UpdateConversationStatus updates a conversation's lifecycle status.
func (s *PostgresStore) UpdateConversationStatus(id, experienceID string, status models.ConversationStatus) error {
	_, err := s.db.Exec(`UPDATE conversations SET status = $1, updated_at = $2 WHERE id = $3 AND experience_id = $4`,
		status, time.Now(), id, experienceID)
	if err != nil {
		slog.Error("PostgresStore UpdateConversationStatus failed", "error", err, "id", id, "status", status)
		return fmt.Errorf("failed to update conversation status: %w", err)
	}
	slog.Debug("PostgresStore UpdateConversationStatus succeeded", "id", id, "status", status)
	return nil
}

// ListIdleActiveConversations returns active conversations untouched since the cutoff.
func (s *PostgresStore) ListIdleActiveConversations(before time.Time) ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT id, experience_id, funnel_id, external_user_id, status, current_block_id, path, phase2_start_time, created_at, updated_at
		FROM conversations WHERE status = $1 AND updated_at < $2`, models.ConversationStatusActive, before)
	if err != nil {
		slog.Error("PostgresStore ListIdleActiveConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query idle conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			slog.Error("PostgresStore ListIdleActiveConversations scan failed", "error", err)
			return nil, err
		}
		conversations = append(conversations, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	slog.Debug("PostgresStore ListIdleActiveConversations succeeded", "count", len(conversations))
	return conversations, nil
}

// AddMessage appends one entry to the message log.
func (s *PostgresStore) AddMessage(msg models.Message) error {
	_, err := s.db.Exec(`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "conversationID", msg.ConversationID)
		return fmt.Errorf("failed to insert message for %s: %w", msg.ConversationID, err)
	}
	slog.Debug("PostgresStore AddMessage succeeded", "conversationID", msg.ConversationID, "role", msg.Role)
	return nil
}

// GetMessages returns the message log ordered by creation time.
func (s *PostgresStore) GetMessages(conversationID string) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, role, content, created_at FROM messages
		WHERE conversation_id = $1 ORDER BY created_at`, conversationID)
	if err != nil {
		slog.Error("PostgresStore GetMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			slog.Error("PostgresStore GetMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("PostgresStore GetMessages succeeded", "conversationID", conversationID, "count", len(messages))
	return messages, nil
}

// AddInteraction appends one analytics interaction record.
func (s *PostgresStore) AddInteraction(rec models.Interaction) error {
	_, err := s.db.Exec(`INSERT INTO interactions (id, conversation_id, block_id, option_text, next_block_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.ConversationID, rec.BlockID, nilIfEmpty(rec.OptionText), nilIfEmpty(rec.NextBlockID), nilIfEmpty(rec.Metadata), rec.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddInteraction failed", "error", err, "conversationID", rec.ConversationID)
		return fmt.Errorf("failed to insert interaction for %s: %w", rec.ConversationID, err)
	}
	slog.Debug("PostgresStore AddInteraction succeeded", "conversationID", rec.ConversationID, "blockID", rec.BlockID)
	return nil
}

// GetResourceByName looks up a named resource scoped by experience id.
func (s *PostgresStore) GetResourceByName(name, experienceID string) (*models.Resource, error) {
	var r models.Resource
	err := s.db.QueryRow(`SELECT id, experience_id, name, link FROM resources WHERE name = $1 AND experience_id = $2`,
		name, experienceID).Scan(&r.ID, &r.ExperienceID, &r.Name, &r.Link)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetResourceByName not found", "name", name, "experienceID", experienceID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetResourceByName failed", "error", err, "name", name)
		return nil, fmt.Errorf("failed to load resource %s: %w", name, err)
	}
	return &r, nil
}

// SaveResource inserts or replaces a resource.
func (s *PostgresStore) SaveResource(res models.Resource) error {
	_, err := s.db.Exec(`INSERT INTO resources (id, experience_id, name, link) VALUES ($1, $2, $3, $4)
		ON CONFLICT (experience_id, name) DO UPDATE SET link = EXCLUDED.link`,
		res.ID, res.ExperienceID, res.Name, res.Link)
	if err != nil {
		slog.Error("PostgresStore SaveResource failed", "error", err, "name", res.Name)
		return fmt.Errorf("failed to save resource %s: %w", res.Name, err)
	}
	slog.Debug("PostgresStore SaveResource succeeded", "name", res.Name, "experienceID", res.ExperienceID)
	return nil
}

// SaveFunnel inserts or replaces a funnel graph definition.
func (s *PostgresStore) SaveFunnel(graph models.FunnelGraph) error {
	definition, err := marshalFunnel(graph)
	if err != nil {
		slog.Error("PostgresStore SaveFunnel marshal failed", "error", err, "id", graph.ID)
		return err
	}
	_, err = s.db.Exec(`INSERT INTO funnels (id, experience_id, version, definition) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id, experience_id) DO UPDATE SET version = EXCLUDED.version, definition = EXCLUDED.definition`,
		graph.ID, graph.ExperienceID, graph.Version, definition)
	if err != nil {
		slog.Error("PostgresStore SaveFunnel failed", "error", err, "id", graph.ID)
		return fmt.Errorf("failed to save funnel %s: %w", graph.ID, err)
	}
	slog.Debug("PostgresStore SaveFunnel succeeded", "id", graph.ID, "version", graph.Version)
	return nil
}

// GetFunnel loads a funnel graph by id scoped by experience id.
func (s *PostgresStore) GetFunnel(id, experienceID string) (*models.FunnelGraph, error) {
	var definition string
	err := s.db.QueryRow(`SELECT definition FROM funnels WHERE id = $1 AND experience_id = $2`, id, experienceID).Scan(&definition)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetFunnel not found", "id", id, "experienceID", experienceID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFunnel failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to load funnel %s: %w", id, err)
	}
	return unmarshalFunnel(definition)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
