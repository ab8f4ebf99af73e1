// Package store provides storage backends for the Hustler funnel engine.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// CreateConversation inserts a conversation, closing any existing active
// conversation for the same user and experience in the same transaction.
func (s *SQLiteStore) CreateConversation(conv models.Conversation) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore CreateConversation begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`UPDATE conversations SET status = ?, updated_at = ? WHERE external_user_id = ? AND experience_id = ? AND status = ?`,
		models.ConversationStatusClosed, time.Now(), conv.ExternalUserID, conv.ExperienceID, models.ConversationStatusActive)
	if err != nil {
		slog.Error("SQLiteStore CreateConversation close-active failed", "error", err, "externalUserID", conv.ExternalUserID)
		return fmt.Errorf("failed to close active conversations: %w", err)
	}

	pathJSON, err := marshalPath(conv.Path)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO conversations (id, experience_id, funnel_id, external_user_id, status, current_block_id, path, phase2_start_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.ExperienceID, conv.FunnelID, conv.ExternalUserID, conv.Status,
		nilIfEmpty(conv.CurrentBlockID), pathJSON, conv.Phase2StartTime, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateConversation insert failed", "error", err, "id", conv.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", conv.ID, err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore CreateConversation commit failed", "error", err, "id", conv.ID)
		return fmt.Errorf("failed to commit conversation insert: %w", err)
	}
	slog.Debug("SQLiteStore CreateConversation succeeded", "id", conv.ID, "experienceID", conv.ExperienceID)
	return nil
}

// GetConversation loads a conversation by id scoped by experience id.
func (s *SQLiteStore) GetConversation(id, experienceID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, experience_id, funnel_id, external_user_id, status, current_block_id, path, phase2_start_time, created_at, updated_at
		FROM conversations WHERE id = ? AND experience_id = ?`, id, experienceID)
	conv, err := scanConversationRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversation not found", "id", id, "experienceID", experienceID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	return conv, nil
}

// GetActiveConversationByUser loads the active conversation for an external
// user within an experience.
func (s *SQLiteStore) GetActiveConversationByUser(externalUserID, experienceID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, experience_id, funnel_id, external_user_id, status, current_block_id, path, phase2_start_time, created_at, updated_at
		FROM conversations WHERE external_user_id = ? AND experience_id = ? AND status = ?`,
		externalUserID, experienceID, models.ConversationStatusActive)
	conv, err := scanConversationRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetActiveConversationByUser failed", "error", err, "externalUserID", externalUserID)
		return nil, fmt.Errorf("failed to load active conversation for %s: %w", externalUserID, err)
	}
	return conv, nil
}

// UpdateConversationBlock persists an advance. The phase-2 timestamp column is
// only written while still NULL, keeping the stamp write-once.
func (s *SQLiteStore) UpdateConversationBlock(id, experienceID, currentBlockID, visitedBlockID string, phase2StartTime *time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore UpdateConversationBlock begin failed", "error", err, "id", id)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pathJSON string
	err = tx.QueryRow(`SELECT path FROM conversations WHERE id = ? AND experience_id = ?`, id, experienceID).Scan(&pathJSON)
	if err == sql.ErrNoRows {
		return fmt.Errorf("conversation %s not found for update", id)
	}
	if err != nil {
		slog.Error("SQLiteStore UpdateConversationBlock path read failed", "error", err, "id", id)
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
		SET current_block_id = ?, path = ?, phase2_start_time = COALESCE(phase2_start_time, ?), updated_at = ?
		WHERE id = ? AND experience_id = ?`,
		nilIfEmpty(currentBlockID), newPathJSON, phase2StartTime, time.Now(), id, experienceID)
	if err != nil {
		slog.Error("SQLiteStore UpdateConversationBlock update failed", "error", err, "id", id)
		return fmt.Errorf("failed to update conversation %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore UpdateConversationBlock commit failed", "error", err, "id", id)
		return fmt.Errorf("failed to commit conversation update: %w", err)
	}
	slog.Debug("SQLiteStore UpdateConversationBlock succeeded", "id", id, "currentBlockID", currentBlockID)
	return nil
}

// UpdateConversationStatus updates a conversation's lifecycle status.
func (s *SQLiteStore) UpdateConversationStatus(id, experienceID string, status models.ConversationStatus) error {
	_, err := s.db.Exec(`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ? AND experience_id = ?`,
		status, time.Now(), id, experienceID)
	if err != nil {
		slog.Error("SQLiteStore UpdateConversationStatus failed", "error", err, "id", id, "status", status)
		return fmt.Errorf("failed to update conversation status: %w", err)
	}
	slog.Debug("SQLiteStore UpdateConversationStatus succeeded", "id", id, "status", status)
	return nil
}

// ListIdleActiveConversations returns active conversations untouched since the cutoff.
func (s *SQLiteStore) ListIdleActiveConversations(before time.Time) ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT id, experience_id, funnel_id, external_user_id, status, current_block_id, path, phase2_start_time, created_at, updated_at
		FROM conversations WHERE status = ? AND updated_at < ?`, models.ConversationStatusActive, before)
	if err != nil {
		slog.Error("SQLiteStore ListIdleActiveConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query idle conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			slog.Error("SQLiteStore ListIdleActiveConversations scan failed", "error", err)
			return nil, err
		}
		conversations = append(conversations, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	slog.Debug("SQLiteStore ListIdleActiveConversations succeeded", "count", len(conversations))
	return conversations, nil
}

// AddMessage appends one entry to the message log.
func (s *SQLiteStore) AddMessage(msg models.Message) error {
	_, err := s.db.Exec(`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "conversationID", msg.ConversationID)
		return fmt.Errorf("failed to insert message for %s: %w", msg.ConversationID, err)
	}
	slog.Debug("SQLiteStore AddMessage succeeded", "conversationID", msg.ConversationID, "role", msg.Role)
	return nil
}

// GetMessages returns the message log ordered by creation time.
func (s *SQLiteStore) GetMessages(conversationID string) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, role, content, created_at FROM messages
		WHERE conversation_id = ? ORDER BY created_at`, conversationID)
	if err != nil {
		slog.Error("SQLiteStore GetMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			slog.Error("SQLiteStore GetMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("SQLiteStore GetMessages succeeded", "conversationID", conversationID, "count", len(messages))
	return messages, nil
}

// AddInteraction appends one analytics interaction record.
func (s *SQLiteStore) AddInteraction(rec models.Interaction) error {
	_, err := s.db.Exec(`INSERT INTO interactions (id, conversation_id, block_id, option_text, next_block_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ConversationID, rec.BlockID, nilIfEmpty(rec.OptionText), nilIfEmpty(rec.NextBlockID), nilIfEmpty(rec.Metadata), rec.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddInteraction failed", "error", err, "conversationID", rec.ConversationID)
		return fmt.Errorf("failed to insert interaction for %s: %w", rec.ConversationID, err)
	}
	slog.Debug("SQLiteStore AddInteraction succeeded", "conversationID", rec.ConversationID, "blockID", rec.BlockID)
	return nil
}

// GetResourceByName looks up a named resource scoped by experience id.
func (s *SQLiteStore) GetResourceByName(name, experienceID string) (*models.Resource, error) {
	var r models.Resource
	err := s.db.QueryRow(`SELECT id, experience_id, name, link FROM resources WHERE name = ? AND experience_id = ?`,
		name, experienceID).Scan(&r.ID, &r.ExperienceID, &r.Name, &r.Link)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetResourceByName not found", "name", name, "experienceID", experienceID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetResourceByName failed", "error", err, "name", name)
		return nil, fmt.Errorf("failed to load resource %s: %w", name, err)
	}
	return &r, nil
}

// SaveResource inserts or replaces a resource.
func (s *SQLiteStore) SaveResource(res models.Resource) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO resources (id, experience_id, name, link) VALUES (?, ?, ?, ?)`,
		res.ID, res.ExperienceID, res.Name, res.Link)
	if err != nil {
		slog.Error("SQLiteStore SaveResource failed", "error", err, "name", res.Name)
		return fmt.Errorf("failed to save resource %s: %w", res.Name, err)
	}
	slog.Debug("SQLiteStore SaveResource succeeded", "name", res.Name, "experienceID", res.ExperienceID)
	return nil
}

// SaveFunnel inserts or replaces a funnel graph definition.
func (s *SQLiteStore) SaveFunnel(graph models.FunnelGraph) error {
	definition, err := marshalFunnel(graph)
	if err != nil {
		slog.Error("SQLiteStore SaveFunnel marshal failed", "error", err, "id", graph.ID)
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO funnels (id, experience_id, version, definition) VALUES (?, ?, ?, ?)`,
		graph.ID, graph.ExperienceID, graph.Version, definition)
	if err != nil {
		slog.Error("SQLiteStore SaveFunnel failed", "error", err, "id", graph.ID)
		return fmt.Errorf("failed to save funnel %s: %w", graph.ID, err)
	}
	slog.Debug("SQLiteStore SaveFunnel succeeded", "id", graph.ID, "version", graph.Version)
	return nil
}

// GetFunnel loads a funnel graph by id scoped by experience id.
func (s *SQLiteStore) GetFunnel(id, experienceID string) (*models.FunnelGraph, error) {
	var definition string
	err := s.db.QueryRow(`SELECT definition FROM funnels WHERE id = ? AND experience_id = ?`, id, experienceID).Scan(&definition)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetFunnel not found", "id", id, "experienceID", experienceID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFunnel failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to load funnel %s: %w", id, err)
	}
	return unmarshalFunnel(definition)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
