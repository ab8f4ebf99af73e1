package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalPath encodes a conversation path as a JSON array string.
func marshalPath(path []string) (string, error) {
	if path == nil {
		path = []string{}
	}
	data, err := json.Marshal(path)
	if err != nil {
		return "", fmt.Errorf("failed to marshal conversation path: %w", err)
	}
	return string(data), nil
}

// unmarshalPath decodes a JSON array string into a conversation path.
func unmarshalPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var path []string
	if err := json.Unmarshal([]byte(raw), &path); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation path: %w", err)
	}
	return path, nil
}

// marshalFunnel encodes a funnel graph definition as JSON.
func marshalFunnel(graph models.FunnelGraph) (string, error) {
	data, err := json.Marshal(graph)
	if err != nil {
		return "", fmt.Errorf("failed to marshal funnel definition: %w", err)
	}
	return string(data), nil
}

// unmarshalFunnel decodes a funnel graph definition from JSON.
func unmarshalFunnel(definition string) (*models.FunnelGraph, error) {
	var graph models.FunnelGraph
	if err := json.Unmarshal([]byte(definition), &graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal funnel definition: %w", err)
	}
	return &graph, nil
}

// scanConversation scans a Conversation from sql.Rows.
func scanConversation(rows *sql.Rows) (*models.Conversation, error) {
	var conv models.Conversation
	var currentBlockID sql.NullString
	var pathJSON string
	var phase2 sql.NullTime
	err := rows.Scan(
		&conv.ID, &conv.ExperienceID, &conv.FunnelID, &conv.ExternalUserID, &conv.Status,
		&currentBlockID, &pathJSON, &phase2, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan conversation failed: %w", err)
	}
	return assembleConversation(conv, currentBlockID, pathJSON, phase2)
}

// scanConversationRow scans a Conversation from a single sql.Row.
// Returns sql.ErrNoRows unchanged so callers can translate it.
func scanConversationRow(row *sql.Row) (*models.Conversation, error) {
	var conv models.Conversation
	var currentBlockID sql.NullString
	var pathJSON string
	var phase2 sql.NullTime
	err := row.Scan(
		&conv.ID, &conv.ExperienceID, &conv.FunnelID, &conv.ExternalUserID, &conv.Status,
		&currentBlockID, &pathJSON, &phase2, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return assembleConversation(conv, currentBlockID, pathJSON, phase2)
}

func assembleConversation(conv models.Conversation, currentBlockID sql.NullString, pathJSON string, phase2 sql.NullTime) (*models.Conversation, error) {
	conv.CurrentBlockID = currentBlockID.String
	if phase2.Valid {
		t := phase2.Time
		conv.Phase2StartTime = &t
	}
	path, err := unmarshalPath(pathJSON)
	if err != nil {
		return nil, err
	}
	conv.Path = path
	return &conv, nil
}
