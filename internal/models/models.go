// Package models defines the core data structures for the Hustler funnel engine.
//
// It includes conversation, message, and interaction records shared across modules.
package models

import (
	"errors"
	"time"
)

// ConversationStatus represents the lifecycle status of a conversation.
type ConversationStatus string

const (
	// ConversationStatusActive indicates the conversation is in progress.
	ConversationStatusActive ConversationStatus = "active"
	// ConversationStatusClosed indicates the conversation ended normally.
	ConversationStatusClosed ConversationStatus = "closed"
	// ConversationStatusAbandoned indicates the conversation went idle and was swept.
	ConversationStatusAbandoned ConversationStatus = "abandoned"
)

// IsValidConversationStatus checks if the given conversation status is supported.
func IsValidConversationStatus(s ConversationStatus) bool {
	switch s {
	case ConversationStatusActive, ConversationStatusClosed, ConversationStatusAbandoned:
		return true
	default:
		return false
	}
}

// MessageRole identifies the author of a logged message.
type MessageRole string

const (
	// MessageRoleUser marks an inbound message from the external user.
	MessageRoleUser MessageRole = "user"
	// MessageRoleBot marks an outbound message produced by the engine.
	MessageRoleBot MessageRole = "bot"
)

// Error variables for better error handling and testability
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrFunnelNotFound       = errors.New("funnel not found")
	ErrStageNotFound        = errors.New("stage not found")
	ErrStageEmpty           = errors.New("stage has no blocks")
	ErrBlockNotFound        = errors.New("block not found")
	ErrConversationClosed   = errors.New("conversation is not active")
	ErrStorage              = errors.New("storage failure")
	ErrDeliveryFailed       = errors.New("message delivery failed")
)

// Conversation is one user's active traversal of a funnel graph.
// ExperienceID is the tenant-scoping key; every load and update must filter by it.
type Conversation struct {
	ID              string             `json:"id"`
	ExperienceID    string             `json:"experience_id"`
	FunnelID        string             `json:"funnel_id"`
	ExternalUserID  string             `json:"external_user_id"`
	Status          ConversationStatus `json:"status"`
	CurrentBlockID  string             `json:"current_block_id,omitempty"` // empty before start or after termination
	Path            []string           `json:"path"`                       // append-only visited block ids, duplicates allowed
	Phase2StartTime *time.Time         `json:"phase2_start_time,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Message is one entry of a conversation's append-only message log.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Interaction records one accepted option selection or navigation event for analytics.
type Interaction struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	BlockID        string    `json:"block_id"`
	OptionText     string    `json:"option_text,omitempty"`
	NextBlockID    string    `json:"next_block_id,omitempty"`
	Metadata       string    `json:"metadata,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Resource is a named catalog entry (an offer) with an associated link.
type Resource struct {
	ID           string `json:"id"`
	ExperienceID string `json:"experience_id"`
	Name         string `json:"name"`
	Link         string `json:"link"`
}

// DeliveryStatus represents the delivery status of an outbound message.
type DeliveryStatus string

const (
	// DeliveryStatusSent indicates the message was sent.
	DeliveryStatusSent DeliveryStatus = "sent"
	// DeliveryStatusDelivered indicates the message was delivered.
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	// DeliveryStatusRead indicates the message was read.
	DeliveryStatusRead DeliveryStatus = "read"
	// DeliveryStatusFailed indicates the message failed to send.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// Receipt is a delivery status event for an outbound message.
type Receipt struct {
	To     string         `json:"to"`
	Status DeliveryStatus `json:"status"`
	Time   int64          `json:"time"`
}

// Response represents an incoming message from an external user.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
