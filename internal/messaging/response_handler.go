package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MichaelRobotics/Hustler-sub011/internal/funnel"
	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
)

// ResponseAction defines a hook function that processes a user's response.
// It receives the user's canonical phone number, response text, and timestamp.
// It should return true if the response was handled, false otherwise.
type ResponseAction func(ctx context.Context, from, responseText string, timestamp int64) (handled bool, err error)

// ConversationEngine is the slice of the funnel engine the handler routes
// inbound messages into.
type ConversationEngine interface {
	StartConversation(ctx context.Context, experienceID, funnelID, externalUserID string) (*models.Conversation, string, error)
	ProcessMessage(ctx context.Context, conversationID, experienceID, inputText string) (*funnel.Outcome, error)
}

// ConversationFinder locates the active conversation for a sender.
type ConversationFinder interface {
	GetActiveConversationByUser(externalUserID, experienceID string) (*models.Conversation, error)
}

// ResponseHandler routes incoming responses. A registered per-recipient hook
// takes precedence; otherwise the response is fed into the funnel engine for
// the handler's configured experience. Messages from the same sender are
// serialized so two inbound texts cannot advance one conversation
// concurrently.
type ResponseHandler struct {
	// hooks maps canonicalized phone numbers to response action functions
	hooks map[string]ResponseAction
	// mu protects concurrent access to the hooks map
	mu         sync.RWMutex
	msgService Service

	engine        ConversationEngine
	conversations ConversationFinder
	experienceID  string
	funnelID      string

	// senderLocks serializes processing per canonical sender
	senderLocks sync.Map

	// defaultMessage is sent when no hook handles a response and no engine is configured
	defaultMessage string
	// failureMessage is sent when the engine fails unexpectedly
	failureMessage string
}

// RouterOption configures a ResponseHandler.
type RouterOption func(*ResponseHandler)

// WithFunnelRouting routes unhooked responses into the given engine, scoped to
// one experience and funnel. A sender with no active conversation gets a new
// one started in that funnel.
func WithFunnelRouting(engine ConversationEngine, finder ConversationFinder, experienceID, funnelID string) RouterOption {
	return func(rh *ResponseHandler) {
		rh.engine = engine
		rh.conversations = finder
		rh.experienceID = experienceID
		rh.funnelID = funnelID
	}
}

// NewResponseHandler creates a new ResponseHandler with the given messaging service.
func NewResponseHandler(msgService Service, opts ...RouterOption) *ResponseHandler {
	rh := &ResponseHandler{
		hooks:          make(map[string]ResponseAction),
		msgService:     msgService,
		defaultMessage: "Thanks for your message! We'll get back to you soon.",
		failureMessage: "Sorry, something went wrong on our side. Please try again in a moment.",
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// RegisterHook registers a response action for a specific user.
// The recipient should be a canonicalizable phone number (e.g., "1234567890").
func (rh *ResponseHandler) RegisterHook(recipient string, action ResponseAction) error {
	canonicalRecipient, err := rh.msgService.ValidateAndCanonicalizeRecipient(recipient)
	if err != nil {
		slog.Error("ResponseHandler RegisterHook validation failed", "error", err, "recipient", recipient)
		return fmt.Errorf("invalid recipient: %w", err)
	}

	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.hooks[canonicalRecipient] = action

	slog.Debug("ResponseHandler hook registered", "recipient", canonicalRecipient)
	return nil
}

// UnregisterHook removes a response action for a specific user.
func (rh *ResponseHandler) UnregisterHook(recipient string) error {
	canonicalRecipient, err := rh.msgService.ValidateAndCanonicalizeRecipient(recipient)
	if err != nil {
		slog.Error("ResponseHandler UnregisterHook validation failed", "error", err, "recipient", recipient)
		return fmt.Errorf("invalid recipient: %w", err)
	}

	rh.mu.Lock()
	defer rh.mu.Unlock()
	delete(rh.hooks, canonicalRecipient)

	slog.Debug("ResponseHandler hook unregistered", "recipient", canonicalRecipient)
	return nil
}

// IsHookRegistered checks if a hook is registered for the given recipient.
func (rh *ResponseHandler) IsHookRegistered(recipient string) bool {
	canonicalRecipient, err := rh.msgService.ValidateAndCanonicalizeRecipient(recipient)
	if err != nil {
		return false
	}

	rh.mu.RLock()
	defer rh.mu.RUnlock()
	_, exists := rh.hooks[canonicalRecipient]
	return exists
}

// GetHookCount returns the number of currently registered hooks.
func (rh *ResponseHandler) GetHookCount() int {
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	return len(rh.hooks)
}

// ProcessResponse processes one incoming response: a registered hook first,
// then funnel routing, then the default reply.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	canonicalFrom, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler ProcessResponse validation failed", "error", err, "from", response.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	// at-most-one-in-flight per sender
	lockAny, _ := rh.senderLocks.LoadOrStore(canonicalFrom, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	slog.Debug("ResponseHandler processing response", "from", canonicalFrom, "body_length", len(response.Body))

	rh.mu.RLock()
	action, hasHook := rh.hooks[canonicalFrom]
	rh.mu.RUnlock()

	if hasHook {
		handled, err := action(ctx, canonicalFrom, response.Body, response.Time)
		if err != nil {
			slog.Error("ResponseHandler hook execution failed", "error", err, "from", canonicalFrom)
			if sendErr := rh.msgService.SendMessage(ctx, canonicalFrom, rh.failureMessage); sendErr != nil {
				slog.Error("ResponseHandler failed to send error message", "error", sendErr, "from", canonicalFrom)
			}
			return fmt.Errorf("hook execution failed: %w", err)
		}
		if handled {
			slog.Info("ResponseHandler response handled by hook", "from", canonicalFrom)
			return nil
		}
		slog.Debug("ResponseHandler hook did not handle response", "from", canonicalFrom)
	}

	if rh.engine != nil {
		return rh.routeToFunnel(ctx, canonicalFrom, response.Body)
	}

	if err := rh.msgService.SendMessage(ctx, canonicalFrom, rh.defaultMessage); err != nil {
		slog.Error("ResponseHandler failed to send default response", "error", err, "from", canonicalFrom)
		return fmt.Errorf("failed to send default response: %w", err)
	}
	slog.Info("ResponseHandler sent default response", "from", canonicalFrom)
	return nil
}

// routeToFunnel drives one inbound text through the funnel engine. A sender
// without an active conversation (first contact, or the previous one ended)
// gets a fresh conversation and the welcome message.
func (rh *ResponseHandler) routeToFunnel(ctx context.Context, canonicalFrom, body string) error {
	conv, err := rh.conversations.GetActiveConversationByUser(canonicalFrom, rh.experienceID)
	if err != nil {
		slog.Error("ResponseHandler conversation lookup failed", "error", err, "from", canonicalFrom)
		rh.sendFailureNotice(ctx, canonicalFrom)
		return fmt.Errorf("conversation lookup failed: %w", err)
	}

	if conv == nil {
		return rh.startFunnel(ctx, canonicalFrom)
	}

	out, err := rh.engine.ProcessMessage(ctx, conv.ID, rh.experienceID, body)
	if err != nil {
		// The conversation ended between lookup and processing; start over.
		if errors.Is(err, models.ErrConversationClosed) || errors.Is(err, models.ErrConversationNotFound) {
			return rh.startFunnel(ctx, canonicalFrom)
		}
		slog.Error("ResponseHandler engine processing failed", "error", err, "from", canonicalFrom, "conversationID", conv.ID)
		rh.sendFailureNotice(ctx, canonicalFrom)
		return fmt.Errorf("message processing failed: %w", err)
	}

	if err := rh.msgService.SendMessage(ctx, canonicalFrom, out.BotMessage); err != nil {
		slog.Error("ResponseHandler failed to send bot reply", "error", err, "from", canonicalFrom)
		return fmt.Errorf("failed to send bot reply: %w", err)
	}
	slog.Info("ResponseHandler funnel reply sent", "from", canonicalFrom, "nextBlockID", out.NextBlockID, "escalationLevel", out.EscalationLevel)
	return nil
}

func (rh *ResponseHandler) startFunnel(ctx context.Context, canonicalFrom string) error {
	_, welcome, err := rh.engine.StartConversation(ctx, rh.experienceID, rh.funnelID, canonicalFrom)
	if err != nil {
		slog.Error("ResponseHandler failed to start conversation", "error", err, "from", canonicalFrom)
		rh.sendFailureNotice(ctx, canonicalFrom)
		return fmt.Errorf("failed to start conversation: %w", err)
	}
	if err := rh.msgService.SendMessage(ctx, canonicalFrom, welcome); err != nil {
		slog.Error("ResponseHandler failed to send welcome", "error", err, "from", canonicalFrom)
		return fmt.Errorf("failed to send welcome: %w", err)
	}
	slog.Info("ResponseHandler started new conversation", "from", canonicalFrom)
	return nil
}

// sendFailureNotice sends a generic failure reply without leaking internal
// error detail. Its own failure is only logged.
func (rh *ResponseHandler) sendFailureNotice(ctx context.Context, to string) {
	if err := rh.msgService.SendMessage(ctx, to, rh.failureMessage); err != nil {
		slog.Error("ResponseHandler failed to send failure notice", "error", err, "to", to)
	}
}

// SetDefaultMessage sets the default message sent when no hook handles a
// response and no engine is configured.
func (rh *ResponseHandler) SetDefaultMessage(message string) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.defaultMessage = message
}

// Start begins processing responses from the messaging service.
// This should be called once to start the response processing loop.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting response processing")

	go func() {
		defer slog.Info("ResponseHandler stopped response processing")

		for {
			select {
			case response, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler responses channel closed")
					return
				}
				if err := rh.ProcessResponse(ctx, response); err != nil {
					slog.Error("ResponseHandler failed to process response", "error", err, "from", response.From)
				}
			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				return
			}
		}
	}()
}
