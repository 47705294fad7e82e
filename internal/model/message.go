package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sender identifies the author of a conversation message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderAgent, SenderSystem:
		return true
	}
	return false
}

// ConversationMessage is an append-only chat record tied to a session,
// stamped with the step the session was on when it was authored.
type ConversationMessage struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"-"`
	MessageText string    `json:"message"`
	Sender      Sender    `json:"sender"`
	StepAtTime  int       `json:"step_at_time"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessageCreate is the request payload for adding a message.
type MessageCreate struct {
	Message string `json:"message"`
	Sender  Sender `json:"sender"`
}

// Validate checks the message payload.
func (m MessageCreate) Validate() error {
	if m.Message == "" {
		return fmt.Errorf("message is required")
	}
	if !m.Sender.Valid() {
		return fmt.Errorf("sender must be one of user, agent, system (got %q)", m.Sender)
	}
	return nil
}
