// Package events defines the real-time events emitted for a conversation
// and the Publisher that carries them to subscribers.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/pliu/parley/internal/models"
)

const (
	NameMessageSent  = "message.sent"
	NameMessagesRead = "messages.read"
)

// Event is implemented only by the types in this package.
type Event interface {
	Name() string
	ConversationID() uint
	// Actor is the user who caused the event; they do not receive it.
	Actor() uint
	Payload() any
	sealed()
}

// MessageSent carries the full message as it is returned by the API.
type MessageSent struct {
	Message *models.Message
}

func (e MessageSent) Name() string         { return NameMessageSent }
func (e MessageSent) ConversationID() uint { return e.Message.ConversationID }
func (e MessageSent) Actor() uint          { return e.Message.UserID }
func (e MessageSent) Payload() any         { return e.Message }

func (MessageSent) sealed() {}

type MessagesRead struct {
	Conversation uint      `json:"conversation_id"`
	UserID       uint      `json:"user_id"`
	ReadAt       time.Time `json:"read_at"`
}

func (e MessagesRead) Name() string         { return NameMessagesRead }
func (e MessagesRead) ConversationID() uint { return e.Conversation }
func (e MessagesRead) Actor() uint          { return e.UserID }
func (e MessagesRead) Payload() any         { return e }

func (MessagesRead) sealed() {}

// ChannelFor names the broadcast channel of a conversation.
func ChannelFor(conversationID uint) string {
	return fmt.Sprintf("conversation.%d", conversationID)
}

// Publisher delivers an event to every subscriber of channel except the
// user exceptUserID. Delivery is best-effort.
type Publisher interface {
	Publish(channel, event string, payload any, exceptUserID uint) error
}

// Dispatch publishes e on its conversation channel.
func Dispatch(p Publisher, e Event) error {
	return p.Publish(ChannelFor(e.ConversationID()), e.Name(), e.Payload(), e.Actor())
}

// Multi fans an event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(channel, event string, payload any, exceptUserID uint) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(channel, event, payload, exceptUserID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(string, string, any, uint) error { return nil }
