package push

import (
	"context"
	"errors"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/pliu/parley/internal/models"
)

const (
	maxBodyLength    = 100
	voiceMessageBody = "🎤 Voice message"
	fallbackText     = "New message"
)

// Presence reports whether a user currently has a live connection.
type Presence interface {
	Online(userID uint) bool
}

type Users interface {
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
	SetPushToken(ctx context.Context, userID uint, token *string) error
}

// Notifier pushes new messages to participants who are not connected.
type Notifier struct {
	users    Users
	sender   Sender
	presence Presence
	log      *logrus.Logger
}

func NewNotifier(users Users, sender Sender, presence Presence, log *logrus.Logger) *Notifier {
	return &Notifier{users: users, sender: sender, presence: presence, log: log}
}

// NotifyMessage sends msg to every recipient that is offline and has a
// device token. Failures are logged and never returned; a token the
// provider rejects is cleared.
func (n *Notifier) NotifyMessage(ctx context.Context, msg *models.Message, recipientIDs []uint) {
	title, body := Content(msg)
	data := map[string]string{
		"type":            "message",
		"conversation_id": strconv.FormatUint(uint64(msg.ConversationID), 10),
		"message_id":      strconv.FormatUint(uint64(msg.ID), 10),
		"user_id":         strconv.FormatUint(uint64(msg.UserID), 10),
	}

	for _, id := range recipientIDs {
		if id == msg.UserID || (n.presence != nil && n.presence.Online(id)) {
			continue
		}
		entry := n.log.WithFields(logrus.Fields{"user_id": id, "message_id": msg.ID})

		user, err := n.users.GetUserByID(ctx, id)
		if err != nil {
			entry.WithError(err).Warn("push recipient lookup failed")
			continue
		}
		if user.PushToken == nil || *user.PushToken == "" {
			continue
		}

		err = n.sender.Send(ctx, *user.PushToken, title, body, data)
		switch {
		case err == nil:
			entry.WithField("token", truncate(*user.PushToken, 20)).Info("push notification sent")
		case errors.Is(err, ErrInvalidToken):
			entry.Warn("push token rejected, clearing it")
			if err := n.users.SetPushToken(ctx, id, nil); err != nil {
				entry.WithError(err).Error("failed to clear push token")
			}
		default:
			entry.WithError(err).Error("failed to send push notification")
		}
	}
}

// Content derives the notification title and body for msg.
func Content(msg *models.Message) (title, body string) {
	title = fallbackText
	if msg.User != nil && msg.User.Name != "" {
		title = msg.User.Name
	}

	switch {
	case msg.Type == models.MessageText && msg.Body != "":
		body = msg.Body
	case msg.IsVoiceNote():
		body = voiceMessageBody
	default:
		body = fallbackText
	}
	return title, truncate(body, maxBodyLength)
}

// truncate cuts s to n runes and marks the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
