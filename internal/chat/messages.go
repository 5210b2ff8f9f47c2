package chat

import (
	"context"
	"fmt"
	"io"
	"maps"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pliu/parley/internal/apperror"
	"github.com/pliu/parley/internal/cache"
	"github.com/pliu/parley/internal/events"
	"github.com/pliu/parley/internal/models"
	"github.com/pliu/parley/internal/storage"
	"github.com/pliu/parley/internal/store"
)

const voiceNotesDir = "voice_notes"

var voiceNoteFormats = map[string]bool{"mp3": true, "wav": true, "ogg": true, "webm": true}

// Attachment is an uploaded file as received from the client.
type Attachment struct {
	Filename string
	Size     int64
	Content  io.Reader
}

func (a *Attachment) ext() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(a.Filename), "."))
}

type SendMessageInput struct {
	ConversationID    uint
	Type              string
	Body              *string
	Metadata          map[string]any
	VoiceNote         *Attachment
	VoiceNoteDuration *int
}

func (s *Service) validateVoiceNote(v *apperror.Validation, att *Attachment, duration *int) {
	if att == nil {
		v.Add("voice_note", "The voice note field is required.")
		return
	}
	if !voiceNoteFormats[att.ext()] {
		v.Add("voice_note", "The voice note must be a file of type: mp3, wav, ogg, webm.")
	}
	if s.cfg.MaxVoiceNoteBytes > 0 && att.Size > s.cfg.MaxVoiceNoteBytes {
		v.Add("voice_note", tooLargeMessage(s.cfg.MaxVoiceNoteBytes))
	}
	if duration == nil || *duration < 1 {
		v.Add("voice_note_duration", "The voice note duration must be at least 1.")
	}
}

func tooLargeMessage(limit int64) string {
	return fmt.Sprintf("The voice note may not be greater than %d kilobytes.", limit/1024)
}

func (s *Service) validateSend(in *SendMessageInput) (models.MessageType, error) {
	var v apperror.Validation
	typ := models.MessageType(strings.TrimSpace(in.Type))
	if typ == "" {
		typ = models.MessageText
		if in.VoiceNote != nil {
			typ = models.MessageVoice
		}
	}
	if !typ.Valid() {
		v.Add("type", "The selected type is invalid.")
	}
	if in.ConversationID == 0 {
		v.Add("conversation_id", "The conversation id field is required.")
	}

	hasBody := in.Body != nil && strings.TrimSpace(*in.Body) != ""
	if !hasBody && in.VoiceNote == nil {
		v.Add("body", "The body field is required when voice note is not present.")
	}
	if typ == models.MessageVoice || in.VoiceNote != nil {
		s.validateVoiceNote(&v, in.VoiceNote, in.VoiceNoteDuration)
	}
	return typ, v.Err()
}

// putVoiceNote stores the upload and maps storage failures onto domain errors.
func (s *Service) putVoiceNote(att *Attachment) (string, error) {
	p, err := s.storage.Put(voiceNotesDir, att.ext(), att.Content)
	if errors.Is(err, storage.ErrTooLarge) {
		var v apperror.Validation
		v.Add("voice_note", tooLargeMessage(s.cfg.MaxVoiceNoteBytes))
		return "", v.Err()
	}
	if err != nil {
		return "", apperror.Unavailable("attachment storage unavailable", err)
	}
	return p, nil
}

func (s *Service) deleteFile(p string) {
	if err := s.storage.Delete(p); err != nil {
		s.log.WithError(err).WithField("path", p).Warn("failed to delete attachment")
	}
}

// voiceMetadata adds the size and the sender's phone to the client metadata.
func voiceMetadata(base map[string]any, sender *models.User, size int64) map[string]any {
	md := make(map[string]any, len(base)+2)
	maps.Copy(md, base)
	md["file_size"] = size
	if sender != nil && sender.Phone != nil {
		md["phone"] = *sender.Phone
	}
	return md
}

func senderOf(conv *models.Conversation, userID uint) *models.User {
	for _, p := range conv.Participants {
		if p.UserID == userID {
			return p.User
		}
	}
	return nil
}

// notify pushes msg in the background, detached from the request so the
// sender never waits on delivery.
func (s *Service) notify(ctx context.Context, msg *models.Message, recipientIDs []uint) {
	if s.notifier == nil {
		return
	}
	timeout := s.cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	s.pushes.Add(1)
	go func() {
		defer s.pushes.Done()
		defer cancel()
		s.notifier.NotifyMessage(ctx, msg, recipientIDs)
	}()
}

// Drain blocks until every pending push notification has finished.
func (s *Service) Drain() {
	s.pushes.Wait()
}

// SendMessage appends a message to the conversation. The message and the
// conversation's last_message_at are written together; afterwards caches
// are invalidated, message.sent is published and offline participants are
// notified.
func (s *Service) SendMessage(ctx context.Context, senderID uint, in SendMessageInput) (*models.Message, error) {
	typ, err := s.validateSend(&in)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversationFor(ctx, in.ConversationID, senderID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		UserID:         senderID,
		Type:           typ,
		Metadata:       in.Metadata,
		CreatedAt:      s.now(),
	}
	if in.Body != nil {
		msg.Body = *in.Body
	}
	if in.VoiceNote != nil {
		p, err := s.putVoiceNote(in.VoiceNote)
		if err != nil {
			return nil, err
		}
		msg.VoiceNotePath = &p
		msg.VoiceNoteDuration = in.VoiceNoteDuration
		msg.Metadata = voiceMetadata(in.Metadata, senderOf(conv, senderID), in.VoiceNote.Size)
	}

	if err := s.store.AppendMessage(ctx, msg); err != nil {
		if msg.VoiceNotePath != nil {
			s.deleteFile(*msg.VoiceNotePath)
		}
		return nil, err
	}
	saved, err := s.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return nil, err
	}

	participants := conv.ParticipantIDs()
	s.invalidateConversation(conv.ID, participants)
	s.publish(events.MessageSent{Message: saved})
	s.notify(ctx, saved, participants)

	s.log.WithFields(logrus.Fields{
		"message_id":      saved.ID,
		"conversation_id": conv.ID,
		"type":            saved.Type,
	}).Debug("message sent")
	return saved, nil
}

// ListMessages returns one page of the conversation's messages, newest first.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID uint, page int) (Page[models.Message], error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return Page[models.Message]{}, err
	}
	page = normalizePage(page)
	return cache.Remember(ctx, s.cache, messagesNamespace(conversationID), pageKey(page), s.cfg.MessagesTTL,
		func(ctx context.Context) (Page[models.Message], error) {
			msgs, total, err := s.store.GetChatMessages(ctx, conversationID, page, MessagesPerPage)
			if err != nil {
				return Page[models.Message]{}, err
			}
			return newPage(msgs, page, MessagesPerPage, total), nil
		})
}

// ViewMessages lists a page and moves the viewer's read cursor to now.
func (s *Service) ViewMessages(ctx context.Context, conversationID, userID uint, page int) (Page[models.Message], error) {
	result, err := s.ListMessages(ctx, conversationID, userID, page)
	if err != nil {
		return Page[models.Message]{}, err
	}
	if _, err := s.MarkRead(ctx, conversationID, userID); err != nil {
		return Page[models.Message]{}, err
	}
	return result, nil
}

func (s *Service) GetMessage(ctx context.Context, messageID, userID uint) (*models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}
	return msg, nil
}

// messageFor loads a message together with its conversation, checking that
// userID takes part in the conversation.
func (s *Service) messageFor(ctx context.Context, messageID, userID uint) (*models.Message, *models.Conversation, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	conv, err := s.conversationFor(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, nil, err
	}
	return msg, conv, nil
}

// EditMessage replaces the body of a message. Only its sender may edit it.
func (s *Service) EditMessage(ctx context.Context, messageID, requesterID uint, body string) (*models.Message, error) {
	msg, conv, err := s.messageFor(ctx, messageID, requesterID)
	if err != nil {
		return nil, err
	}
	if msg.UserID != requesterID {
		return nil, apperror.ErrNotMessageOwner
	}
	if strings.TrimSpace(body) == "" {
		var v apperror.Validation
		v.Add("body", "The body field is required.")
		return nil, v.Err()
	}

	editedAt := s.now()
	if editedAt.Before(msg.CreatedAt) {
		editedAt = msg.CreatedAt
	}
	if err := s.store.EditMessage(ctx, msg.ID, body, editedAt); err != nil {
		return nil, err
	}
	s.invalidateConversation(conv.ID, conv.ParticipantIDs())
	return s.store.GetMessage(ctx, msg.ID)
}

// RemoveMessage deletes a message and its attachment. The sender and any
// other participant of the conversation may do so.
func (s *Service) RemoveMessage(ctx context.Context, messageID, requesterID uint) error {
	msg, conv, err := s.messageFor(ctx, messageID, requesterID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMessage(ctx, msg.ID); err != nil {
		return err
	}
	if msg.VoiceNotePath != nil && *msg.VoiceNotePath != "" {
		s.deleteFile(*msg.VoiceNotePath)
	}
	s.invalidateConversation(conv.ID, conv.ParticipantIDs())
	s.log.WithFields(logrus.Fields{
		"message_id":      msg.ID,
		"conversation_id": conv.ID,
		"user_id":         requesterID,
	}).Info("message deleted")
	return nil
}

// AttachVoiceNote stores a voice note for an existing message, turning it
// into a voice message. A previous voice note is removed from storage.
func (s *Service) AttachVoiceNote(ctx context.Context, messageID, requesterID uint, att *Attachment, duration *int) (*models.Message, error) {
	msg, conv, err := s.messageFor(ctx, messageID, requesterID)
	if err != nil {
		return nil, err
	}
	if msg.UserID != requesterID {
		return nil, apperror.ErrNotMessageOwner
	}
	var v apperror.Validation
	s.validateVoiceNote(&v, att, duration)
	if err := v.Err(); err != nil {
		return nil, err
	}

	p, err := s.putVoiceNote(att)
	if err != nil {
		return nil, err
	}
	err = s.store.ReplaceAttachment(ctx, msg.ID, store.AttachmentUpdate{
		Path:     p,
		Duration: *duration,
		Metadata: voiceMetadata(msg.Metadata, msg.User, att.Size),
	})
	if err != nil {
		s.deleteFile(p)
		return nil, err
	}
	if msg.VoiceNotePath != nil && *msg.VoiceNotePath != "" && *msg.VoiceNotePath != p {
		s.deleteFile(*msg.VoiceNotePath)
	}

	s.invalidateConversation(conv.ID, conv.ParticipantIDs())
	return s.store.GetMessage(ctx, msg.ID)
}
