package sqlstore

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pliu/parley/internal/apperror"
	"github.com/pliu/parley/internal/models"
	"github.com/pliu/parley/internal/store"
)

// AppendMessage stores msg and moves the conversation's last_message_at
// forward in the same transaction. The activity timestamp never moves
// backwards, so concurrent appends leave it at the newest message.
func (s *SQLStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("User").Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ? AND (last_message_at IS NULL OR last_message_at < ?)", msg.ConversationID, msg.CreatedAt).
			Update("last_message_at", msg.CreatedAt).Error
	})
	if err != nil {
		return storageErr(err, "AppendMessage")
	}
	return nil
}

func (s *SQLStore) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).Preload("User").First(&msg, id).Error; err != nil {
		return nil, notFoundOr(err, apperror.ErrMessageNotFound, "GetMessage")
	}
	return &msg, nil
}

// GetChatMessages returns one page of a conversation's messages, newest first.
func (s *SQLStore) GetChatMessages(ctx context.Context, conversationID uint, page, perPage int) ([]models.Message, int64, error) {
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Message{}).Where("conversation_id = ?", conversationID)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, storageErr(err, "GetChatMessages.count")
	}

	var msgs []models.Message
	err := base().
		Preload("User").
		Order("created_at DESC").
		Order("id DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, storageErr(err, "GetChatMessages")
	}
	return msgs, total, nil
}

func (s *SQLStore) EditMessage(ctx context.Context, id uint, body string, editedAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Updates(map[string]any{
		"body":      body,
		"is_edited": true,
		"edited_at": editedAt,
	})
	if res.Error != nil {
		return storageErr(res.Error, "EditMessage")
	}
	if res.RowsAffected == 0 {
		return apperror.ErrMessageNotFound
	}
	return nil
}

func (s *SQLStore) ReplaceAttachment(ctx context.Context, id uint, update store.AttachmentUpdate) error {
	res := s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Updates(map[string]any{
		"type":                models.MessageVoice,
		"voice_note_path":     update.Path,
		"voice_note_duration": update.Duration,
		"metadata":            datatypes.JSONMap(update.Metadata),
	})
	if res.Error != nil {
		return storageErr(res.Error, "ReplaceAttachment")
	}
	if res.RowsAffected == 0 {
		return apperror.ErrMessageNotFound
	}
	return nil
}

func (s *SQLStore) DeleteMessage(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Message{}, id)
	if res.Error != nil {
		return storageErr(res.Error, "DeleteMessage")
	}
	if res.RowsAffected == 0 {
		return apperror.ErrMessageNotFound
	}
	return nil
}

// MarkRead moves the user's read cursor to at unless it is already later,
// and returns the cursor as stored.
func (s *SQLStore) MarkRead(ctx context.Context, conversationID, userID uint, at time.Time) (time.Time, error) {
	var stored time.Time
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Participant{}).
			Where("conversation_id = ? AND user_id = ? AND (read_at IS NULL OR read_at < ?)", conversationID, userID, at).
			Update("read_at", at).Error
		if err != nil {
			return err
		}

		var p models.Participant
		if err := tx.Where("conversation_id = ? AND user_id = ?", conversationID, userID).First(&p).Error; err != nil {
			return notFoundOr(err, apperror.ErrNotParticipant, "MarkRead.reload")
		}
		if p.ReadAt != nil {
			stored = p.ReadAt.UTC()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, storageErr(err, "MarkRead")
	}
	return stored, nil
}

func (s *SQLStore) ReadCursors(ctx context.Context, conversationID uint) ([]models.ReadCursor, error) {
	var cursors []models.ReadCursor
	err := s.db.WithContext(ctx).Model(&models.Participant{}).
		Select("user_id, read_at").
		Where("conversation_id = ?", conversationID).
		Order("user_id").
		Scan(&cursors).Error
	if err != nil {
		return nil, storageErr(err, "ReadCursors")
	}
	return cursors, nil
}

func (s *SQLStore) unreadQuery(ctx context.Context, userID uint) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Message{}).
		Joins("JOIN conversation_user ON conversation_user.conversation_id = messages.conversation_id AND conversation_user.user_id = ?", userID).
		Where("messages.user_id <> ?", userID).
		Where("(conversation_user.read_at IS NULL OR messages.created_at > conversation_user.read_at)")
}

// UnreadCount counts messages from other participants newer than the
// user's read cursor.
func (s *SQLStore) UnreadCount(ctx context.Context, conversationID, userID uint) (int64, error) {
	var n int64
	err := s.unreadQuery(ctx, userID).
		Where("messages.conversation_id = ?", conversationID).
		Count(&n).Error
	if err != nil {
		return 0, storageErr(err, "UnreadCount")
	}
	return n, nil
}

func (s *SQLStore) UnreadCounts(ctx context.Context, userID uint, conversationIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		ConversationID uint
		Unread         int64
	}
	err := s.unreadQuery(ctx, userID).
		Select("messages.conversation_id AS conversation_id, COUNT(*) AS unread").
		Where("messages.conversation_id IN ?", conversationIDs).
		Group("messages.conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, storageErr(err, "UnreadCounts")
	}

	for _, id := range conversationIDs {
		counts[id] = 0
	}
	for _, r := range rows {
		counts[r.ConversationID] = r.Unread
	}
	return counts, nil
}
