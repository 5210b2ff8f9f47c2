package sqlstore

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/pliu/parley/internal/apperror"
	"github.com/pliu/parley/internal/models"
	"github.com/pliu/parley/internal/store"
)

// CreateConversation inserts the conversation and its memberships in one
// transaction. When conv carries a pair key and a conversation with that key
// already exists (found up front, or inserted concurrently and rejected by
// the unique index) the existing one is returned with created=false.
func (s *SQLStore) CreateConversation(ctx context.Context, conv *models.Conversation, userIDs []uint, joinedAt time.Time) (*models.Conversation, bool, error) {
	if conv.PairKey != nil {
		existing, err := s.conversationByPairKey(ctx, *conv.PairKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, storageErr(err, "CreateConversation.lookup")
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Participants").Create(conv).Error; err != nil {
			return err
		}
		members := make([]models.Participant, 0, len(userIDs))
		for _, id := range userIDs {
			members = append(members, models.Participant{
				ConversationID: conv.ID,
				UserID:         id,
				JoinedAt:       joinedAt,
			})
		}
		return tx.Omit("User").Create(&members).Error
	})
	if err != nil {
		if conv.PairKey != nil && isUniqueViolation(err) {
			if existing, lookupErr := s.conversationByPairKey(ctx, *conv.PairKey); lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, storageErr(err, "CreateConversation")
	}

	created, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (s *SQLStore) withParticipants(db *gorm.DB) *gorm.DB {
	return db.Preload("Participants.User")
}

func (s *SQLStore) conversationByPairKey(ctx context.Context, key string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.withParticipants(s.db.WithContext(ctx)).Where("pair_key = ?", key).First(&conv).Error; err != nil {
		return nil, err
	}
	if err := s.attachLatest(ctx, []*models.Conversation{&conv}); err != nil {
		return nil, err
	}
	sortParticipants(&conv)
	return &conv, nil
}

func (s *SQLStore) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.withParticipants(s.db.WithContext(ctx)).First(&conv, id).Error; err != nil {
		return nil, notFoundOr(err, apperror.ErrConversationNotFound, "GetConversation")
	}
	if err := s.attachLatest(ctx, []*models.Conversation{&conv}); err != nil {
		return nil, storageErr(err, "GetConversation.latest")
	}
	sortParticipants(&conv)
	return &conv, nil
}

func sortParticipants(conv *models.Conversation) {
	sort.Slice(conv.Participants, func(i, j int) bool {
		return conv.Participants[i].UserID < conv.Participants[j].UserID
	})
}

// attachLatest loads the newest non-deleted message of every conversation.
func (s *SQLStore) attachLatest(ctx context.Context, convs []*models.Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}

	latestIDs := s.db.Model(&models.Message{}).
		Select("MAX(id)").
		Where("conversation_id IN ?", ids).
		Group("conversation_id")

	var msgs []models.Message
	if err := s.db.WithContext(ctx).Preload("User").Where("id IN (?)", latestIDs).Find(&msgs).Error; err != nil {
		return err
	}

	byConv := make(map[uint]*models.Message, len(msgs))
	for i := range msgs {
		byConv[msgs[i].ConversationID] = &msgs[i]
	}
	for _, c := range convs {
		c.LatestMessage = byConv[c.ID]
	}
	return nil
}

func (s *SQLStore) IsParticipant(ctx context.Context, conversationID, userID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Participant{}).
		Joins("JOIN conversations ON conversations.id = conversation_user.conversation_id AND conversations.deleted_at IS NULL").
		Where("conversation_user.conversation_id = ? AND conversation_user.user_id = ?", conversationID, userID).
		Count(&n).Error
	if err != nil {
		return false, storageErr(err, "IsParticipant")
	}
	return n > 0, nil
}

func (s *SQLStore) ParticipantIDs(ctx context.Context, conversationID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Participant{}).
		Where("conversation_id = ?", conversationID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, storageErr(err, "ParticipantIDs")
	}
	return ids, nil
}

// GetUserConversations returns one page of the user's conversations, most
// recently active first; conversations without messages sort last.
func (s *SQLStore) GetUserConversations(ctx context.Context, userID uint, page, perPage int) ([]models.Conversation, int64, error) {
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Conversation{}).
			Joins("JOIN conversation_user ON conversation_user.conversation_id = conversations.id AND conversation_user.user_id = ?", userID)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, storageErr(err, "GetUserConversations.count")
	}

	var convs []models.Conversation
	err := s.withParticipants(base()).
		Order("conversations.last_message_at IS NULL").
		Order("conversations.last_message_at DESC").
		Order("conversations.id DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&convs).Error
	if err != nil {
		return nil, 0, storageErr(err, "GetUserConversations")
	}

	ptrs := make([]*models.Conversation, len(convs))
	for i := range convs {
		sortParticipants(&convs[i])
		ptrs[i] = &convs[i]
	}
	if err := s.attachLatest(ctx, ptrs); err != nil {
		return nil, 0, storageErr(err, "GetUserConversations.latest")
	}
	return convs, total, nil
}

func (s *SQLStore) UpdateConversation(ctx context.Context, id uint, update store.ConversationUpdate) error {
	fields := map[string]any{}
	if update.Title != nil {
		fields["title"] = *update.Title
	}
	if update.Type != nil {
		fields["type"] = *update.Type
	}
	if update.PairKey != nil {
		fields["pair_key"] = *update.PairKey
	} else if update.ClearPairKey {
		fields["pair_key"] = gorm.Expr("NULL")
	}
	if len(fields) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return apperror.AlreadyExists("a private conversation between these users already exists")
		}
		return storageErr(res.Error, "UpdateConversation")
	}
	if res.RowsAffected == 0 {
		return apperror.ErrConversationNotFound
	}
	return nil
}

// DeleteConversation soft-deletes the conversation and its messages. The
// pair key is released so the same two users can start a new private
// conversation; memberships are kept for recovery.
func (s *SQLStore) DeleteConversation(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Conversation{}).Where("id = ?", id).Update("pair_key", gorm.Expr("NULL"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperror.ErrConversationNotFound
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Conversation{}, id).Error
	})
	if err != nil {
		return storageErr(err, "DeleteConversation")
	}
	return nil
}
