package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pliu/parley/internal/apperror"
	"github.com/pliu/parley/internal/cache"
	"github.com/pliu/parley/internal/models"
	"github.com/pliu/parley/internal/store"
)

type CreateConversationInput struct {
	Title   *string `json:"title"`
	Type    string  `json:"type"`
	UserIDs []uint  `json:"user_ids"`
}

type UpdateConversationInput struct {
	Title *string `json:"title"`
	Type  *string `json:"type"`
}

// ConversationView is a conversation as seen by one participant.
type ConversationView struct {
	ID              uint                    `json:"id"`
	Title           *string                 `json:"title"`
	Type            models.ConversationType `json:"type"`
	CreatedBy       uint                    `json:"created_by"`
	LastMessageAt   *time.Time              `json:"last_message_at"`
	ReadAt          *time.Time              `json:"read_at"`
	OtherUserReadAt *time.Time              `json:"other_user_read_at"`
	ReadCursors     []models.ReadCursor     `json:"read_cursors"`
	UnreadCount     int64                   `json:"unread_count"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
	Users           []*models.User          `json:"users"`
	LatestMessage   *models.Message         `json:"latest_message"`
}

// newConversationView builds a fresh view; conv may be a shared cached value
// and is only read.
func newConversationView(conv *models.Conversation, viewerID uint, unread int64) ConversationView {
	v := ConversationView{
		ID:            conv.ID,
		Title:         conv.Title,
		Type:          conv.Type,
		CreatedBy:     conv.CreatedBy,
		LastMessageAt: conv.LastMessageAt,
		UnreadCount:   unread,
		CreatedAt:     conv.CreatedAt,
		UpdatedAt:     conv.UpdatedAt,
		LatestMessage: conv.LatestMessage,
		ReadCursors:   make([]models.ReadCursor, 0, len(conv.Participants)),
		Users:         make([]*models.User, 0, len(conv.Participants)),
	}
	for _, p := range conv.Participants {
		v.ReadCursors = append(v.ReadCursors, models.ReadCursor{UserID: p.UserID, ReadAt: p.ReadAt})
		if p.User != nil {
			v.Users = append(v.Users, p.User)
		}
		if p.UserID == viewerID {
			v.ReadAt = p.ReadAt
		} else if len(conv.Participants) == 2 {
			v.OtherUserReadAt = p.ReadAt
		}
	}
	return v
}

// pairKey identifies the unordered user pair of a private conversation.
func pairKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func withCreator(creatorID uint, userIDs []uint) []uint {
	seen := make(map[uint]bool, len(userIDs)+1)
	ids := make([]uint, 0, len(userIDs)+1)
	for _, id := range userIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if !seen[creatorID] {
		ids = append(ids, creatorID)
	}
	return ids
}

func validateTitle(v *apperror.Validation, title *string) {
	if title != nil && len(*title) > 255 {
		v.Add("title", "The title may not be greater than 255 characters.")
	}
}

// CreateConversation creates a conversation between the creator and
// in.UserIDs. A private conversation between two users is unique: asking
// for it again returns the existing one with created=false.
func (s *Service) CreateConversation(ctx context.Context, creatorID uint, in CreateConversationInput) (ConversationView, bool, error) {
	var v apperror.Validation
	typ := models.ConversationType(strings.TrimSpace(in.Type))
	switch {
	case typ == "":
		v.Add("type", "The type field is required.")
	case !typ.Valid():
		v.Add("type", "The selected type is invalid.")
	}
	if len(in.UserIDs) == 0 {
		v.Add("user_ids", "The user ids field is required.")
	}
	validateTitle(&v, in.Title)
	if err := v.Err(); err != nil {
		return ConversationView{}, false, err
	}

	ids := withCreator(creatorID, in.UserIDs)
	n, err := s.store.CountUsers(ctx, ids)
	if err != nil {
		return ConversationView{}, false, err
	}
	if n != int64(len(ids)) {
		v.Add("user_ids", "The selected user ids is invalid.")
	}
	if typ == models.ConversationPrivate && len(ids) != 2 {
		v.Add("type", "A private conversation must have exactly two participants.")
	}
	if err := v.Err(); err != nil {
		return ConversationView{}, false, err
	}

	conv := &models.Conversation{Title: in.Title, Type: typ, CreatedBy: creatorID}
	if typ == models.ConversationPrivate {
		key := pairKey(ids[0], ids[1])
		conv.PairKey = &key
	}

	saved, created, err := s.store.CreateConversation(ctx, conv, ids, s.now())
	if err != nil {
		return ConversationView{}, false, err
	}
	if created {
		s.invalidateLists(ids)
		s.log.WithField("conversation_id", saved.ID).WithField("type", saved.Type).Info("conversation created")
	}

	unread, err := s.store.UnreadCount(ctx, saved.ID, creatorID)
	if err != nil {
		return ConversationView{}, false, err
	}
	return newConversationView(saved, creatorID, unread), created, nil
}

// ListConversations returns one page of the user's conversations, most
// recently active first. The page is cached per user; unread counts are
// always computed fresh.
func (s *Service) ListConversations(ctx context.Context, userID uint, page int) (Page[ConversationView], error) {
	page = normalizePage(page)
	cached, err := cache.Remember(ctx, s.cache, conversationsNamespace(userID), pageKey(page), s.cfg.ConversationsTTL,
		func(ctx context.Context) (Page[models.Conversation], error) {
			convs, total, err := s.store.GetUserConversations(ctx, userID, page, ConversationsPerPage)
			if err != nil {
				return Page[models.Conversation]{}, err
			}
			return newPage(convs, page, ConversationsPerPage, total), nil
		})
	if err != nil {
		return Page[ConversationView]{}, err
	}

	ids := make([]uint, len(cached.Data))
	for i := range cached.Data {
		ids[i] = cached.Data[i].ID
	}
	counts, err := s.store.UnreadCounts(ctx, userID, ids)
	if err != nil {
		return Page[ConversationView]{}, err
	}

	views := make([]ConversationView, len(cached.Data))
	for i := range cached.Data {
		views[i] = newConversationView(&cached.Data[i], userID, counts[cached.Data[i].ID])
	}
	return Page[ConversationView]{Data: views, Meta: cached.Meta}, nil
}

func (s *Service) GetConversation(ctx context.Context, conversationID, userID uint) (ConversationView, error) {
	conv, err := s.conversationFor(ctx, conversationID, userID)
	if err != nil {
		return ConversationView{}, err
	}
	unread, err := s.store.UnreadCount(ctx, conv.ID, userID)
	if err != nil {
		return ConversationView{}, err
	}
	return newConversationView(conv, userID, unread), nil
}

func (s *Service) UpdateConversation(ctx context.Context, conversationID, userID uint, in UpdateConversationInput) (ConversationView, error) {
	conv, err := s.conversationFor(ctx, conversationID, userID)
	if err != nil {
		return ConversationView{}, err
	}

	var v apperror.Validation
	validateTitle(&v, in.Title)
	update := store.ConversationUpdate{Title: in.Title}
	if in.Type != nil {
		typ := models.ConversationType(*in.Type)
		switch {
		case !typ.Valid():
			v.Add("type", "The selected type is invalid.")
		case typ == models.ConversationPrivate && len(conv.Participants) != 2:
			v.Add("type", "A private conversation must have exactly two participants.")
		case typ != conv.Type:
			update.Type = &typ
			if typ == models.ConversationPrivate {
				key := pairKey(conv.Participants[0].UserID, conv.Participants[1].UserID)
				update.PairKey = &key
			} else {
				update.ClearPairKey = true
			}
		}
	}
	if err := v.Err(); err != nil {
		return ConversationView{}, err
	}

	if err := s.store.UpdateConversation(ctx, conv.ID, update); err != nil {
		return ConversationView{}, err
	}
	s.invalidateLists(conv.ParticipantIDs())
	return s.GetConversation(ctx, conv.ID, userID)
}

// DeleteConversation soft-deletes the conversation with its messages.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, userID uint) error {
	conv, err := s.conversationFor(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteConversation(ctx, conv.ID); err != nil {
		return err
	}
	s.invalidateConversation(conv.ID, conv.ParticipantIDs())
	s.log.WithField("conversation_id", conv.ID).WithField("user_id", userID).Info("conversation deleted")
	return nil
}
