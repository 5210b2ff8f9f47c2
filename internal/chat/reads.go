package chat

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pliu/parley/internal/apperror"
	"github.com/pliu/parley/internal/events"
	"github.com/pliu/parley/internal/models"
)

// MarkRead moves the user's read cursor to now and returns the cursor as
// stored, which is later than now if a concurrent call got there first.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID uint) (time.Time, error) {
	conv, err := s.conversationFor(ctx, conversationID, userID)
	if err != nil {
		return time.Time{}, err
	}
	readAt, err := s.store.MarkRead(ctx, conv.ID, userID, s.now())
	if err != nil {
		return time.Time{}, err
	}

	s.invalidateConversation(conv.ID, conv.ParticipantIDs())
	s.publish(events.MessagesRead{Conversation: conv.ID, UserID: userID, ReadAt: readAt})
	return readAt, nil
}

// UnreadCount is computed on every call and never cached.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID uint) (int64, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.store.UnreadCount(ctx, conversationID, userID)
}

// ReadReceipt returns when the other participant of a two-party
// conversation last read it, or nil if they never did.
func (s *Service) ReadReceipt(ctx context.Context, conversationID, viewerID uint) (*time.Time, error) {
	conv, err := s.conversationFor(ctx, conversationID, viewerID)
	if err != nil {
		return nil, err
	}
	if len(conv.Participants) != 2 {
		return nil, apperror.ErrReceiptNotTwoParty
	}
	for _, p := range conv.Participants {
		if p.UserID != viewerID {
			return p.ReadAt, nil
		}
	}
	return nil, apperror.ErrReceiptNotTwoParty
}

func (s *Service) ReadCursors(ctx context.Context, conversationID, viewerID uint) ([]models.ReadCursor, error) {
	if err := s.requireParticipant(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	return s.store.ReadCursors(ctx, conversationID)
}

// CanSubscribe authorizes websocket subscriptions: only participants may
// listen on a conversation channel.
func (s *Service) CanSubscribe(ctx context.Context, userID uint, channel string) (bool, error) {
	raw, ok := strings.CutPrefix(channel, "conversation.")
	if !ok {
		return false, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return false, nil
	}
	return s.store.IsParticipant(ctx, uint(id), userID)
}
