package chat

import (
	"context"
	"fmt"

	"github.com/pliu/parley/internal/apperror"
	"github.com/pliu/parley/internal/models"
)

type BatchMessagesRequest struct {
	ConversationID uint `json:"conversation_id"`
	Page           *int `json:"page"`
}

type BatchInput struct {
	Conversations bool                   `json:"conversations"`
	Messages      []BatchMessagesRequest `json:"messages"`
}

type BatchResult struct {
	Conversations *Page[ConversationView]       `json:"conversations,omitempty"`
	Messages      map[uint]Page[models.Message] `json:"messages,omitempty"`
}

// Batch fetches the conversation list and several message pages in one
// call. Message requests for conversations the user cannot see are skipped.
func (s *Service) Batch(ctx context.Context, userID uint, in BatchInput) (BatchResult, error) {
	var v apperror.Validation
	for i, req := range in.Messages {
		if req.ConversationID == 0 {
			v.Add(fmt.Sprintf("messages.%d.conversation_id", i), "The conversation id field is required.")
		}
		if req.Page != nil && *req.Page < 1 {
			v.Add(fmt.Sprintf("messages.%d.page", i), "The page must be at least 1.")
		}
	}
	if err := v.Err(); err != nil {
		return BatchResult{}, err
	}

	var result BatchResult
	if in.Conversations {
		page, err := s.ListConversations(ctx, userID, 1)
		if err != nil {
			return BatchResult{}, err
		}
		result.Conversations = &page
	}

	if len(in.Messages) > 0 {
		result.Messages = make(map[uint]Page[models.Message], len(in.Messages))
	}
	for _, req := range in.Messages {
		page := 1
		if req.Page != nil {
			page = *req.Page
		}
		msgs, err := s.ListMessages(ctx, req.ConversationID, userID, page)
		switch {
		case err == nil:
			result.Messages[req.ConversationID] = msgs
		case apperror.Is(err, apperror.CodePermissionDenied), apperror.Is(err, apperror.CodeNotFound):
			continue
		default:
			return BatchResult{}, err
		}
	}
	return result, nil
}
