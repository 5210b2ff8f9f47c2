package chat

import "fmt"

func conversationsNamespace(userID uint) string {
	return fmt.Sprintf("conversations:user:%d", userID)
}

func messagesNamespace(conversationID uint) string {
	return fmt.Sprintf("messages:conversation:%d", conversationID)
}

func pageKey(page int) string {
	return fmt.Sprintf("page:%d", page)
}

// invalidateLists drops every cached conversation-list page of the users.
func (s *Service) invalidateLists(userIDs []uint) {
	namespaces := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		namespaces = append(namespaces, conversationsNamespace(id))
	}
	s.cache.Invalidate(namespaces...)
}

// invalidateConversation drops every cached message page of the
// conversation and the conversation lists of its participants.
func (s *Service) invalidateConversation(conversationID uint, participantIDs []uint) {
	s.cache.Invalidate(messagesNamespace(conversationID))
	s.invalidateLists(participantIDs)
}
