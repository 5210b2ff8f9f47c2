// Package chat implements conversations, messages and read tracking on top
// of the store, with read-through caching, event publishing and push
// notifications.
package chat

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pliu/parley/internal/apperror"
	"github.com/pliu/parley/internal/cache"
	"github.com/pliu/parley/internal/events"
	"github.com/pliu/parley/internal/models"
	"github.com/pliu/parley/internal/store"
)

const (
	ConversationsPerPage = 20
	MessagesPerPage      = 50

	defaultNotifyTimeout = 30 * time.Second
)

// Storage keeps attachment files.
type Storage interface {
	Put(dir, ext string, r io.Reader) (string, error)
	Delete(path string) error
	Exists(path string) (bool, error)
}

// Notifier delivers push notifications for a new message.
type Notifier interface {
	NotifyMessage(ctx context.Context, msg *models.Message, recipientIDs []uint)
}

type Config struct {
	ConversationsTTL  time.Duration
	MessagesTTL       time.Duration
	MaxVoiceNoteBytes int64
	// NotifyTimeout bounds one background push fan-out.
	NotifyTimeout time.Duration
}

type Service struct {
	store     store.Store
	cache     *cache.Cache
	publisher events.Publisher
	notifier  Notifier
	storage   Storage
	cfg       Config
	log       *logrus.Logger
	now       func() time.Time
	pushes    sync.WaitGroup
}

// NewService wires the chat core. notifier may be nil.
func NewService(st store.Store, c *cache.Cache, publisher events.Publisher, notifier Notifier, storage Storage, cfg Config, log *logrus.Logger) *Service {
	return &Service{
		store:     st,
		cache:     c,
		publisher: publisher,
		notifier:  notifier,
		storage:   storage,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// conversationFor loads the conversation and checks that userID takes part
// in it. Every conversation- and message-scoped operation goes through here.
func (s *Service) conversationFor(ctx context.Context, conversationID, userID uint) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperror.ErrNotParticipant
	}
	return conv, nil
}

func (s *Service) requireParticipant(ctx context.Context, conversationID, userID uint) error {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.ErrNotParticipant
	}
	return nil
}

func (s *Service) publish(e events.Event) {
	if s.publisher == nil {
		return
	}
	if err := events.Dispatch(s.publisher, e); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"event":           e.Name(),
			"conversation_id": e.ConversationID(),
		}).Warn("failed to publish event")
	}
}

type Meta struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	LastPage    int   `json:"last_page"`
}

type Page[T any] struct {
	Data []T  `json:"data"`
	Meta Meta `json:"meta"`
}

func newPage[T any](data []T, page, perPage int, total int64) Page[T] {
	if data == nil {
		data = []T{}
	}
	last := int((total + int64(perPage) - 1) / int64(perPage))
	if last < 1 {
		last = 1
	}
	return Page[T]{Data: data, Meta: Meta{CurrentPage: page, PerPage: perPage, Total: total, LastPage: last}}
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}
