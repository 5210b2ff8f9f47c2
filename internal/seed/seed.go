// Package seed creates the configured accounts at startup.
package seed

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pliu/parley/internal/apperror"
	"github.com/pliu/parley/internal/auth"
	"github.com/pliu/parley/internal/chat"
	"github.com/pliu/parley/internal/config"
	"github.com/pliu/parley/internal/models"
)

type Users interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

type Conversations interface {
	CreateConversation(ctx context.Context, creatorID uint, in chat.CreateConversationInput) (chat.ConversationView, bool, error)
}

// Run makes sure every configured user exists. Existing accounts are left
// untouched. With cfg.DefaultConversation set, the first two users share a
// private conversation.
func Run(ctx context.Context, users Users, convs Conversations, cfg config.Seed, log *logrus.Logger) error {
	seeded := make([]*models.User, 0, len(cfg.Users))
	for _, su := range cfg.Users {
		u, err := ensureUser(ctx, users, su, log)
		if err != nil {
			return errors.Wrapf(err, "seed user %q", su.Username)
		}
		seeded = append(seeded, u)
	}

	if !cfg.DefaultConversation || len(seeded) < 2 {
		return nil
	}
	conv, created, err := convs.CreateConversation(ctx, seeded[0].ID, chat.CreateConversationInput{
		Type:    string(models.ConversationPrivate),
		UserIDs: []uint{seeded[1].ID},
	})
	if err != nil {
		return errors.Wrap(err, "seed default conversation")
	}
	if created {
		log.WithField("conversation_id", conv.ID).Info("seeded default conversation")
	}
	return nil
}

func ensureUser(ctx context.Context, users Users, su config.SeedUser, log *logrus.Logger) (*models.User, error) {
	existing, err := users.GetUserByUsername(ctx, su.Username)
	if err == nil {
		return existing, nil
	}
	if !apperror.Is(err, apperror.CodeNotFound) {
		return nil, err
	}

	if su.Username == "" || su.Password == "" {
		return nil, errors.New("username and password are required")
	}
	hashed, err := auth.HashPassword(su.Password)
	if err != nil {
		return nil, err
	}
	name := su.Name
	if name == "" {
		name = su.Username
	}
	u := &models.User{Name: name, Username: su.Username, Password: hashed}
	if err := users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	log.WithField("username", u.Username).Info("seeded user")
	return u, nil
}
