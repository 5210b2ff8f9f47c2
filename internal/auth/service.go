package auth

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/pliu/parley/internal/apperror"
	"github.com/pliu/parley/internal/models"
	"github.com/pliu/parley/internal/store"
)

const tokenName = "auth-token"

type RegisterInput struct {
	Name                 string  `json:"name"`
	Username             string  `json:"username"`
	Phone                *string `json:"phone"`
	Password             string  `json:"password"`
	PasswordConfirmation string  `json:"password_confirmation"`
}

// Service handles accounts and bearer tokens.
type Service struct {
	store  store.Store
	tokens *Tokens
	policy RegistrationPolicy
	log    *logrus.Logger
	now    func() time.Time
}

func NewService(s store.Store, tokens *Tokens, policy RegistrationPolicy, log *logrus.Logger) *Service {
	return &Service{
		store:  s,
		tokens: tokens,
		policy: policy,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, string, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.TrimSpace(in.Username)

	var v apperror.Validation
	switch {
	case in.Name == "":
		v.Add("name", "The name field is required.")
	case len(in.Name) > 255:
		v.Add("name", "The name may not be greater than 255 characters.")
	}
	switch {
	case in.Username == "":
		v.Add("username", "The username field is required.")
	case len(in.Username) > 255:
		v.Add("username", "The username may not be greater than 255 characters.")
	}
	if in.Phone != nil && strings.TrimSpace(*in.Phone) == "" {
		in.Phone = nil
	}
	switch {
	case len(in.Password) < 8:
		v.Add("password", "The password must be at least 8 characters.")
	case in.Password != in.PasswordConfirmation:
		v.Add("password", "The password confirmation does not match.")
	}
	if err := v.Err(); err != nil {
		return nil, "", err
	}

	if !s.policy.Allows(in.Username) {
		return nil, "", apperror.ErrRegistrationClosed
	}

	hashed, err := HashPassword(in.Password)
	if err != nil {
		return nil, "", apperror.Internal("failed to hash password", err)
	}
	user := &models.User{Name: in.Name, Username: in.Username, Phone: in.Phone, Password: hashed}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.issue(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	s.log.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("user registered")
	return user, token, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	var v apperror.Validation
	if username == "" {
		v.Add("username", "The username field is required.")
	}
	if password == "" {
		v.Add("password", "The password field is required.")
	}
	if err := v.Err(); err != nil {
		return nil, "", err
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if apperror.Is(err, apperror.CodeNotFound) {
			return nil, "", apperror.ErrInvalidCredentials
		}
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, "", apperror.ErrInvalidCredentials
	}

	token, err := s.issue(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *Service) issue(ctx context.Context, userID uint) (string, error) {
	secret, err := s.tokens.NewSecret()
	if err != nil {
		return "", apperror.Internal("failed to generate token", err)
	}
	record := &models.AccessToken{UserID: userID, Name: tokenName, TokenHash: s.tokens.Hash(secret)}
	if err := s.store.CreateToken(ctx, record); err != nil {
		return "", err
	}
	return Format(record.ID, secret), nil
}

// Authenticate resolves a plain bearer token to its user and token ids.
func (s *Service) Authenticate(ctx context.Context, plain string) (userID, tokenID uint, err error) {
	id, secret, err := Parse(plain)
	if err != nil {
		return 0, 0, apperror.ErrInvalidToken
	}
	record, err := s.store.GetToken(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	if !s.tokens.Verify(secret, record.TokenHash) {
		return 0, 0, apperror.ErrInvalidToken
	}
	if err := s.store.TouchToken(ctx, record.ID, s.now()); err != nil {
		s.log.WithError(err).WithField("token_id", record.ID).Warn("failed to record token use")
	}
	return record.UserID, record.ID, nil
}

func (s *Service) Logout(ctx context.Context, tokenID uint) error {
	return s.store.DeleteToken(ctx, tokenID)
}

func (s *Service) CurrentUser(ctx context.Context, userID uint) (*models.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

// SearchUsers matches usernames by prefix. The caller is left out.
func (s *Service) SearchUsers(ctx context.Context, userID uint, query string) ([]models.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		var v apperror.Validation
		v.Add("q", "The q field is required.")
		return nil, v.Err()
	}
	users, err := s.store.SearchUsers(ctx, query)
	if err != nil {
		return nil, err
	}
	found := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID != userID {
			found = append(found, u)
		}
	}
	return found, nil
}

// RegisterDevice stores the push token of the user's device.
func (s *Service) RegisterDevice(ctx context.Context, userID uint, token string) error {
	token = strings.TrimSpace(token)
	var v apperror.Validation
	switch {
	case token == "":
		v.Add("fcm_token", "The fcm token field is required.")
	case len(token) > 500:
		v.Add("fcm_token", "The fcm token may not be greater than 500 characters.")
	}
	if err := v.Err(); err != nil {
		return err
	}
	if err := s.store.SetPushToken(ctx, userID, &token); err != nil {
		return err
	}
	s.log.WithField("user_id", userID).Info("push token registered")
	return nil
}

func (s *Service) RemoveDevice(ctx context.Context, userID uint) error {
	return s.store.SetPushToken(ctx, userID, nil)
}
