package auth

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/parley/internal/apperror"
	"github.com/pliu/parley/internal/store/sqlstore"
)

func newTestService(t *testing.T, policy RegistrationPolicy) *Service {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewService(st, NewTokens("test-key"), policy, log)
}

func validInput(username string) RegisterInput {
	return RegisterInput{
		Name:                 "Mazen",
		Username:             username,
		Password:             "password",
		PasswordConfirmation: "password",
	}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newTestService(t, NewRegistrationPolicy(true, nil))
	ctx := context.Background()

	user, token, err := svc.Register(ctx, validInput("mazen"))
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.NotEqual(t, "password", user.Password)

	userID, tokenID, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
	assert.NotZero(t, tokenID)

	require.NoError(t, svc.Logout(ctx, tokenID))
	_, _, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, apperror.ErrInvalidToken)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t, NewRegistrationPolicy(true, nil))

	_, _, err := svc.Register(context.Background(), RegisterInput{Password: "short", PasswordConfirmation: "short"})
	require.Error(t, err)
	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.CodeInvalidArgument, appErr.Code)
	assert.Contains(t, appErr.Fields, "name")
	assert.Contains(t, appErr.Fields, "username")
	assert.Contains(t, appErr.Fields, "password")

	in := validInput("mazen")
	in.PasswordConfirmation = "different"
	_, _, err = svc.Register(context.Background(), in)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidArgument))
}

func TestRegisterPolicy(t *testing.T) {
	svc := newTestService(t, NewRegistrationPolicy(false, []string{"mazen"}))
	ctx := context.Background()

	_, _, err := svc.Register(ctx, validInput("omar"))
	assert.ErrorIs(t, err, apperror.ErrRegistrationClosed)

	_, _, err = svc.Register(ctx, validInput("mazen"))
	assert.NoError(t, err)

	_, _, err = svc.Register(ctx, validInput("mazen"))
	assert.ErrorIs(t, err, apperror.ErrUsernameTaken)
}

func TestLogin(t *testing.T) {
	svc := newTestService(t, NewRegistrationPolicy(true, nil))
	ctx := context.Background()
	registered, _, err := svc.Register(ctx, validInput("mazen"))
	require.NoError(t, err)

	user, token, err := svc.Login(ctx, "mazen", "password")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.NotEmpty(t, token)

	_, _, err = svc.Login(ctx, "mazen", "wrong-password")
	assert.ErrorIs(t, err, apperror.ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "ghost", "password")
	assert.ErrorIs(t, err, apperror.ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "", "")
	assert.True(t, apperror.Is(err, apperror.CodeInvalidArgument))
}

func TestAuthenticateRejectsForgedSecret(t *testing.T) {
	svc := newTestService(t, NewRegistrationPolicy(true, nil))
	ctx := context.Background()
	_, token, err := svc.Register(ctx, validInput("mazen"))
	require.NoError(t, err)

	id, _, err := Parse(token)
	require.NoError(t, err)
	_, _, err = svc.Authenticate(ctx, Format(id, "forged"))
	assert.ErrorIs(t, err, apperror.ErrInvalidToken)
	_, _, err = svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, apperror.ErrInvalidToken)
}

func TestSearchUsersExcludesCaller(t *testing.T) {
	svc := newTestService(t, NewRegistrationPolicy(true, nil))
	ctx := context.Background()
	me, _, err := svc.Register(ctx, validInput("mazen"))
	require.NoError(t, err)
	_, _, err = svc.Register(ctx, validInput("maher"))
	require.NoError(t, err)
	_, _, err = svc.Register(ctx, validInput("omar"))
	require.NoError(t, err)

	users, err := svc.SearchUsers(ctx, me.ID, "ma")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "maher", users[0].Username)

	_, err = svc.SearchUsers(ctx, me.ID, " ")
	assert.True(t, apperror.Is(err, apperror.CodeInvalidArgument))
}

func TestDeviceTokens(t *testing.T) {
	svc := newTestService(t, NewRegistrationPolicy(true, nil))
	ctx := context.Background()
	user, _, err := svc.Register(ctx, validInput("mazen"))
	require.NoError(t, err)

	require.NoError(t, svc.RegisterDevice(ctx, user.ID, "device-token"))
	current, err := svc.CurrentUser(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, current.PushToken)
	assert.Equal(t, "device-token", *current.PushToken)

	require.NoError(t, svc.RemoveDevice(ctx, user.ID))
	current, err = svc.CurrentUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, current.PushToken)

	err = svc.RegisterDevice(ctx, user.ID, "")
	assert.True(t, apperror.Is(err, apperror.CodeInvalidArgument))
	err = svc.RegisterDevice(ctx, user.ID, strings.Repeat("t", 501))
	assert.True(t, apperror.Is(err, apperror.CodeInvalidArgument))
}
