package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/pliu/parley/internal/auth"
	"github.com/pliu/parley/internal/cache"
	"github.com/pliu/parley/internal/chat"
	"github.com/pliu/parley/internal/push"
	"github.com/pliu/parley/internal/storage"
	"github.com/pliu/parley/internal/store/sqlstore"
	"github.com/pliu/parley/internal/ws"
)

const testSecret = "handler-test-secret"

type testServer struct {
	handler http.Handler
	store   *sqlstore.SQLStore
	auth    *auth.Service
	hub     *ws.Hub
	fs      afero.Fs
}

func newTestServer(t *testing.T, policy auth.RegistrationPolicy) *testServer {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	fs := afero.NewMemMapFs()
	disk := storage.New(fs, 1<<20, 1<<19, log)
	c := cache.New(cache.NewMemory(time.Minute, time.Minute), log)

	var chatSvc *chat.Service
	hub := ws.NewHub(func(ctx context.Context, userID uint, channel string) (bool, error) {
		return chatSvc.CanSubscribe(ctx, userID, channel)
	}, log)
	go hub.Run(ctx)

	notifier := push.NewNotifier(st, push.LogSender{Log: log}, hub, log)
	chatSvc = chat.NewService(st, c, hub, notifier, disk, chat.Config{
		ConversationsTTL:  time.Minute,
		MessagesTTL:       time.Minute,
		MaxVoiceNoteBytes: 1 << 20,
	}, log)
	t.Cleanup(chatSvc.Drain)

	authSvc := auth.NewService(st, auth.NewTokens(testSecret), policy, log)
	sessions := auth.NewSessions(testSecret, time.Hour, false)

	router := NewRouter(Routes{
		Auth:    &AuthHandler{Auth: authSvc, Sessions: sessions, Log: log},
		Chat:    &ChatHandler{Chat: chatSvc, Log: log},
		Health:  &HealthHandler{DB: st, Service: "parley", Log: log},
		Files:   &FilesHandler{Files: disk, Log: log},
		Hub:     hub,
		Authn:   authSvc,
		Cookies: sessions,
		Log:     log,
	})
	return &testServer{handler: router, store: st, auth: authSvc, hub: hub, fs: fs}
}

func openServer(t *testing.T) *testServer {
	return newTestServer(t, auth.NewRegistrationPolicy(true, nil))
}

type account struct {
	id    uint
	token string
}

// signup registers username directly through the auth service.
func (s *testServer) signup(t *testing.T, username string) account {
	t.Helper()
	user, token, err := s.auth.Register(context.Background(), auth.RegisterInput{
		Name:                 username,
		Username:             username,
		Password:             "secret123",
		PasswordConfirmation: "secret123",
	})
	require.NoError(t, err)
	return account{id: user.ID, token: token}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

// openPrivate creates a private conversation between a and b and returns its id.
func (s *testServer) openPrivate(t *testing.T, a, b account) uint {
	t.Helper()
	rr := s.do(t, "POST", "/conversations", a.token, map[string]any{"type": "private", "user_ids": []uint{b.id}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[chat.ConversationView](t, rr).ID
}

func (s *testServer) sendText(t *testing.T, from account, convID uint, body string) uint {
	t.Helper()
	rr := s.do(t, "POST", "/messages", from.token, map[string]any{"conversation_id": convID, "body": body})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[struct {
		ID uint `json:"id"`
	}](t, rr).ID
}
