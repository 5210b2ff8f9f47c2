package handlers

import (
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/pliu/parley/internal/middleware"
	"github.com/pliu/parley/internal/ws"
)

type Routes struct {
	Auth    *AuthHandler
	Chat    *ChatHandler
	Health  *HealthHandler
	Files   *FilesHandler
	Hub     *ws.Hub
	Authn   middleware.Authenticator
	Cookies middleware.TokenSource
	Log     *logrus.Logger
}

func NewRouter(rt Routes) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(rt.Log))

	// Public endpoints
	r.HandleFunc("/health", rt.Health.Health).Methods("GET")
	r.HandleFunc("/register", rt.Auth.Register).Methods("POST")
	r.HandleFunc("/login", rt.Auth.Login).Methods("POST")

	api := r.NewRoute().Subrouter()
	api.Use(middleware.AuthMiddleware(rt.Authn, rt.Cookies, rt.Log))

	api.HandleFunc("/user", rt.Auth.CurrentUser).Methods("GET")
	api.HandleFunc("/logout", rt.Auth.Logout).Methods("POST")
	api.HandleFunc("/users/search", rt.Auth.SearchUsers).Methods("GET")
	api.HandleFunc("/device/register-token", rt.Auth.RegisterDevice).Methods("POST")
	api.HandleFunc("/device/remove-token", rt.Auth.RemoveDevice).Methods("POST")

	api.HandleFunc("/conversations", rt.Chat.ListConversations).Methods("GET")
	api.HandleFunc("/conversations", rt.Chat.CreateConversation).Methods("POST")
	api.HandleFunc("/conversations/{id}", rt.Chat.GetConversation).Methods("GET")
	api.HandleFunc("/conversations/{id}", rt.Chat.UpdateConversation).Methods("PUT", "PATCH")
	api.HandleFunc("/conversations/{id}", rt.Chat.DeleteConversation).Methods("DELETE")
	api.HandleFunc("/conversations/{id}/messages", rt.Chat.ConversationMessages).Methods("GET")
	api.HandleFunc("/conversations/{id}/read", rt.Chat.MarkRead).Methods("POST")
	api.HandleFunc("/conversations/{id}/unread", rt.Chat.UnreadCount).Methods("GET")
	api.HandleFunc("/conversations/{id}/read-receipt", rt.Chat.ReadReceipt).Methods("GET")
	api.HandleFunc("/conversations/{id}/read-cursors", rt.Chat.ReadCursors).Methods("GET")

	api.HandleFunc("/messages", rt.Chat.ListMessages).Methods("GET")
	api.HandleFunc("/messages", rt.Chat.SendMessage).Methods("POST")
	api.HandleFunc("/messages/{id}", rt.Chat.GetMessage).Methods("GET")
	api.HandleFunc("/messages/{id}", rt.Chat.EditMessage).Methods("PUT", "PATCH")
	api.HandleFunc("/messages/{id}", rt.Chat.DeleteMessage).Methods("DELETE")
	api.HandleFunc("/messages/{id}/voice", rt.Chat.UploadVoice).Methods("POST")

	api.HandleFunc("/batch/fetch", rt.Chat.Batch).Methods("POST")

	if rt.Files != nil {
		api.HandleFunc("/storage/voice_notes/{name}", rt.Files.VoiceNote).Methods("GET")
	}

	// WebSocket Endpoint
	api.HandleFunc("/ws", Websocket(rt.Hub)).Methods("GET")

	return r
}
