package auth

import (
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	SessionName = "auth_token"
	tokenKey    = "token"
)

// Sessions keeps the bearer token in a signed cookie so browser clients
// stay logged in without handling the token themselves.
type Sessions struct {
	store *sessions.CookieStore
}

func NewSessions(secretKey string, maxAge time.Duration, secure bool) *Sessions {
	store := sessions.NewCookieStore([]byte(secretKey))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Sessions{store: store}
}

func (s *Sessions) Save(w http.ResponseWriter, r *http.Request, token string) error {
	session, _ := s.store.Get(r, SessionName)
	session.Values[tokenKey] = token
	return session.Save(r, w)
}

// Token returns the token stored in the request's cookie, if any.
func (s *Sessions) Token(r *http.Request) (string, bool) {
	session, err := s.store.Get(r, SessionName)
	if err != nil || session.IsNew {
		return "", false
	}
	token, ok := session.Values[tokenKey].(string)
	return token, ok && token != ""
}

func (s *Sessions) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.store.Get(r, SessionName)
	session.Options.MaxAge = -1
	delete(session.Values, tokenKey)
	return session.Save(r, w)
}
