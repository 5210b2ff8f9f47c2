package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/parley/internal/auth"
)

func TestRegisterAndLogin(t *testing.T) {
	s := openServer(t)

	rr := s.do(t, "POST", "/register", "", map[string]string{
		"name":                  "Mazen",
		"username":              "mazen",
		"password":              "secret123",
		"password_confirmation": "secret123",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	reg := decode[struct {
		User  map[string]any `json:"user"`
		Token string         `json:"token"`
	}](t, rr)
	assert.Equal(t, "mazen", reg.User["username"])
	assert.NotContains(t, reg.User, "password")
	assert.NotEmpty(t, reg.Token)

	rr = s.do(t, "POST", "/login", "", Credentials{Username: "mazen", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, "POST", "/login", "", Credentials{Username: "mazen", Password: "secret123"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	token := decode[authResponse](t, rr).Token

	rr = s.do(t, "GET", "/user", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Mazen", decode[map[string]any](t, rr)["name"])
}

func TestRegisterValidation(t *testing.T) {
	s := openServer(t)

	rr := s.do(t, "POST", "/register", "", map[string]string{"username": "mazen", "password": "short"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body := decode[errorBody](t, rr)
	assert.Contains(t, body.Errors, "name")
	assert.Contains(t, body.Errors, "password")

	s.signup(t, "maher")
	rr = s.do(t, "POST", "/register", "", map[string]string{
		"name":                  "Other",
		"username":              "maher",
		"password":              "secret123",
		"password_confirmation": "secret123",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRegisterClosed(t *testing.T) {
	s := newTestServer(t, auth.NewRegistrationPolicy(false, []string{"mazen"}))
	payload := func(username string) map[string]string {
		return map[string]string{
			"name":                  username,
			"username":              username,
			"password":              "secret123",
			"password_confirmation": "secret123",
		}
	}

	rr := s.do(t, "POST", "/register", "", payload("eve"))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, "POST", "/register", "", payload("Mazen"))
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestMalformedJSONIsBadRequest(t *testing.T) {
	s := openServer(t)
	req := httptest.NewRequest("POST", "/login", http.NoBody)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := openServer(t)

	for _, path := range []string{"/user", "/conversations", "/messages?conversation_id=1"} {
		rr := s.do(t, "GET", path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
		assert.Equal(t, "Unauthenticated.", decode[map[string]any](t, rr)["message"], path)
	}

	rr := s.do(t, "GET", "/user", "1|not-the-secret", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSessionCookie(t *testing.T) {
	s := openServer(t)
	s.signup(t, "mazen")

	rr := s.do(t, "POST", "/login", "", Credentials{Username: "mazen", Password: "secret123"})
	require.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, auth.SessionName, cookies[0].Name)

	withCookie := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		rr := httptest.NewRecorder()
		s.handler.ServeHTTP(rr, req)
		return rr
	}

	rr = withCookie("GET", "/user")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "mazen", decode[map[string]any](t, rr)["username"])

	rr = withCookie("POST", "/logout")
	require.Equal(t, http.StatusOK, rr.Code)

	// The token behind the cookie is revoked even if the client keeps it.
	rr = withCookie("GET", "/user")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogoutRevokesOnlyCurrentToken(t *testing.T) {
	s := openServer(t)
	first := s.signup(t, "mazen")

	rr := s.do(t, "POST", "/login", "", Credentials{Username: "mazen", Password: "secret123"})
	require.Equal(t, http.StatusOK, rr.Code)
	second := decode[authResponse](t, rr).Token

	rr = s.do(t, "POST", "/logout", first.token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Logged out successfully", decode[map[string]string](t, rr)["message"])

	assert.Equal(t, http.StatusUnauthorized, s.do(t, "GET", "/user", first.token, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, "GET", "/user", second, nil).Code)
}

func TestSearchUsers(t *testing.T) {
	s := openServer(t)
	me := s.signup(t, "mazen")
	s.signup(t, "maher")
	s.signup(t, "eve")

	rr := s.do(t, "GET", "/users/search?q=ma", me.token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	users := decode[[]map[string]any](t, rr)
	require.Len(t, users, 1)
	assert.Equal(t, "maher", users[0]["username"])

	rr = s.do(t, "GET", "/users/search", me.token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]map[string]any](t, rr))
}

func TestDeviceToken(t *testing.T) {
	s := openServer(t)
	me := s.signup(t, "mazen")

	rr := s.do(t, "POST", "/device/register-token", me.token, map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = s.do(t, "POST", "/device/register-token", me.token, map[string]string{"fcm_token": "device-abc"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, rr)["success"])

	user, err := s.store.GetUserByID(t.Context(), me.id)
	require.NoError(t, err)
	require.NotNil(t, user.PushToken)
	assert.Equal(t, "device-abc", *user.PushToken)

	rr = s.do(t, "POST", "/device/remove-token", me.token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	user, err = s.store.GetUserByID(t.Context(), me.id)
	require.NoError(t, err)
	assert.Nil(t, user.PushToken)
}
