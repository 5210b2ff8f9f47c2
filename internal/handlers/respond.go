package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pliu/parley/internal/apperror"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Message string              `json:"message"`
	Code    apperror.Code       `json:"code"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(code apperror.Code) int {
	switch code {
	case apperror.CodeInvalidArgument:
		return http.StatusUnprocessableEntity
	case apperror.CodeNotFound:
		return http.StatusNotFound
	case apperror.CodeAlreadyExists, apperror.CodeFailedPrecondition:
		return http.StatusConflict
	case apperror.CodePermissionDenied:
		return http.StatusForbidden
	case apperror.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperror.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error onto an HTTP status. Server-side failures
// are logged with their cause and reported without it.
func writeError(w http.ResponseWriter, r *http.Request, log *logrus.Logger, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		appErr = &apperror.Error{Code: apperror.CodeInternal, Message: "internal server error", Cause: err}
	}
	status := statusFor(appErr.Code)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	writeJSON(w, status, errorBody{Message: appErr.Message, Code: appErr.Code, Errors: appErr.Fields})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Message: msg, Code: apperror.CodeInvalidArgument})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "Malformed JSON body.")
		return false
	}
	return true
}

// pathID parses the {id} route variable; it writes a 404 when it is not a
// positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Message: "Not found.", Code: apperror.CodeNotFound})
		return 0, false
	}
	return uint(id), true
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func message(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
