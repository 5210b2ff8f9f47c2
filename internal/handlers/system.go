package handlers

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/pliu/parley/internal/middleware"
	"github.com/pliu/parley/internal/ws"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	DB      Pinger
	Service string
	Log     *logrus.Logger
}

// Health always answers 200; a database that cannot be reached is
// reported as "unavailable".
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "connected"
	if err := h.DB.Ping(ctx); err != nil {
		h.Log.WithError(err).Warn("health check: database unavailable")
		status = "unavailable"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   h.Service,
		"database":  status,
	})
}

type FileOpener interface {
	Open(path string) (afero.File, error)
}

// FilesHandler serves stored attachments back to authenticated clients.
type FilesHandler struct {
	Files FileOpener
	Log   *logrus.Logger
}

func (h *FilesHandler) VoiceNote(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if name == "" || name != path.Base(name) {
		http.NotFound(w, r)
		return
	}
	f, err := h.Files.Open(path.Join("voice_notes", name))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// Websocket upgrades the request and attaches the caller to the hub.
func Websocket(hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r, middleware.UserID(r.Context()))
	}
}
