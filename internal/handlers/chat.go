package handlers

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pliu/parley/internal/apperror"
	"github.com/pliu/parley/internal/chat"
	"github.com/pliu/parley/internal/middleware"
)

const maxMultipartMemory = 32 << 20

type ChatHandler struct {
	Chat *chat.Service
	Log  *logrus.Logger
}

func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	page, err := h.Chat.ListConversations(r.Context(), middleware.UserID(r.Context()), pageParam(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var in chat.CreateConversationInput
	if !decodeJSON(w, r, &in) {
		return
	}

	conv, created, err := h.Chat.CreateConversation(r.Context(), middleware.UserID(r.Context()), in)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, conv)
}

func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	conv, err := h.Chat.GetConversation(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in chat.UpdateConversationInput
	if !decodeJSON(w, r, &in) {
		return
	}
	conv, err := h.Chat.UpdateConversation(r.Context(), id, middleware.UserID(r.Context()), in)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Chat.DeleteConversation(r.Context(), id, middleware.UserID(r.Context())); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	message(w, http.StatusOK, "Conversation deleted")
}

// ConversationMessages lists a page of messages and marks the conversation
// read for the caller.
func (h *ChatHandler) ConversationMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	page, err := h.Chat.ViewMessages(r.Context(), id, middleware.UserID(r.Context()), pageParam(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	readAt, err := h.Chat.MarkRead(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "read_at": readAt})
}

func (h *ChatHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	n, err := h.Chat.UnreadCount(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "unread_count": n})
}

func (h *ChatHandler) ReadReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	readAt, err := h.Chat.ReadReceipt(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "other_user_read_at": readAt})
}

func (h *ChatHandler) ReadCursors(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cursors, err := h.Chat.ReadCursors(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": cursors})
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	convID, err := strconv.ParseUint(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil || convID == 0 {
		var v apperror.Validation
		v.Add("conversation_id", "The conversation id field is required.")
		writeError(w, r, h.Log, v.Err())
		return
	}
	page, err := h.Chat.ListMessages(r.Context(), uint(convID), middleware.UserID(r.Context()), pageParam(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type sendMessageRequest struct {
	ConversationID    uint           `json:"conversation_id"`
	Type              string         `json:"type"`
	Body              *string        `json:"body"`
	Metadata          map[string]any `json:"metadata"`
	VoiceNoteDuration *int           `json:"voice_note_duration"`
}

// SendMessage accepts a JSON body, or a multipart form when a voice note is
// uploaded along with the message.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var in chat.SendMessageInput
	if isMultipart(r) {
		form, err := parseForm(r)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		in, err = sendInputFromForm(form)
		if err != nil {
			writeError(w, r, h.Log, err)
			return
		}
		att, closeFile, err := formAttachment(form, "voice_note")
		if err != nil {
			badRequest(w, "Unreadable voice note upload.")
			return
		}
		defer closeFile()
		in.VoiceNote = att
	} else {
		var req sendMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in = chat.SendMessageInput{
			ConversationID:    req.ConversationID,
			Type:              req.Type,
			Body:              req.Body,
			Metadata:          req.Metadata,
			VoiceNoteDuration: req.VoiceNoteDuration,
		}
	}

	msg, err := h.Chat.SendMessage(r.Context(), middleware.UserID(r.Context()), in)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ChatHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	msg, err := h.Chat.GetMessage(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type editMessageRequest struct {
	Body string `json:"body"`
}

func (h *ChatHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req editMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.Chat.EditMessage(r.Context(), id, middleware.UserID(r.Context()), req.Body)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Chat.RemoveMessage(r.Context(), id, middleware.UserID(r.Context())); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	message(w, http.StatusOK, "Message deleted")
}

func (h *ChatHandler) UploadVoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	form, err := parseForm(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	att, closeFile, err := formAttachment(form, "voice_note")
	if err != nil {
		badRequest(w, "Unreadable voice note upload.")
		return
	}
	defer closeFile()

	duration, err := formInt(form, "voice_note_duration")
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	msg, err := h.Chat.AttachVoiceNote(r.Context(), id, middleware.UserID(r.Context()), att, duration)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *ChatHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var in chat.BatchInput
	if !decodeJSON(w, r, &in) {
		return
	}
	result, err := h.Chat.Batch(r.Context(), middleware.UserID(r.Context()), in)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func parseForm(r *http.Request) (*multipart.Form, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, err
	}
	return r.MultipartForm, nil
}

func formValue(form *multipart.Form, key string) (string, bool) {
	vs := form.Value[key]
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func formInt(form *multipart.Form, key string) (*int, error) {
	raw, ok := formValue(form, key)
	if !ok || raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		var v apperror.Validation
		v.Add(key, "The "+strings.ReplaceAll(key, "_", " ")+" must be an integer.")
		return nil, v.Err()
	}
	return &n, nil
}

func sendInputFromForm(form *multipart.Form) (chat.SendMessageInput, error) {
	var in chat.SendMessageInput
	var v apperror.Validation

	if raw, ok := formValue(form, "conversation_id"); ok {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			v.Add("conversation_id", "The conversation id must be an integer.")
		}
		in.ConversationID = uint(id)
	}
	in.Type, _ = formValue(form, "type")
	if body, ok := formValue(form, "body"); ok {
		in.Body = &body
	}
	if raw, ok := formValue(form, "metadata"); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Metadata); err != nil {
			v.Add("metadata", "The metadata must be a JSON object.")
		}
	}
	duration, err := formInt(form, "voice_note_duration")
	if err != nil {
		return in, err
	}
	in.VoiceNoteDuration = duration
	return in, v.Err()
}

// formAttachment opens the uploaded file under key. A missing file yields a
// nil attachment.
func formAttachment(form *multipart.Form, key string) (*chat.Attachment, func(), error) {
	headers := form.File[key]
	if len(headers) == 0 {
		return nil, func() {}, nil
	}
	fh := headers[0]
	f, err := fh.Open()
	if err != nil {
		return nil, func() {}, err
	}
	return &chat.Attachment{Filename: fh.Filename, Size: fh.Size, Content: f}, func() { f.Close() }, nil
}
