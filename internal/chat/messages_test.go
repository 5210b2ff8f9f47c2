package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/parley/internal/apperror"
	"github.com/pliu/parley/internal/events"
	"github.com/pliu/parley/internal/models"
)

func voiceNote(name, content string) *Attachment {
	return &Attachment{Filename: name, Size: int64(len(content)), Content: strings.NewReader(content)}
}

func TestSendMessageMovesLastMessageAt(t *testing.T) {
	h := newHarness(t)
	a, b := h.user(t, "mazen"), h.user(t, "maher")
	conv := h.private(t, a, b)

	for _, body := range []string{"hi", "there"} {
		msg := h.send(t, conv.ID, a, body)
		view, err := h.svc.GetConversation(ctx, conv.ID, b.ID)
		require.NoError(t, err)
		require.NotNil(t, view.LastMessageAt)
		assert.True(t, msg.CreatedAt.Equal(*view.LastMessageAt), "last_message_at %v, message %v", view.LastMessageAt, msg.CreatedAt)
		assert.Equal(t, msg.ID, view.LatestMessage.ID)
	}
}

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(t)
	a, b := h.user(t, "mazen"), h.user(t, "maher")
	conv := h.private(t, a, b)
	blank := "  "
	body := "hi"
	one := 1

	cases := map[string]SendMessageInput{
		"no body":            {ConversationID: conv.ID},
		"blank body":         {ConversationID: conv.ID, Body: &blank},
		"unknown type":       {ConversationID: conv.ID, Body: &body, Type: "sticker"},
		"voice without file": {ConversationID: conv.ID, Body: &body, Type: "voice"},
		"no conversation":    {Body: &body},
		"voice bad format":   {ConversationID: conv.ID, VoiceNote: voiceNote("a.flac", "abc"), VoiceNoteDuration: &one},
		"voice no duration":  {ConversationID: conv.ID, VoiceNote: voiceNote("a.ogg", "abc")},
		"voice too large":    {ConversationID: conv.ID, VoiceNote: voiceNote("a.ogg", strings.Repeat("x", testMaxVoiceNote+1)), VoiceNoteDuration: &one},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.SendMessage(ctx, a.ID, in)
			assertCode(t, err, apperror.CodeInvalidArgument)
		})
	}

	page, err := h.svc.ListMessages(ctx, conv.ID, a.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	empty, err := afero.IsEmpty(h.fs, voiceNotesDir)
	if err == nil {
		assert.True(t, empty)
	}
}

func TestSendMessageToMissingConversation(t *testing.T) {
	h := newHarness(t)
	a := h.user(t, "mazen")
	body := "hi"

	_, err := h.svc.SendMessage(ctx, a.ID, SendMessageInput{ConversationID: 404, Body: &body})
	assertCode(t, err, apperror.CodeNotFound)
}

func TestSendMessagePublishesAndNotifies(t *testing.T) {
	h := newHarness(t)
	a, b := h.user(t, "mazen"), h.user(t, "maher")
	conv := h.private(t, a, b)

	msg := h.send(t, conv.ID, a, "hi")

	got := h.events.events()
	require.Len(t, got, 1)
	assert.Equal(t, events.ChannelFor(conv.ID), got[0].channel)
	assert.Equal(t, events.NameMessageSent, got[0].event)
	assert.Equal(t, a.ID, got[0].except)
	sent, ok := got[0].payload.(*models.Message)
	require.True(t, ok)
	assert.Equal(t, msg.ID, sent.ID)
	require.NotNil(t, sent.User)
	assert.Equal(t, "mazen", sent.User.Username)

	h.svc.Drain()
	require.Len(t, h.notifier.got, 1)
	assert.Equal(t, msg.ID, h.notifier.got[0].messageID)
	assert.ElementsMatch(t, []uint{a.ID, b.ID}, h.notifier.got[0].recipients)
}

func TestListMessagesIsCachedUntilWrite(t *testing.T) {
	h := newHarness(t)
	a, b := h.user(t, "mazen"), h.user(t, "maher")
	conv := h.private(t, a, b)
	first := h.send(t, conv.ID, a, "hi")

	page, err := h.svc.ListMessages(ctx, conv.ID, b.ID, 1)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)

	require.NoError(t, h.store.AppendMessage(ctx, &models.Message{
		ConversationID: conv.ID, UserID: a.ID, Body: "behind", Type: models.MessageText, CreatedAt: h.clock.now(),
	}))
	page, err = h.svc.ListMessages(ctx, conv.ID, b.ID, 1)
	require.NoError(t, err)
	assert.Len(t, page.Data, 1, "served from cache")

	latest := h.send(t, conv.ID, a, "there")
	page, err = h.svc.ListMessages(ctx, conv.ID, b.ID, 1)
	require.NoError(t, err)
	require.Len(t, page.Data, 3)
	assert.Equal(t, latest.ID, page.Data[0].ID)
	assert.Equal(t, first.ID, page.Data[2].ID)
	assert.Equal(t, int64(3), page.Meta.Total)
}

func TestListMessagesPaginates(t *testing.T) {
	h := newHarness(t)
	a, b := h.user(t, "mazen"), h.user(t, "maher")
	conv := h.private(t, a, b)
	for i := 0; i < MessagesPerPage+5; i++ {
		h.send(t, conv.ID, a, "m")
	}

	first, err := h.svc.ListMessages(ctx, conv.ID, b.ID, 1)
	require.NoError(t, err)
	assert.Len(t, first.Data, MessagesPerPage)
	assert.Equal(t, 2, first.Meta.LastPage)

	second, err := h.svc.ListMessages(ctx, conv.ID, b.ID, 2)
	require.NoError(t, err)
	assert.Len(t, second.Data, 5)
	assert.True(t, second.Data[0].CreatedAt.Before(first.Data[len(first.Data)-1].CreatedAt))

	// Page numbers below one mean the first page.
	zero, err := h.svc.ListMessages(ctx, conv.ID, b.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, zero.Meta.CurrentPage)
}

func TestEditMessageRoundTrip(t *testing.T) {
	h := newHarness(t)
	a, b := h.user(t, "mazen"), h.user(t, "maher")
	conv := h.private(t, a, b)
	msg := h.send(t, conv.ID, a, "helo")

	// Warm the cache so the edit has something to invalidate.
	_, err := h.svc.ListMessages(ctx, conv.ID, b.ID, 1)
	require.NoError(t, err)

	edited, err := h.svc.EditMessage(ctx, msg.ID, a.ID, "hello")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)

	page, err := h.svc.ViewMessages(ctx, conv.ID, b.ID, 1)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	got := page.Data[0]
	assert.Equal(t, "hello", got.Body)
	assert.True(t, got.IsEdited)
	require.NotNil(t, got.EditedAt)
	assert.False(t, got.EditedAt.Before(got.CreatedAt))
}

func TestEditedAtNeverPrecedesCreatedAt(t *testing.T) {
	h := newHarness(t)
	a, b := h.user(t, "mazen"), h.user(t, "maher")
	conv := h.private(t, a, b)
	msg := h.send(t, conv.ID, a, "hi")

	h.clock.set(base.Add(-24 * time.Hour))
	edited, err := h.svc.EditMessage(ctx, msg.ID, a.ID, "hey")
	require.NoError(t, err)
	require.NotNil(t, edited.EditedAt)
	assert.True(t, edited.EditedAt.Equal(msg.CreatedAt))
}

func TestEditMessageOnlyBySender(t *testing.T) {
	h := newHarness(t)
	a, b := h.user(t, "mazen"), h.user(t, "maher")
	conv := h.private(t, a, b)
	msg := h.send(t, conv.ID, a, "hi")

	_, err := h.svc.EditMessage(ctx, msg.ID, b.ID, "changed")
	assertCode(t, err, apperror.CodePermissionDenied)

	_, err = h.svc.EditMessage(ctx, msg.ID, a.ID, " ")
	assertCode(t, err, apperror.CodeInvalidArgument)

	_, err = h.svc.EditMessage(ctx, 404, a.ID, "changed")
	assertCode(t, err, apperror.CodeNotFound)
}

func TestRemoveMessageByAnyParticipant(t *testing.T) {
	h := newHarness(t)
	a, b := h.user(t, "mazen"), h.user(t, "maher")
	conv := h.private(t, a, b)
	one := h.send(t, conv.ID, a, "one")
	two := h.send(t, conv.ID, a, "two")

	require.NoError(t, h.svc.RemoveMessage(ctx, one.ID, a.ID))
	require.NoError(t, h.svc.RemoveMessage(ctx, two.ID, b.ID))

	page, err := h.svc.ListMessages(ctx, conv.ID, a.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Equal(t, int64(0), h.unread(t, conv.ID, b))

	assertCode(t, h.svc.RemoveMessage(ctx, one.ID, a.ID), apperror.CodeNotFound)
}

func TestVoiceMessageLifecycle(t *testing.T) {
	h := newHarness(t)
	phone := "+201000000000"
	a := &models.User{Name: "Mazen", Username: "mazen", Password: "hash", Phone: &phone}
	require.NoError(t, h.store.CreateUser(ctx, a))
	b := h.user(t, "maher")
	conv := h.private(t, a, b)
	duration := 7

	msg, err := h.svc.SendMessage(ctx, a.ID, SendMessageInput{
		ConversationID:    conv.ID,
		VoiceNote:         voiceNote("Note.OGG", "ogg-bytes"),
		VoiceNoteDuration: &duration,
		Metadata:          map[string]any{"client": "android"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageVoice, msg.Type)
	assert.True(t, msg.IsVoiceNote())
	require.NotNil(t, msg.VoiceNotePath)
	assert.True(t, strings.HasPrefix(*msg.VoiceNotePath, voiceNotesDir+"/"))
	assert.True(t, strings.HasSuffix(*msg.VoiceNotePath, ".ogg"))
	assert.Equal(t, 7, *msg.VoiceNoteDuration)
	assert.Equal(t, "android", msg.Metadata["client"])
	assert.Equal(t, phone, msg.Metadata["phone"])
	assert.Equal(t, json.Number(strconv.Itoa(len("ogg-bytes"))), msg.Metadata["file_size"])

	oldPath := *msg.VoiceNotePath
	exists, err := afero.Exists(h.fs, oldPath)
	require.NoError(t, err)
	assert.True(t, exists)

	// Replacing the note removes the previous file.
	duration = 9
	replaced, err := h.svc.AttachVoiceNote(ctx, msg.ID, a.ID, voiceNote("again.webm", "webm-bytes"), &duration)
	require.NoError(t, err)
	require.NotNil(t, replaced.VoiceNotePath)
	assert.NotEqual(t, oldPath, *replaced.VoiceNotePath)
	assert.Equal(t, 9, *replaced.VoiceNoteDuration)
	assert.Equal(t, "android", replaced.Metadata["client"])
	exists, err = afero.Exists(h.fs, oldPath)
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting the message removes the file.
	require.NoError(t, h.svc.RemoveMessage(ctx, msg.ID, b.ID))
	exists, err = afero.Exists(h.fs, *replaced.VoiceNotePath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAttachVoiceNoteToTextMessage(t *testing.T) {
	h := newHarness(t)
	a, b := h.user(t, "mazen"), h.user(t, "maher")
	conv := h.private(t, a, b)
	msg := h.send(t, conv.ID, a, "listen")
	duration := 2

	_, err := h.svc.AttachVoiceNote(ctx, msg.ID, b.ID, voiceNote("a.mp3", "mp3"), &duration)
	assertCode(t, err, apperror.CodePermissionDenied)

	_, err = h.svc.AttachVoiceNote(ctx, msg.ID, a.ID, voiceNote("a.txt", "txt"), &duration)
	assertCode(t, err, apperror.CodeInvalidArgument)

	got, err := h.svc.AttachVoiceNote(ctx, msg.ID, a.ID, voiceNote("a.mp3", "mp3"), &duration)
	require.NoError(t, err)
	assert.Equal(t, models.MessageVoice, got.Type)
	assert.Equal(t, "listen", got.Body)
	assert.True(t, got.IsVoiceNote())
}

func TestStreamedVoiceNoteOverLimit(t *testing.T) {
	h := newHarness(t)
	a, b := h.user(t, "mazen"), h.user(t, "maher")
	conv := h.private(t, a, b)
	one := 1

	// The declared size is unknown, the stored bytes are checked instead.
	att := &Attachment{Filename: "a.wav", Content: strings.NewReader(strings.Repeat("x", testMaxVoiceNote+1))}
	_, err := h.svc.SendMessage(ctx, a.ID, SendMessageInput{ConversationID: conv.ID, VoiceNote: att, VoiceNoteDuration: &one})
	assertCode(t, err, apperror.CodeInvalidArgument)

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Fields, "voice_note")
}

// slowNotifier blocks until released and records the context it ran with.
type slowNotifier struct {
	release chan struct{}
	done    chan error
}

func (n *slowNotifier) NotifyMessage(ctx context.Context, _ *models.Message, _ []uint) {
	<-n.release
	n.done <- ctx.Err()
}

func TestSendDoesNotWaitForPush(t *testing.T) {
	h := newHarness(t)
	n := &slowNotifier{release: make(chan struct{}), done: make(chan error, 1)}
	h.svc.notifier = n
	a, b := h.user(t, "mazen"), h.user(t, "maher")
	conv := h.private(t, a, b)

	reqCtx, cancel := context.WithCancel(ctx)
	body := "hi"
	_, err := h.svc.SendMessage(reqCtx, a.ID, SendMessageInput{ConversationID: conv.ID, Body: &body})
	require.NoError(t, err)

	// The request is over before the push goes out.
	cancel()
	close(n.release)
	h.svc.Drain()
	assert.NoError(t, <-n.done)
}
