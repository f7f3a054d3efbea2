package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/galchat/internal/database"
	"github.com/npezzotti/galchat/internal/types"
	"github.com/stretchr/testify/assert"
)

var (
	roomFixture = database.Room{Id: "lobby", Name: "The Lobby"}

	memberFixture = types.Member{
		UserId:   "alice",
		RoomId:   "lobby",
		Nickname: "Alice",
		Avatar:   types.DefaultAvatar,
	}
)

func TestNoErrOk(t *testing.T) {
	result := NoErrOK(1, map[string]any{"testkey": "testvalue"})

	assert.Equal(t, 1, result.Id)
	assert.Equal(t, http.StatusOK, result.Response.ResponseCode)
	assert.Equal(t, map[string]any{"testkey": "testvalue"}, result.Response.Data)
	assert.WithinDuration(t, time.Now(), result.Timestamp, time.Second)
}

func TestNoErrAccepted(t *testing.T) {
	result := NoErrAccepted(3, 42)

	assert.Equal(t, 3, result.Id)
	assert.Equal(t, http.StatusAccepted, result.Response.ResponseCode)
	assert.Equal(t, map[string]any{"message_id": int64(42)}, result.Response.Data)
}

func TestErrResponses(t *testing.T) {
	tcases := []struct {
		name string
		msg  *types.ServerMessage
		code int
		err  string
	}{
		{"room not found", ErrRoomNotFound(1), http.StatusNotFound, "room not found"},
		{"internal error", ErrInternalError(1), http.StatusInternalServerError, "internal server error"},
		{"service unavailable", ErrServiceUnavailable(1), http.StatusServiceUnavailable, "service unavailable"},
		{"invalid message", ErrInvalidMessage(1), http.StatusBadRequest, "invalid message format"},
		{"unknown file", ErrUnknownFile(1), http.StatusBadRequest, "unknown file"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, 1, tc.msg.Id)
			assert.Equal(t, tc.code, tc.msg.Response.ResponseCode)
			assert.Equal(t, tc.err, tc.msg.Response.Error)
		})
	}

	assert.Zero(t, ErrInvalidMessage(0).Id, "expected no id for unnumbered frames")
}

func TestErrFromStorage(t *testing.T) {
	tcases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", fmt.Errorf("get room: %w", types.ErrNotFound), http.StatusNotFound},
		{"unavailable", fmt.Errorf("ping: %w", types.ErrStorageUnavailable), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, ErrFromStorage(5, tc.err).Response.ResponseCode)
		})
	}
}

func TestInitMessage(t *testing.T) {
	msg := InitMessage(roomFixture, memberFixture)

	assert.Equal(t, &types.Init{
		RoomId:   "lobby",
		RoomName: "The Lobby",
		UserId:   "alice",
		Nickname: "Alice",
		Avatar:   types.DefaultAvatar,
	}, msg.Init)
}

func TestChatMessage(t *testing.T) {
	created := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	msg := ChatMessage(database.Message{
		Id:        12,
		RoomId:    "lobby",
		UserId:    "alice",
		Body:      "hello",
		Kind:      types.MessageKindText,
		CreatedAt: created,
	}, memberFixture)

	assert.Equal(t, created, msg.Timestamp)
	assert.Equal(t, &types.Message{
		MessageId: 12,
		RoomId:    "lobby",
		UserId:    "alice",
		Nickname:  "Alice",
		Avatar:    types.DefaultAvatar,
		Text:      "hello",
		Kind:      types.MessageKindText,
		Timestamp: types.FormatTimestamp(created),
	}, msg.Message)
}

func TestRoomDeletedNotification(t *testing.T) {
	msg := RoomDeletedNotification("lobby")

	assert.Nil(t, msg.Response)
	assert.Equal(t, "lobby", msg.Notification.RoomDeleted.RoomId)
}
