package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/galchat/internal/database"
	"github.com/npezzotti/galchat/internal/types"
)

func NoErrOK(id int, data map[string]any) *types.ServerMessage {
	return &types.ServerMessage{
		BaseMessage: types.BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &types.Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int, messageId int64) *types.ServerMessage {
	return &types.ServerMessage{
		BaseMessage: types.BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &types.Response{
			ResponseCode: http.StatusAccepted,
			Data:         map[string]any{"message_id": messageId},
		},
	}
}

func errResponse(id, code int, msg string) *types.ServerMessage {
	m := &types.ServerMessage{
		BaseMessage: types.BaseMessage{
			Timestamp: Now(),
		},
		Response: &types.Response{
			ResponseCode: code,
			Error:        msg,
		},
	}

	if id > 0 {
		m.Id = id
	}
	return m
}

func ErrRoomNotFound(id int) *types.ServerMessage {
	return errResponse(id, http.StatusNotFound, "room not found")
}

func ErrInternalError(id int) *types.ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *types.ServerMessage {
	return errResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *types.ServerMessage {
	return errResponse(id, http.StatusBadRequest, "invalid message format")
}

func ErrUnknownFile(id int) *types.ServerMessage {
	return errResponse(id, http.StatusBadRequest, "unknown file")
}

// ErrFromStorage picks the response for a failed storage operation.
func ErrFromStorage(id int, err error) *types.ServerMessage {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return ErrRoomNotFound(id)
	case errors.Is(err, types.ErrStorageUnavailable):
		return ErrServiceUnavailable(id)
	default:
		return ErrInternalError(id)
	}
}

func InitMessage(room database.Room, member types.Member) *types.ServerMessage {
	return &types.ServerMessage{
		BaseMessage: types.BaseMessage{
			Timestamp: Now(),
		},
		Init: &types.Init{
			RoomId:   room.Id,
			RoomName: room.Name,
			UserId:   member.UserId,
			Nickname: member.Nickname,
			Avatar:   member.Avatar,
		},
	}
}

// ChatMessage renders a stored message with its author's current profile.
func ChatMessage(msg database.Message, author types.Member) *types.ServerMessage {
	return &types.ServerMessage{
		BaseMessage: types.BaseMessage{
			Timestamp: msg.CreatedAt.UTC(),
		},
		Message: &types.Message{
			MessageId: msg.Id,
			RoomId:    msg.RoomId,
			UserId:    msg.UserId,
			Nickname:  author.Nickname,
			Avatar:    author.Avatar,
			Text:      msg.Body,
			Kind:      msg.Kind,
			FileId:    msg.BlobId,
			Timestamp: types.FormatTimestamp(msg.CreatedAt),
		},
	}
}

func RoomDeletedNotification(roomId string) *types.ServerMessage {
	return &types.ServerMessage{
		BaseMessage: types.BaseMessage{
			Timestamp: Now(),
		},
		Notification: &types.Notification{
			RoomDeleted: &types.RoomDeleted{RoomId: roomId},
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
