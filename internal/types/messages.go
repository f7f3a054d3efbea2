package types

import "time"

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame sent by a connected client. Kind defaults to text.
type ClientMessage struct {
	BaseMessage
	Text   string `json:"text"`
	Kind   string `json:"message_type,omitempty"`
	FileId int64  `json:"file_id,omitempty"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response     `json:"response,omitempty"`
	Init         *Init         `json:"init,omitempty"`
	Message      *Message      `json:"message,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Init is the first frame a connection receives after joining a room.
type Init struct {
	RoomId   string `json:"room_id"`
	RoomName string `json:"room_name"`
	UserId   string `json:"user"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

type Notification struct {
	RoomDeleted *RoomDeleted `json:"room_deleted,omitempty"`
}

type RoomDeleted struct {
	RoomId string `json:"room_id"`
}
