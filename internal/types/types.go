package types

import (
	"time"
)

// TimestampLayout is the layout used for every timestamp shown to clients.
const TimestampLayout = "2006-01-02 15:04:05"

// DefaultAvatar is shown for members that never uploaded an avatar.
const DefaultAvatar = "/resources/uploads/avatars/default.ico"

const (
	MessageKindText = "text"
	MessageKindFile = "file"
)

func FormatTimestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

// AvatarPath returns the path an avatar blob is served from.
func AvatarPath(digest string) string {
	if digest == "" {
		return DefaultAvatar
	}
	return "/api/blobs/" + digest
}

type Room struct {
	Id        string `json:"room_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

type Member struct {
	UserId   string `json:"user"`
	RoomId   string `json:"room_id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	AvatarId int64  `json:"avatar_id,omitempty"`
}

type Message struct {
	MessageId int64  `json:"message_id"`
	RoomId    string `json:"room_id"`
	UserId    string `json:"user"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
	Text      string `json:"text"`
	Kind      string `json:"message_type"`
	FileId    int64  `json:"file_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

type Blob struct {
	Id     int64  `json:"id"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}
