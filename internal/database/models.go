package database

import "time"

type User struct {
	Id       string
	LastSeen time.Time
}

type Room struct {
	Id        string
	Name      string
	CreatedAt time.Time
}

type Blob struct {
	Id        int64
	Digest    string
	Location  string
	Size      int64
	CreatedAt time.Time
}

// Membership links a user to a room. Nickname is empty and AvatarId is zero
// when the user never set them.
type Membership struct {
	Id           int64
	UserId       string
	RoomId       string
	Nickname     string
	AvatarId     int64
	AvatarDigest string
}

type Message struct {
	Id        int64
	RoomId    string
	UserId    string
	Body      string
	Kind      string
	BlobId    int64
	CreatedAt time.Time
}

type CreateRoomParams struct {
	Id   string
	Name string
}

type UpsertMembershipParams struct {
	UserId   string
	RoomId   string
	Nickname string
	AvatarId int64
}

type CreateMessageParams struct {
	RoomId string
	UserId string
	Body   string
	Kind   string
	BlobId int64
}

type CreateBlobParams struct {
	Digest   string
	Location string
	Size     int64
}
