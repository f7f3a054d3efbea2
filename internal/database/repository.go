package database

import "context"

type Repository interface {
	Ping(ctx context.Context) error
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	GetRoom(ctx context.Context, id string) (Room, error)
	JoinRoom(ctx context.Context, userId, roomId string) (Membership, error)
	LeaveRoom(ctx context.Context, userId, roomId string) (bool, error)
	UpsertMembership(ctx context.Context, params UpsertMembershipParams) (Membership, error)
	GetMembership(ctx context.Context, userId, roomId string) (Membership, error)
	ListMemberships(ctx context.Context, roomId string) ([]Membership, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, id int64) (Message, error)
	GetMessages(ctx context.Context, roomId string) ([]Message, error)
	GetRecentMessages(ctx context.Context, roomId string, limit int) ([]Message, error)
	InsertBlob(ctx context.Context, params CreateBlobParams) (Blob, error)
	GetBlobByDigest(ctx context.Context, digest string) (Blob, error)
	GetBlobById(ctx context.Context, id int64) (Blob, error)
}

var _ Repository = (*Store)(nil)
