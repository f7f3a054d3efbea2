package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) GetRoom(ctx context.Context, id string) (Room, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) JoinRoom(ctx context.Context, userId, roomId string) (Membership, error) {
	args := m.Called(ctx, userId, roomId)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockRepository) LeaveRoom(ctx context.Context, userId, roomId string) (bool, error) {
	args := m.Called(ctx, userId, roomId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) UpsertMembership(ctx context.Context, params UpsertMembershipParams) (Membership, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockRepository) GetMembership(ctx context.Context, userId, roomId string) (Membership, error) {
	args := m.Called(ctx, userId, roomId)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockRepository) ListMemberships(ctx context.Context, roomId string) ([]Membership, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).([]Membership), args.Error(1)
}
func (m *MockRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessage(ctx context.Context, id int64) (Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessages(ctx context.Context, roomId string) ([]Message, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) GetRecentMessages(ctx context.Context, roomId string, limit int) ([]Message, error) {
	args := m.Called(ctx, roomId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) InsertBlob(ctx context.Context, params CreateBlobParams) (Blob, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Blob), args.Error(1)
}
func (m *MockRepository) GetBlobByDigest(ctx context.Context, digest string) (Blob, error) {
	args := m.Called(ctx, digest)
	return args.Get(0).(Blob), args.Error(1)
}
func (m *MockRepository) GetBlobById(ctx context.Context, id int64) (Blob, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Blob), args.Error(1)
}

var _ Repository = (*MockRepository)(nil)
