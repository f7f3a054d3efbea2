package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/npezzotti/galchat/internal/database"
	"github.com/npezzotti/galchat/internal/types"
	"github.com/teris-io/shortid"
)

const maxRoomIdLength = 50

// Registry owns room lifecycle and membership. Mutations of one room are
// serialized; different rooms proceed in parallel.
type Registry struct {
	log             *log.Logger
	db              database.Repository
	locks           *roomLocks
	generateShortId func() (string, error)
}

func New(logger *log.Logger, db database.Repository) *Registry {
	return &Registry{
		log:             logger,
		db:              db,
		locks:           newRoomLocks(),
		generateShortId: shortid.Generate,
	}
}

// Create registers a room. An empty id gets a generated one.
func (r *Registry) Create(ctx context.Context, id, name string) (database.Room, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		sid, err := r.generateShortId()
		if err != nil {
			return database.Room{}, fmt.Errorf("generate room id: %w", err)
		}
		id = sid
	}

	if len(id) > maxRoomIdLength {
		return database.Room{}, fmt.Errorf("room id longer than %d: %w", maxRoomIdLength, types.ErrInvalidContent)
	}

	if name == "" {
		name = id
	}

	unlock := r.locks.lock(id)
	defer unlock()

	room, err := r.db.CreateRoom(ctx, database.CreateRoomParams{Id: id, Name: name})
	if err != nil {
		return database.Room{}, err
	}

	r.log.Printf("created room %q", room.Id)
	return room, nil
}

func (r *Registry) Check(ctx context.Context, id string) (database.Room, error) {
	return r.db.GetRoom(ctx, id)
}

// Join makes the user a member of the room. Joining twice is a no-op.
func (r *Registry) Join(ctx context.Context, userId, roomId string) (database.Membership, error) {
	unlock := r.locks.lock(roomId)
	defer unlock()

	return r.db.JoinRoom(ctx, userId, roomId)
}

// Leave removes the membership and reports whether the room was deleted
// because it had no members left.
func (r *Registry) Leave(ctx context.Context, userId, roomId string) (bool, error) {
	unlock := r.locks.lock(roomId)
	defer unlock()

	deleted, err := r.db.LeaveRoom(ctx, userId, roomId)
	if err != nil {
		return false, err
	}

	if deleted {
		r.log.Printf("room %q deleted after last member %q left", roomId, userId)
	}
	return deleted, nil
}

// UpdateNickname sets the user's nickname in a room, falling back to the
// user id when empty. A non-zero avatarId replaces the avatar.
func (r *Registry) UpdateNickname(ctx context.Context, userId, roomId, nickname string, avatarId int64) (database.Membership, error) {
	if nickname == "" {
		nickname = userId
	}

	unlock := r.locks.lock(roomId)
	defer unlock()

	return r.db.UpsertMembership(ctx, database.UpsertMembershipParams{
		UserId:   userId,
		RoomId:   roomId,
		Nickname: nickname,
		AvatarId: avatarId,
	})
}

func (r *Registry) Member(ctx context.Context, userId, roomId string) (database.Membership, error) {
	return r.db.GetMembership(ctx, userId, roomId)
}

func (r *Registry) Members(ctx context.Context, roomId string) ([]database.Membership, error) {
	if _, err := r.db.GetRoom(ctx, roomId); err != nil {
		return nil, err
	}
	return r.db.ListMemberships(ctx, roomId)
}

// Profile returns the display nickname and avatar path of a member. Users
// without a membership or a nickname are shown by their id.
func (r *Registry) Profile(ctx context.Context, userId, roomId string) (types.Member, error) {
	m, err := r.db.GetMembership(ctx, userId, roomId)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return types.Member{}, err
	}

	return ToMember(m, userId, roomId), nil
}

// ToMember renders a membership for clients.
func ToMember(m database.Membership, userId, roomId string) types.Member {
	member := types.Member{
		UserId:   userId,
		RoomId:   roomId,
		Nickname: m.Nickname,
		Avatar:   types.AvatarPath(m.AvatarDigest),
		AvatarId: m.AvatarId,
	}
	if member.Nickname == "" {
		member.Nickname = userId
	}

	return member
}
