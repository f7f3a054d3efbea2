package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/npezzotti/galchat/internal/types"
)

const (
	membershipColumns = "m.id, m.user_id, m.room_id, m.nickname, m.avatar_id, b.digest"
	membershipFrom    = "FROM memberships m LEFT JOIN blobs b ON b.id = m.avatar_id"
	messageColumns    = "id, room_id, user_id, body, kind, blob_id, created_at"
	blobColumns       = "id, digest, location, size, created_at"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

func (s *Store) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	room := Room{
		Id:        params.Id,
		Name:      params.Name,
		CreatedAt: time.Unix(time.Now().Unix(), 0),
	}

	res, err := s.conn.ExecContext(ctx,
		s.Rebind("INSERT INTO rooms (id, name, created_at) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING"),
		room.Id, room.Name, room.CreatedAt.Unix(),
	)
	if err != nil {
		return Room{}, storageErr("create room", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Room{}, storageErr("create room", err)
	}
	if n == 0 {
		return Room{}, fmt.Errorf("create room %q: %w", room.Id, types.ErrAlreadyExists)
	}

	return room, nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (Room, error) {
	room, err := s.getRoom(ctx, s.conn, id)
	return room, storageErr("get room", err)
}

func (s *Store) getRoom(ctx context.Context, q queryer, id string) (Room, error) {
	var (
		room      Room
		createdAt int64
	)
	err := q.QueryRowContext(ctx,
		s.Rebind("SELECT id, name, created_at FROM rooms WHERE id = ?"),
		id,
	).Scan(&room.Id, &room.Name, &createdAt)
	room.CreatedAt = time.Unix(createdAt, 0)

	return room, err
}

// JoinRoom records the user, refreshes its last seen time and ensures a
// membership exists. Repeated joins are idempotent.
func (s *Store) JoinRoom(ctx context.Context, userId, roomId string) (Membership, error) {
	var m Membership
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getRoom(ctx, tx, roomId); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			s.Rebind("INSERT INTO users (id, last_seen) VALUES (?, ?) "+
				"ON CONFLICT (id) DO UPDATE SET last_seen = excluded.last_seen"),
			userId, time.Now().Unix(),
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			s.Rebind("INSERT INTO memberships (user_id, room_id) VALUES (?, ?) "+
				"ON CONFLICT (user_id, room_id) DO NOTHING"),
			userId, roomId,
		); err != nil {
			return err
		}

		var err error
		m, err = s.getMembership(ctx, tx, userId, roomId)
		return err
	})

	return m, storageErr("join room", err)
}

// LeaveRoom removes the membership. When it was the last one the room and its
// messages are deleted in the same transaction and true is returned.
func (s *Store) LeaveRoom(ctx context.Context, userId, roomId string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getRoom(ctx, tx, roomId); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			s.Rebind("DELETE FROM memberships WHERE user_id = ? AND room_id = ?"),
			userId, roomId,
		); err != nil {
			return err
		}

		var remaining int
		if err := tx.QueryRowContext(ctx,
			s.Rebind("SELECT COUNT(*) FROM memberships WHERE room_id = ?"),
			roomId,
		).Scan(&remaining); err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, s.Rebind("DELETE FROM messages WHERE room_id = ?"), roomId); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.Rebind("DELETE FROM rooms WHERE id = ?"), roomId); err != nil {
			return err
		}

		deleted = true
		return nil
	})
	if err != nil {
		return false, storageErr("leave room", err)
	}

	return deleted, nil
}

// UpsertMembership sets the nickname and, when AvatarId is non-zero, the
// avatar of a user in a room. An unset AvatarId keeps the current avatar.
func (s *Store) UpsertMembership(ctx context.Context, params UpsertMembershipParams) (Membership, error) {
	var m Membership
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getRoom(ctx, tx, params.RoomId); err != nil {
			return err
		}

		if params.AvatarId != 0 {
			if _, err := s.getBlob(ctx, tx, "id", params.AvatarId); err != nil {
				return fmt.Errorf("avatar %d: %w", params.AvatarId, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			s.Rebind("INSERT INTO users (id, last_seen) VALUES (?, ?) ON CONFLICT (id) DO NOTHING"),
			params.UserId, time.Now().Unix(),
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			s.Rebind("INSERT INTO memberships (user_id, room_id, nickname, avatar_id) VALUES (?, ?, ?, ?) "+
				"ON CONFLICT (user_id, room_id) DO UPDATE SET nickname = excluded.nickname, "+
				"avatar_id = COALESCE(excluded.avatar_id, memberships.avatar_id)"),
			params.UserId, params.RoomId, nullString(params.Nickname), nullInt(params.AvatarId),
		); err != nil {
			return err
		}

		var err error
		m, err = s.getMembership(ctx, tx, params.UserId, params.RoomId)
		return err
	})

	return m, storageErr("upsert membership", err)
}

func (s *Store) GetMembership(ctx context.Context, userId, roomId string) (Membership, error) {
	m, err := s.getMembership(ctx, s.conn, userId, roomId)
	return m, storageErr("get membership", err)
}

func (s *Store) getMembership(ctx context.Context, q queryer, userId, roomId string) (Membership, error) {
	row := q.QueryRowContext(ctx,
		s.Rebind("SELECT "+membershipColumns+" "+membershipFrom+" WHERE m.user_id = ? AND m.room_id = ?"),
		userId, roomId,
	)
	return scanMembership(row)
}

func (s *Store) ListMemberships(ctx context.Context, roomId string) ([]Membership, error) {
	rows, err := s.conn.QueryContext(ctx,
		s.Rebind("SELECT "+membershipColumns+" "+membershipFrom+" WHERE m.room_id = ? ORDER BY m.id"),
		roomId,
	)
	if err != nil {
		return nil, storageErr("list memberships", err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, storageErr("list memberships", err)
		}
		members = append(members, m)
	}

	return members, storageErr("list memberships", rows.Err())
}

func scanMembership(row scanner) (Membership, error) {
	var (
		m        Membership
		nickname sql.NullString
		avatarId sql.NullInt64
		digest   sql.NullString
	)
	if err := row.Scan(&m.Id, &m.UserId, &m.RoomId, &nickname, &avatarId, &digest); err != nil {
		return Membership{}, err
	}
	m.Nickname = nickname.String
	m.AvatarId = avatarId.Int64
	m.AvatarDigest = digest.String

	return m, nil
}

// CreateMessage appends a message to the room's log. The returned id is
// unique across all rooms and never reused.
func (s *Store) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	msg := Message{
		RoomId:    params.RoomId,
		UserId:    params.UserId,
		Body:      params.Body,
		Kind:      params.Kind,
		BlobId:    params.BlobId,
		CreatedAt: time.Unix(time.Now().Unix(), 0),
	}
	if msg.Kind == "" {
		msg.Kind = types.MessageKindText
	}

	err := s.conn.QueryRowContext(ctx,
		s.Rebind("INSERT INTO messages (room_id, user_id, body, kind, blob_id, created_at) "+
			"VALUES (?, ?, ?, ?, ?, ?) RETURNING id"),
		msg.RoomId, msg.UserId, msg.Body, msg.Kind, nullInt(msg.BlobId), msg.CreatedAt.Unix(),
	).Scan(&msg.Id)
	if err != nil {
		return Message{}, storageErr("create message", err)
	}

	return msg, nil
}

func (s *Store) GetMessage(ctx context.Context, id int64) (Message, error) {
	row := s.conn.QueryRowContext(ctx,
		s.Rebind("SELECT "+messageColumns+" FROM messages WHERE id = ?"),
		id,
	)
	msg, err := scanMessage(row)
	return msg, storageErr("get message", err)
}

// GetMessages returns the full log of a room in append order.
func (s *Store) GetMessages(ctx context.Context, roomId string) ([]Message, error) {
	rows, err := s.conn.QueryContext(ctx,
		s.Rebind("SELECT "+messageColumns+" FROM messages WHERE room_id = ? ORDER BY id"),
		roomId,
	)
	if err != nil {
		return nil, storageErr("get messages", err)
	}

	msgs, err := scanMessages(rows)
	return msgs, storageErr("get messages", err)
}

// GetRecentMessages returns at most limit of the latest messages of a room,
// oldest first.
func (s *Store) GetRecentMessages(ctx context.Context, roomId string, limit int) ([]Message, error) {
	rows, err := s.conn.QueryContext(ctx,
		s.Rebind("SELECT "+messageColumns+" FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT ?"),
		roomId, limit,
	)
	if err != nil {
		return nil, storageErr("get recent messages", err)
	}

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, storageErr("get recent messages", err)
	}
	slices.Reverse(msgs)

	return msgs, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}

func scanMessage(row scanner) (Message, error) {
	var (
		msg       Message
		blobId    sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&msg.Id, &msg.RoomId, &msg.UserId, &msg.Body, &msg.Kind, &blobId, &createdAt); err != nil {
		return Message{}, err
	}
	msg.BlobId = blobId.Int64
	msg.CreatedAt = time.Unix(createdAt, 0)

	return msg, nil
}

// InsertBlob records a blob unless one with the same digest exists, and
// returns the stored record either way.
func (s *Store) InsertBlob(ctx context.Context, params CreateBlobParams) (Blob, error) {
	if _, err := s.conn.ExecContext(ctx,
		s.Rebind("INSERT INTO blobs (digest, location, size, created_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT (digest) DO NOTHING"),
		params.Digest, params.Location, params.Size, time.Now().Unix(),
	); err != nil {
		return Blob{}, storageErr("insert blob", err)
	}

	b, err := s.getBlob(ctx, s.conn, "digest", params.Digest)
	return b, storageErr("insert blob", err)
}

func (s *Store) GetBlobByDigest(ctx context.Context, digest string) (Blob, error) {
	b, err := s.getBlob(ctx, s.conn, "digest", digest)
	return b, storageErr("get blob", err)
}

func (s *Store) GetBlobById(ctx context.Context, id int64) (Blob, error) {
	b, err := s.getBlob(ctx, s.conn, "id", id)
	return b, storageErr("get blob", err)
}

func (s *Store) getBlob(ctx context.Context, q queryer, column string, value any) (Blob, error) {
	var (
		b         Blob
		createdAt int64
	)
	err := q.QueryRowContext(ctx,
		s.Rebind("SELECT "+blobColumns+" FROM blobs WHERE "+column+" = ?"),
		value,
	).Scan(&b.Id, &b.Digest, &b.Location, &b.Size, &createdAt)
	b.CreatedAt = time.Unix(createdAt, 0)

	return b, err
}
