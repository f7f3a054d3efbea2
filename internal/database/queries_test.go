package database

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/npezzotti/galchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), SQLite, dsn)
	require.NoError(t, err, "expected sqlite store to open")
	t.Cleanup(func() { s.Close() })

	return s, dsn
}

func mustCreateRoom(t *testing.T, s *Store, id string) Room {
	t.Helper()
	room, err := s.CreateRoom(context.Background(), CreateRoomParams{Id: id, Name: id + " room"})
	require.NoError(t, err)
	return room
}

func TestRebind(t *testing.T) {
	tcases := []struct {
		name     string
		dialect  Dialect
		query    string
		expected string
	}{
		{
			name:     "sqlite unchanged",
			dialect:  SQLite,
			query:    "SELECT * FROM rooms WHERE id = ? AND name = ?",
			expected: "SELECT * FROM rooms WHERE id = ? AND name = ?",
		},
		{
			name:     "postgres numbered",
			dialect:  Postgres,
			query:    "SELECT * FROM rooms WHERE id = ? AND name = ?",
			expected: "SELECT * FROM rooms WHERE id = $1 AND name = $2",
		},
		{
			name:     "no placeholders",
			dialect:  Postgres,
			query:    "SELECT 1",
			expected: "SELECT 1",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, rebind(tc.dialect, tc.query))
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	tcases := []struct {
		name     string
		dsn      string
		expected url.Values
	}{
		{
			name: "plain path",
			dsn:  "/tmp/galchat.db",
			expected: url.Values{
				"_pragma": {"foreign_keys(1)", "busy_timeout(5000)", "journal_mode(WAL)"},
				"_txlock": {"immediate"},
			},
		},
		{
			name: "existing params kept",
			dsn:  "file:galchat.db?mode=rwc",
			expected: url.Values{
				"mode":    {"rwc"},
				"_pragma": {"foreign_keys(1)", "busy_timeout(5000)", "journal_mode(WAL)"},
				"_txlock": {"immediate"},
			},
		},
		{
			name: "caller pragmas win",
			dsn:  "file:galchat.db?_pragma=busy_timeout(100)&_txlock=deferred",
			expected: url.Values{
				"_pragma": {"busy_timeout(100)", "foreign_keys(1)", "journal_mode(WAL)"},
				"_txlock": {"deferred"},
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			dsn, err := sqliteDSN(tc.dsn)
			require.NoError(t, err)

			path, rawQuery, found := strings.Cut(dsn, "?")
			require.True(t, found)
			want, _, _ := strings.Cut(tc.dsn, "?")
			assert.Equal(t, want, path)

			query, err := url.ParseQuery(rawQuery)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, query)
		})
	}
}

func TestOpenSQLiteDSNWithParams(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "params.db") + "?mode=rwc"

	s, err := Open(ctx, SQLite, dsn)
	require.NoError(t, err)
	defer s.Close()

	var foreignKeys int
	require.NoError(t, s.conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)

	var journalMode string
	require.NoError(t, s.conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", strings.ToLower(journalMode))

	_, err = s.CreateMessage(ctx, CreateMessageParams{RoomId: "missing", UserId: "alice", Body: "x"})
	assert.Error(t, err, "expected append to an unknown room to fail")

	mustCreateRoom(t, s, "general")
	_, err = s.JoinRoom(ctx, "alice", "general")
	require.NoError(t, err)

	snap, err := s.BeginSnapshot(ctx)
	require.NoError(t, err)
	defer snap.Close()

	rows, err := snap.QueryContext(ctx, "SELECT id FROM rooms")
	require.NoError(t, err)
	rows.Close()

	_, err = s.CreateMessage(ctx, CreateMessageParams{RoomId: "general", UserId: "alice", Body: "live"})
	assert.NoError(t, err, "expected appends to proceed while a snapshot is open")
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("Postgres")
	assert.NoError(t, err)
	assert.Equal(t, Postgres, d)

	_, err = ParseDialect("mysql")
	assert.Error(t, err, "expected unknown driver to fail")
}

func TestCreateRoom(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, CreateRoomParams{Id: "general", Name: "General"})
	assert.NoError(t, err)
	assert.Equal(t, "general", room.Id)
	assert.Equal(t, "General", room.Name)

	_, err = s.CreateRoom(ctx, CreateRoomParams{Id: "general", Name: "Other"})
	assert.ErrorIs(t, err, types.ErrAlreadyExists)

	got, err := s.GetRoom(ctx, "general")
	assert.NoError(t, err)
	assert.Equal(t, "General", got.Name, "expected duplicate create not to modify the room")

	_, err = s.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestJoinRoom(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.JoinRoom(ctx, "10.0.0.1", "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	mustCreateRoom(t, s, "general")

	first, err := s.JoinRoom(ctx, "10.0.0.1", "general")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", first.UserId)
	assert.Equal(t, "general", first.RoomId)
	assert.Empty(t, first.Nickname)
	assert.Zero(t, first.AvatarId)

	second, err := s.JoinRoom(ctx, "10.0.0.1", "general")
	require.NoError(t, err)
	assert.Equal(t, first.Id, second.Id, "expected repeated join to keep one membership")

	members, err := s.ListMemberships(ctx, "general")
	assert.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestLeaveRoom(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.LeaveRoom(ctx, "alice", "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	mustCreateRoom(t, s, "general")
	_, err = s.JoinRoom(ctx, "alice", "general")
	require.NoError(t, err)
	_, err = s.JoinRoom(ctx, "bob", "general")
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, CreateMessageParams{RoomId: "general", UserId: "alice", Body: "hi"})
	require.NoError(t, err)

	deleted, err := s.LeaveRoom(ctx, "alice", "general")
	assert.NoError(t, err)
	assert.False(t, deleted, "expected room to survive while bob is a member")

	msgs, err := s.GetMessages(ctx, "general")
	assert.NoError(t, err)
	assert.Len(t, msgs, 1, "expected history to survive a non-final leave")

	deleted, err = s.LeaveRoom(ctx, "bob", "general")
	assert.NoError(t, err)
	assert.True(t, deleted, "expected last leave to delete the room")

	_, err = s.GetRoom(ctx, "general")
	assert.ErrorIs(t, err, types.ErrNotFound)

	msgs, err = s.GetMessages(ctx, "general")
	assert.NoError(t, err)
	assert.Empty(t, msgs)

	// the id is free again
	mustCreateRoom(t, s, "general")
}

func TestUpsertMembership(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	mustCreateRoom(t, s, "general")

	avatar, err := s.InsertBlob(ctx, CreateBlobParams{Digest: digestOf("a"), Location: "aa/a", Size: 1})
	require.NoError(t, err)

	m, err := s.UpsertMembership(ctx, UpsertMembershipParams{
		UserId: "alice", RoomId: "general", Nickname: "Alice", AvatarId: avatar.Id,
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", m.Nickname)
	assert.Equal(t, avatar.Id, m.AvatarId)
	assert.Equal(t, avatar.Digest, m.AvatarDigest)

	m, err = s.UpsertMembership(ctx, UpsertMembershipParams{UserId: "alice", RoomId: "general", Nickname: "Al"})
	require.NoError(t, err)
	assert.Equal(t, "Al", m.Nickname)
	assert.Equal(t, avatar.Id, m.AvatarId, "expected avatar to be kept when not given")

	_, err = s.UpsertMembership(ctx, UpsertMembershipParams{UserId: "alice", RoomId: "general", AvatarId: 999})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.UpsertMembership(ctx, UpsertMembershipParams{UserId: "alice", RoomId: "missing"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	got, err := s.GetMembership(ctx, "alice", "general")
	assert.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = s.GetMembership(ctx, "bob", "general")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMessages(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	mustCreateRoom(t, s, "general")
	mustCreateRoom(t, s, "random")
	for _, room := range []string{"general", "random"} {
		_, err := s.JoinRoom(ctx, "alice", room)
		require.NoError(t, err)
	}

	var lastId int64
	for i, room := range []string{"general", "random", "general", "general"} {
		msg, err := s.CreateMessage(ctx, CreateMessageParams{
			RoomId: room, UserId: "alice", Body: string(rune('a' + i)),
		})
		require.NoError(t, err)
		assert.Greater(t, msg.Id, lastId, "expected ids to increase across rooms")
		assert.Equal(t, types.MessageKindText, msg.Kind)
		lastId = msg.Id
	}

	msgs, err := s.GetMessages(ctx, "general")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"a", "c", "d"}, []string{msgs[0].Body, msgs[1].Body, msgs[2].Body})

	recent, err := s.GetRecentMessages(ctx, "general", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Body, "expected recent messages oldest first")
	assert.Equal(t, "d", recent[1].Body)

	got, err := s.GetMessage(ctx, msgs[1].Id)
	assert.NoError(t, err)
	assert.Equal(t, msgs[1], got)

	_, err = s.GetMessage(ctx, 12345)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.CreateMessage(ctx, CreateMessageParams{RoomId: "missing", UserId: "alice", Body: "x"})
	assert.Error(t, err, "expected append to an unknown room to fail")
}

func TestFileMessage(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	mustCreateRoom(t, s, "general")
	_, err := s.JoinRoom(ctx, "alice", "general")
	require.NoError(t, err)

	b, err := s.InsertBlob(ctx, CreateBlobParams{Digest: digestOf("f"), Location: "ff/f", Size: 10})
	require.NoError(t, err)

	msg, err := s.CreateMessage(ctx, CreateMessageParams{
		RoomId: "general", UserId: "alice", Body: "report.pdf", Kind: types.MessageKindFile, BlobId: b.Id,
	})
	require.NoError(t, err)

	got, err := s.GetMessage(ctx, msg.Id)
	assert.NoError(t, err)
	assert.Equal(t, types.MessageKindFile, got.Kind)
	assert.Equal(t, b.Id, got.BlobId)
}

func TestInsertBlob(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	first, err := s.InsertBlob(ctx, CreateBlobParams{Digest: digestOf("x"), Location: "first", Size: 3})
	require.NoError(t, err)

	second, err := s.InsertBlob(ctx, CreateBlobParams{Digest: digestOf("x"), Location: "second", Size: 3})
	require.NoError(t, err)
	assert.Equal(t, first, second, "expected insert of a known digest to return the stored blob")

	got, err := s.GetBlobById(ctx, first.Id)
	assert.NoError(t, err)
	assert.Equal(t, "first", got.Location)

	_, err = s.GetBlobByDigest(ctx, digestOf("y"))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestOpenWithReset(t *testing.T) {
	s, dsn := openTestStore(t)
	mustCreateRoom(t, s, "general")
	require.NoError(t, s.Close())

	reopened, err := Open(context.Background(), SQLite, dsn)
	require.NoError(t, err)
	_, err = reopened.GetRoom(context.Background(), "general")
	assert.NoError(t, err, "expected data to survive a plain reopen")
	require.NoError(t, reopened.Close())

	reset, err := Open(context.Background(), SQLite, dsn, WithReset())
	require.NoError(t, err)
	defer reset.Close()

	_, err = reset.GetRoom(context.Background(), "general")
	assert.ErrorIs(t, err, types.ErrNotFound, "expected reset to clear history")
}

func TestSnapshotIsolation(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	mustCreateRoom(t, s, "general")

	snap, err := s.BeginSnapshot(ctx)
	require.NoError(t, err)
	defer snap.Close()

	count := func() int {
		rows, err := snap.QueryContext(ctx, "SELECT COUNT(*) FROM rooms")
		require.NoError(t, err)
		defer rows.Close()
		require.True(t, rows.Next())
		var n int
		require.NoError(t, rows.Scan(&n))
		return n
	}

	assert.Equal(t, 1, count())
	mustCreateRoom(t, s, "random")
	assert.Equal(t, 1, count(), "expected snapshot not to observe later writes")

	assert.NoError(t, snap.Close())
	assert.NoError(t, snap.Close(), "expected second close to be a no-op")
}

func TestEnsureDatabaseSQLite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "backup")
	dsn := filepath.Join(dir, "backup.db")

	require.NoError(t, EnsureDatabase(context.Background(), SQLite, dsn))

	s, err := Open(context.Background(), SQLite, dsn)
	require.NoError(t, err, "expected store to open in the created directory")
	s.Close()
}

func TestStorageErr(t *testing.T) {
	assert.Nil(t, storageErr("op", nil))
	assert.ErrorIs(t, storageErr("op", context.DeadlineExceeded), types.ErrStorageUnavailable)
	assert.ErrorIs(t, storageErr("op", types.ErrAlreadyExists), types.ErrAlreadyExists)
}
