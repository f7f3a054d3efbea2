package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/galchat/internal/blob"
	"github.com/npezzotti/galchat/internal/imaging"
	"github.com/npezzotti/galchat/internal/registry"
	"github.com/npezzotti/galchat/internal/sanitize"
	"github.com/npezzotti/galchat/internal/server"
	"github.com/npezzotti/galchat/internal/suggest"
	"github.com/npezzotti/galchat/internal/types"
)

const (
	maxUploadSize      = 32 << 20
	maxAvatarSize      = 8 << 20
	defaultMaxMessages = 10
	maxContextMessages = 100
	unloadTimeout      = 5 * time.Second
)

type CreateRoomRequest struct {
	RoomId string `json:"room_id"`
	Name   string `json:"name"`
}

type LeaveRoomRequest struct {
	RoomId string `json:"room_id"`
}

type UpdateNicknameRequest struct {
	RoomId   string `json:"room_id"`
	Nickname string `json:"nickname"`
	AvatarId int64  `json:"avatar_id,omitempty"`
}

type GenerateRequest struct {
	Mode        int    `json:"mode"`
	InputStr    string `json:"input_str"`
	RoomId      string `json:"room_id"`
	MaxMessages int    `json:"max_messages"`
}

type GenerateResponse struct {
	Data      *suggest.Result `json:"data"`
	Timestamp string          `json:"timestamp"`
	User      string          `json:"user"`
}

type UploadResponse struct {
	FileId   int64  `json:"file_id"`
	Filename string `json:"filename"`
	Digest   string `json:"digest"`
}

type AvatarResponse struct {
	AvatarId   int64  `json:"avatar_id"`
	AvatarPath string `json:"avatar_path"`
}

func (s *GalChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GalChatApp) writeError(w http.ResponseWriter, op string, err error) {
	errResp := errorFor(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Printf("%s: %v", op, err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *GalChatApp) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := Identity(r.Context())
	if !ok {
		errResp := NewInternalServerError(errors.New("no caller identity"))
		s.writeJson(w, errResp.StatusCode, errResp)
	}
	return id, ok
}

func (s *GalChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId, name := sanitize.Text(req.RoomId), sanitize.Text(req.Name)
	// only a missing id gets a generated one
	if (strings.TrimSpace(req.RoomId) != "" && roomId == "") || (strings.TrimSpace(req.Name) != "" && name == "") {
		s.writeError(w, "create room", fmt.Errorf("room id or name has no text: %w", types.ErrInvalidContent))
		return
	}

	room, err := s.registry.Create(r.Context(), roomId, name)
	if err != nil {
		s.writeError(w, "create room", err)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Room{
		Id:        room.Id,
		Name:      room.Name,
		CreatedAt: types.FormatTimestamp(room.CreatedAt),
	})
}

func (s *GalChatApp) checkRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.registry.Check(r.Context(), r.PathValue("room_id"))
	if err != nil {
		s.writeError(w, "check room", err)
		return
	}

	s.writeJson(w, http.StatusOK, types.Room{
		Id:        room.Id,
		Name:      room.Name,
		CreatedAt: types.FormatTimestamp(room.CreatedAt),
	})
}

func (s *GalChatApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req LeaveRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	deleted, err := s.registry.Leave(r.Context(), id, req.RoomId)
	if err != nil {
		s.writeError(w, "leave room", err)
		return
	}

	if deleted {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), unloadTimeout)
		defer cancel()
		if err := s.cs.UnloadRoom(ctx, req.RoomId, true); err != nil {
			s.log.Println("unload deleted room:", err)
		}
	}

	s.writeJson(w, http.StatusOK, map[string]any{"room_deleted": deleted})
}

func (s *GalChatApp) userInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	roomId := r.URL.Query().Get("room_id")
	if roomId == "" {
		s.writeJson(w, http.StatusOK, types.Member{UserId: id, Nickname: id, Avatar: types.DefaultAvatar})
		return
	}

	member, err := s.registry.Profile(r.Context(), id, roomId)
	if err != nil {
		s.writeError(w, "user info", err)
		return
	}

	s.writeJson(w, http.StatusOK, member)
}

func (s *GalChatApp) updateNickname(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req UpdateNicknameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	m, err := s.registry.UpdateNickname(r.Context(), id, req.RoomId, sanitize.Text(req.Nickname), req.AvatarId)
	if err != nil {
		s.writeError(w, "update nickname", err)
		return
	}

	s.writeJson(w, http.StatusOK, registry.ToMember(m, id, req.RoomId))
}

// readUpload returns the contents and name of the multipart "file" field.
func readUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, "", err
		}
		return nil, "", errors.Join(types.ErrInvalidContent, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", types.ErrInvalidContent
	}

	return data, header.Filename, nil
}

func (s *GalChatApp) upload(w http.ResponseWriter, r *http.Request) {
	data, filename, err := readUpload(w, r, maxUploadSize)
	if err != nil {
		s.writeError(w, "read upload", err)
		return
	}

	b, err := s.blobs.Put(r.Context(), data)
	if err != nil {
		s.writeError(w, "store upload", err)
		return
	}

	name := sanitize.Text(filename)
	if name == "" {
		name = b.Digest[:12]
	}

	s.writeJson(w, http.StatusCreated, UploadResponse{
		FileId:   b.Id,
		Filename: name,
		Digest:   b.Digest,
	})
}

func (s *GalChatApp) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	data, _, err := readUpload(w, r, maxAvatarSize)
	if err != nil {
		s.writeError(w, "read avatar", err)
		return
	}

	png, err := imaging.Avatar(data, imaging.AvatarSize)
	if err != nil {
		s.writeError(w, "process avatar", err)
		return
	}

	b, err := s.blobs.Put(r.Context(), png)
	if err != nil {
		s.writeError(w, "store avatar", err)
		return
	}

	s.writeJson(w, http.StatusCreated, AvatarResponse{
		AvatarId:   b.Id,
		AvatarPath: types.AvatarPath(b.Digest),
	})
}

func (s *GalChatApp) getBlob(w http.ResponseWriter, r *http.Request) {
	digest := r.PathValue("digest")
	if !blob.ValidDigest(digest) {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	data, err := s.blobs.Get(r.Context(), digest)
	if err != nil {
		s.writeError(w, "get blob", err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", strconv.Quote(digest))
	w.Write(data)
}

func (s *GalChatApp) download(w http.ResponseWriter, r *http.Request) {
	messageId, err := strconv.ParseInt(r.PathValue("message_id"), 10, 64)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.db.GetMessage(r.Context(), messageId)
	if err != nil {
		s.writeError(w, "get message", err)
		return
	}
	if msg.Kind != types.MessageKindFile || msg.BlobId == 0 {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	b, data, err := s.blobs.GetById(r.Context(), msg.BlobId)
	if err != nil {
		s.writeError(w, "get file", err)
		return
	}

	filename := msg.Body
	if filename == "" {
		filename = b.Digest[:12]
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.FormatInt(int64(len(data)), 10))
	w.Write(data)
}

func (s *GalChatApp) generate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	if s.generator == nil {
		errResp := NewServiceUnavailableError(errors.New("suggestions are not configured"))
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode != 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	localUser := id
	transcript := req.InputStr
	if transcript == "" && req.RoomId != "" {
		var err error
		transcript, localUser, err = s.roomTranscript(r.Context(), id, req.RoomId, req.MaxMessages)
		if err != nil {
			s.writeError(w, "build transcript", err)
			return
		}
	}

	resp := GenerateResponse{
		Data:      &suggest.Result{Contents: []string{}},
		Timestamp: types.FormatTimestamp(time.Now()),
		User:      id,
	}

	if transcript != "" {
		result, err := s.generator.Generate(r.Context(), transcript, localUser)
		if err != nil {
			s.writeError(w, "generate", err)
			return
		}
		resp.Data = result
	}

	s.writeJson(w, http.StatusOK, resp)
}

// roomTranscript renders the latest messages of a room and returns the
// caller's nickname in that room.
func (s *GalChatApp) roomTranscript(ctx context.Context, userId, roomId string, limit int) (string, string, error) {
	if limit <= 0 {
		limit = defaultMaxMessages
	}
	limit = min(limit, maxContextMessages)

	messages, err := s.db.GetRecentMessages(ctx, roomId, limit)
	if err != nil {
		return "", "", err
	}

	members, err := s.registry.Members(ctx, roomId)
	if err != nil {
		return "", "", err
	}

	nicknames := make(map[string]string, len(members))
	for _, m := range members {
		nicknames[m.UserId] = registry.ToMember(m, m.UserId, roomId).Nickname
	}
	nickname := func(id string) string {
		if n, ok := nicknames[id]; ok {
			return n
		}
		return id
	}

	lines := make([]suggest.Line, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, suggest.Line{Nickname: nickname(msg.UserId), Text: msg.Body})
	}

	return suggest.Transcript(lines), nickname(userId), nil
}

func (s *GalChatApp) shareConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, map[string]string{"share_text": s.shareText})
}

func (s *GalChatApp) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.writeError(w, "healthz", err)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *GalChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(id, conn, s.cs, s.log)
	if err := s.cs.Join(client, r.PathValue("room_id")); err != nil {
		client.Reject(server.ErrServiceUnavailable(0))
	}
}
