package server

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chatrelay/chatrelay/internal/protocol"
)

// Message log kinds.
const (
	kindText  = "text"
	kindFile  = "file"
	kindVoice = "voice"
)

// handlePrivate persists the message regardless of recipient connectivity,
// then forwards the plaintext live if the receiver has an active session.
// There is no queued push on reconnect; offline recipients see the message
// only through an explicit history fetch.
func (s *Server) handlePrivate(sess *session, env protocol.Envelope) {
	if env.To == "" || env.Content == "" {
		return
	}

	if err := s.store.AppendMessage(sess.identity, env.To, env.Content, kindText, time.Now()); err != nil {
		sess.log.Error("persist private message", zap.Error(err))
		return
	}

	if conn, ok := s.sessions.Get(env.To); ok {
		s.push(conn, protocol.PrivateMessage{
			Type:    protocol.TypePrivate,
			From:    sess.identity,
			Content: env.Content,
		})
		s.metrics.recordRelay("private_text")
	}
}

// handleFile persists only the file metadata; the raw content is forwarded
// live or not at all.
func (s *Server) handleFile(sess *session, env protocol.Envelope) {
	if env.To == "" || env.Filename == "" || env.Content == "" {
		return
	}

	meta := fmt.Sprintf("FILE:%s", env.Filename)
	if err := s.store.AppendMessage(sess.identity, env.To, meta, kindFile, time.Now()); err != nil {
		sess.log.Error("persist file metadata", zap.Error(err))
		return
	}

	if conn, ok := s.sessions.Get(env.To); ok {
		s.push(conn, protocol.FileMessage{
			Type:     protocol.TypeFile,
			From:     sess.identity,
			Filename: env.Filename,
			Content:  env.Content,
		})
		s.metrics.recordRelay("private_file")
	}
}

// handleVoice mirrors the file path for voice notes: duration metadata is
// persisted, the audio payload is forwarded live only.
func (s *Server) handleVoice(sess *session, env protocol.Envelope) {
	if env.To == "" || env.Content == "" {
		return
	}

	meta := fmt.Sprintf("VOICE:%g", env.Duration)
	if err := s.store.AppendMessage(sess.identity, env.To, meta, kindVoice, time.Now()); err != nil {
		sess.log.Error("persist voice metadata", zap.Error(err))
		return
	}

	if conn, ok := s.sessions.Get(env.To); ok {
		s.push(conn, protocol.VoiceMessage{
			Type:     protocol.TypeVoiceMsg,
			From:     sess.identity,
			Content:  env.Content,
			Duration: env.Duration,
		})
		s.metrics.recordRelay("private_voice")
	}
}

func (s *Server) handleHistory(sess *session, env protocol.Envelope) {
	if env.With == "" {
		return
	}

	records, err := s.store.History(sess.identity, env.With, historyLimit)
	if err != nil {
		sess.log.Error("fetch history", zap.Error(err))
		return
	}

	data := make([]protocol.HistoryEntry, 0, len(records))
	for _, r := range records {
		data = append(data, protocol.HistoryEntry{Sender: r.Sender, Content: r.Content, Kind: r.Kind})
	}
	s.push(sess, protocol.History{Type: protocol.TypeHistoryPush, With: env.With, Data: data})
}

// Group traffic is broadcast to every other current member with an active
// session and is not written to the message log.

func (s *Server) handleGroupMessage(sess *session, env protocol.Envelope) {
	if env.RoomName == "" || env.Content == "" {
		return
	}
	if !s.memberOf(sess, env.RoomName) {
		return
	}

	s.broadcastToGroup(env.RoomName, protocol.GroupMessage{
		Type:     protocol.TypeGroupMsg,
		RoomName: env.RoomName,
		From:     sess.identity,
		Content:  env.Content,
	}, sess.identity)
	s.metrics.recordRelay("group_text")
}

func (s *Server) handleGroupFile(sess *session, env protocol.Envelope) {
	if env.RoomName == "" || env.Filename == "" || env.Content == "" {
		return
	}
	if !s.memberOf(sess, env.RoomName) {
		return
	}

	s.broadcastToGroup(env.RoomName, protocol.GroupFileMessage{
		Type:     protocol.TypeGroupFile,
		RoomName: env.RoomName,
		From:     sess.identity,
		Filename: env.Filename,
		Content:  env.Content,
	}, sess.identity)
	s.metrics.recordRelay("group_file")
}

func (s *Server) handleGroupVoice(sess *session, env protocol.Envelope) {
	if env.RoomName == "" || env.Content == "" {
		return
	}
	if !s.memberOf(sess, env.RoomName) {
		return
	}

	s.broadcastToGroup(env.RoomName, protocol.GroupVoiceMessage{
		Type:     protocol.TypeGroupVoiceMsg,
		RoomName: env.RoomName,
		From:     sess.identity,
		Content:  env.Content,
		Duration: env.Duration,
	}, sess.identity)
	s.metrics.recordRelay("group_voice")
}

func (s *Server) memberOf(sess *session, room string) bool {
	ok, err := s.store.IsMember(sess.identity, room)
	if err != nil {
		sess.log.Error("membership check", zap.Error(err), zap.String("room", room))
		return false
	}
	return ok
}
