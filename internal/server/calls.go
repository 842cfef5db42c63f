package server

import (
	"go.uber.org/zap"

	"github.com/chatrelay/chatrelay/internal/protocol"
)

// relayCallSignal forwards a 1:1 offer/accept/reject to the target, stamped
// with the sender. Targets without an active session are silently dropped:
// no offline notification, no retry.
func (s *Server) relayCallSignal(sess *session, env protocol.Envelope) {
	if env.To == "" {
		return
	}
	conn, ok := s.sessions.Get(env.To)
	if !ok {
		return
	}
	s.push(conn, protocol.CallSignal{
		Type: env.Type,
		To:   env.To,
		From: sess.identity,
		Mode: env.Mode,
	})
	s.metrics.recordRelay("call_signal")
}

// handleGroupCall broadcasts an invitation to every other current member.
func (s *Server) handleGroupCall(sess *session, env protocol.Envelope) {
	room := env.RoomName
	if room == "" {
		return
	}
	if !s.memberOf(sess, room) {
		return
	}

	mode := env.Mode
	if mode == "" {
		mode = "audio"
	}
	s.broadcastToGroup(room, protocol.GroupCallSignal{
		Type:     protocol.TypeGroupCall,
		RoomName: room,
		From:     sess.identity,
		Mode:     mode,
	}, sess.identity)
	s.metrics.recordRelay("group_call")
}

// handleGroupCallAccept inserts the accepter into the room roster
// (idempotently) and re-broadcasts the acceptance to the entire group,
// already-accepted members and the accepter included, so repeated accepts
// stay visible to all.
func (s *Server) handleGroupCallAccept(sess *session, env protocol.Envelope) {
	room := env.RoomName
	if room == "" {
		return
	}

	if s.rosters.Join(room, sess.identity) {
		sess.log.Info("joined call roster", zap.String("room", room), zap.String("identity", sess.identity))
	}

	s.broadcastToGroup(room, protocol.GroupCallSignal{
		Type:     protocol.TypeGroupCallAccept,
		RoomName: room,
		From:     sess.identity,
	}, "")
	s.metrics.recordRelay("group_call_accept")
}
