package server

import (
	"go.uber.org/zap"

	"github.com/chatrelay/chatrelay/internal/protocol"
	"github.com/chatrelay/chatrelay/internal/registry"
)

// push encodes v and enqueues it on a single session.
func (s *Server) push(conn registry.Conn, v any) {
	frame, err := protocol.EncodeFrame(v)
	if err != nil {
		s.log.Error("encode push", zap.Error(err))
		return
	}
	conn.Send(frame)
}

// broadcastUserList recomputes the full online/offline view over all known
// identities and pushes it to every connected session. O(identities x
// sessions), accepted at target scale.
func (s *Server) broadcastUserList() {
	usernames, err := s.store.Usernames()
	if err != nil {
		s.log.Error("list users", zap.Error(err))
		return
	}

	users := make([]protocol.UserStatus, 0, len(usernames))
	for _, u := range usernames {
		status := "offline"
		if s.sessions.Online(u) {
			status = "online"
		}
		users = append(users, protocol.UserStatus{Username: u, Status: status})
	}

	frame, err := protocol.EncodeFrame(protocol.UserList{Type: protocol.TypeUserList, Users: users})
	if err != nil {
		s.log.Error("encode user list", zap.Error(err))
		return
	}
	for _, conn := range s.sessions.Snapshot() {
		conn.Send(frame)
	}
}

// sendGroupLists pushes the global directory and the personalized membership
// listing (with creator annotation) to one session.
func (s *Server) sendGroupLists(conn registry.Conn, username string) {
	names, err := s.store.GroupNames()
	if err != nil {
		s.log.Error("list groups", zap.Error(err))
		return
	}
	mine, err := s.store.GroupsFor(username)
	if err != nil {
		s.log.Error("personal groups", zap.Error(err), zap.String("username", username))
		return
	}

	groups := make([]protocol.GroupInfo, 0, len(mine))
	for _, g := range mine {
		groups = append(groups, protocol.GroupInfo{Name: g.Name, Creator: g.Creator})
	}
	if names == nil {
		names = []string{}
	}

	s.push(conn, protocol.AllGroupsList{Type: protocol.TypeAllGroupsList, Groups: names})
	s.push(conn, protocol.MyGroupsList{Type: protocol.TypeMyGroupsList, Groups: groups})
}

// broadcastGroupsUpdate pushes the full group directory to every connected
// session.
func (s *Server) broadcastGroupsUpdate() {
	names, err := s.store.GroupNames()
	if err != nil {
		s.log.Error("list groups", zap.Error(err))
		return
	}
	if names == nil {
		names = []string{}
	}
	frame, err := protocol.EncodeFrame(protocol.AllGroupsList{Type: protocol.TypeAllGroupsList, Groups: names})
	if err != nil {
		s.log.Error("encode group directory", zap.Error(err))
		return
	}
	for _, conn := range s.sessions.Snapshot() {
		conn.Send(frame)
	}
}

// broadcastToGroup delivers v to every current member of the group with an
// active session, except exclude (empty string excludes nobody). Membership
// is read as one consistent snapshot before any delivery.
func (s *Server) broadcastToGroup(room string, v any, exclude string) {
	members, err := s.store.Members(room)
	if err != nil {
		return
	}
	frame, err := protocol.EncodeFrame(v)
	if err != nil {
		s.log.Error("encode group broadcast", zap.Error(err))
		return
	}
	for _, member := range members {
		if member == exclude {
			continue
		}
		if conn, ok := s.sessions.Get(member); ok {
			conn.Send(frame)
		}
	}
}
