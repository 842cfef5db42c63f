package server

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chatrelay/chatrelay/internal/protocol"
	"github.com/chatrelay/chatrelay/internal/seal"
	"github.com/chatrelay/chatrelay/internal/store"
)

func (s *Server) handleGroupCreate(sess *session, env protocol.Envelope) {
	name, pin := env.RoomName, env.Pin
	if name == "" || pin == "" {
		s.notice(sess, "Invalid group data")
		return
	}

	pinHash, err := seal.HashSecret(pin)
	if err != nil {
		sess.log.Error("hash pin", zap.Error(err))
		s.notice(sess, "Invalid group data")
		return
	}

	if err := s.store.CreateGroup(name, pinHash, sess.identity, time.Now()); err != nil {
		if errors.Is(err, store.ErrGroupExists) {
			s.notice(sess, "Group already exists")
			return
		}
		sess.log.Error("create group", zap.Error(err))
		s.notice(sess, "Invalid group data")
		return
	}

	sess.log.Info("group created", zap.String("room", name), zap.String("creator", sess.identity))
	s.notice(sess, fmt.Sprintf("Group '%s' created", name))
	s.broadcastGroupsUpdate()
	s.sendGroupLists(sess, sess.identity)
}

func (s *Server) handleGroupJoin(sess *session, env protocol.Envelope) {
	name, pin := env.RoomName, env.Pin
	if name == "" || pin == "" {
		return
	}

	err := s.joinGroup(name, pin, sess.identity)
	switch {
	case errors.Is(err, ErrGroupNotFound):
		s.notice(sess, "Group not found")
		return
	case errors.Is(err, ErrWrongPIN):
		s.notice(sess, "Incorrect PIN")
		return
	case errors.Is(err, ErrAlreadyMember):
		s.notice(sess, "Already in group")
		return
	case err != nil:
		sess.log.Error("join group", zap.Error(err))
		return
	}

	sess.log.Info("group joined", zap.String("room", name), zap.String("identity", sess.identity))
	s.notice(sess, fmt.Sprintf("Joined '%s'", name))
	s.sendGroupLists(sess, sess.identity)
	s.broadcastToGroup(name, protocol.GroupMessage{
		Type:     protocol.TypeGroupMsg,
		RoomName: name,
		From:     protocol.SystemSender,
		Content:  fmt.Sprintf("%s joined", sess.identity),
	}, "")
}

// joinGroup validates the PIN and appends identity to the membership set.
func (s *Server) joinGroup(name, pin, identity string) error {
	g, err := s.store.Group(name)
	if errors.Is(err, store.ErrUnknownGroup) {
		return ErrGroupNotFound
	}
	if err != nil {
		return err
	}
	if err := seal.VerifySecret(pin, g.PinHash); err != nil {
		return ErrWrongPIN
	}
	for _, m := range g.Members {
		if m == identity {
			return ErrAlreadyMember
		}
	}
	return s.store.SetMembers(name, append(g.Members, identity))
}

func (s *Server) handleGroupLeave(sess *session, env protocol.Envelope) {
	name := env.RoomName
	if name == "" {
		return
	}

	g, err := s.store.Group(name)
	if err != nil {
		// Unknown group: silent no-op.
		return
	}

	members := g.Members[:0:0]
	found := false
	for _, m := range g.Members {
		if m == sess.identity {
			found = true
			continue
		}
		members = append(members, m)
	}
	if !found {
		return
	}

	if err := s.store.SetMembers(name, members); err != nil {
		sess.log.Error("leave group", zap.Error(err))
		return
	}

	s.notice(sess, fmt.Sprintf("Left '%s'", name))
	s.sendGroupLists(sess, sess.identity)
	s.broadcastToGroup(name, protocol.GroupMessage{
		Type:     protocol.TypeGroupMsg,
		RoomName: name,
		From:     protocol.SystemSender,
		Content:  fmt.Sprintf("%s left", sess.identity),
	}, "")
}

// handleGroupAddUser lets the group creator append a known identity to the
// membership set without a PIN exchange.
func (s *Server) handleGroupAddUser(sess *session, env protocol.Envelope) {
	name, target := env.RoomName, env.TargetUser
	if name == "" || target == "" {
		return
	}

	err := s.addUserToGroup(name, target, sess.identity)
	switch {
	case errors.Is(err, ErrGroupNotFound):
		s.notice(sess, "Group not found")
		return
	case errors.Is(err, ErrNotCreator):
		s.notice(sess, "Only creator can add users")
		return
	case errors.Is(err, ErrUserNotFound):
		s.notice(sess, "User not found")
		return
	case errors.Is(err, ErrAlreadyMember):
		s.notice(sess, "User already in group")
		return
	case err != nil:
		sess.log.Error("add user to group", zap.Error(err))
		return
	}

	sess.log.Info("member added by creator",
		zap.String("room", name), zap.String("target", target), zap.String("creator", sess.identity))
	s.notice(sess, fmt.Sprintf("Added %s to %s", target, name))

	if conn, ok := s.sessions.Get(target); ok {
		s.sendGroupLists(conn, target)
		s.push(conn, protocol.Notice(fmt.Sprintf("You were added to '%s'", name)))
	}

	s.broadcastToGroup(name, protocol.GroupMessage{
		Type:     protocol.TypeGroupMsg,
		RoomName: name,
		From:     protocol.SystemSender,
		Content:  fmt.Sprintf("%s added by creator", target),
	}, "")
}

func (s *Server) addUserToGroup(name, target, requester string) error {
	g, err := s.store.Group(name)
	if errors.Is(err, store.ErrUnknownGroup) {
		return ErrGroupNotFound
	}
	if err != nil {
		return err
	}
	if g.Creator != requester {
		return ErrNotCreator
	}

	known, err := s.store.UserExists(target)
	if err != nil {
		return err
	}
	if !known {
		return ErrUserNotFound
	}

	for _, m := range g.Members {
		if m == target {
			return ErrAlreadyMember
		}
	}
	return s.store.SetMembers(name, append(g.Members, target))
}

func (s *Server) notice(sess *session, content string) {
	s.push(sess, protocol.Notice(content))
}
