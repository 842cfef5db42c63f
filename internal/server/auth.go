package server

import (
	"errors"

	"go.uber.org/zap"

	"github.com/chatrelay/chatrelay/internal/protocol"
	"github.com/chatrelay/chatrelay/internal/seal"
	"github.com/chatrelay/chatrelay/internal/store"
)

func (s *Server) handleSignup(sess *session, env protocol.Envelope) {
	if err := s.signup(env.Username, env.Password); err != nil {
		switch {
		case errors.Is(err, ErrUsernameTaken):
			s.authResult(sess, false, "Username exists")
		case errors.Is(err, ErrInvalidCredentials):
			s.authResult(sess, false, "Invalid credentials")
		default:
			sess.log.Error("signup", zap.Error(err))
			s.authResult(sess, false, "Invalid credentials")
		}
		return
	}

	sess.log.Info("signup", zap.String("username", env.Username))
	s.authResult(sess, true, "Account created")
}

func (s *Server) signup(username, password string) error {
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}

	hash, err := seal.HashSecret(password)
	if err != nil {
		return err
	}

	if err := s.store.CreateUser(username, hash); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

// handleLogin verifies credentials, enforces the single-active-session
// policy, and on success binds the identity to this session. A rejected
// duplicate attempt never disturbs the existing session.
func (s *Server) handleLogin(sess *session, env protocol.Envelope) {
	if err := s.login(sess, env.Username, env.Password); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyLoggedIn):
			s.authResult(sess, false, "Already logged in")
		case errors.Is(err, ErrInvalidCredentials):
			s.authResult(sess, false, "Invalid credentials")
		default:
			sess.log.Error("login", zap.Error(err))
			s.authResult(sess, false, "Invalid credentials")
		}
		return
	}

	sess.log.Info("login", zap.String("username", env.Username))
	s.authResult(sess, true, "Login successful")
	s.metrics.incSession()
	s.broadcastUserList()
	s.sendGroupLists(sess, sess.identity)
}

func (s *Server) login(sess *session, username, password string) error {
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}
	if sess.identity != "" {
		// This connection already owns a session.
		return ErrAlreadyLoggedIn
	}

	hash, ok, err := s.store.UserHash(username)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if err := seal.VerifySecret(password, hash); err != nil {
		return ErrInvalidCredentials
	}

	if err := s.sessions.Register(username, sess); err != nil {
		return ErrAlreadyLoggedIn
	}
	sess.identity = username
	return nil
}

func (s *Server) authResult(sess *session, success bool, message string) {
	s.push(sess, protocol.AuthResult{Type: protocol.TypeAuthResult, Success: success, Message: message})
}
