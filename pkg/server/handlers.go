package server

import (
	"errors"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"postbox/pkg/protocol"
	"postbox/pkg/store"
)

// commandHelp maps each command to the description served by help.
var commandHelp = map[string]string{
	"uptime": "Returns the server's lifetime.",
	"info":   "Returns the server's version number and date of creation.",
	"help":   "Returns a list of available commands.",
	"stop":   "Stop the server and the client simultaneously.",
	"signup": "Create a new account.",
	"login":  "Log in.",
	"logout": "Log out.",
	"send":   "Send message.",
	"read":   "Read message.",
}

// dispatch routes a decoded request to its handler. The switch is
// exhaustive over the protocol's request variants; stop is answered before
// dispatch ever runs.
func (s *Server) dispatch(sess *Session, req protocol.Request) any {
	switch req := req.(type) {
	case protocol.SignupRequest:
		return s.handleSignup(sess, req)
	case protocol.LoginRequest:
		return s.handleLogin(sess, req)
	case protocol.LogoutRequest:
		return s.handleLogout(sess)
	case protocol.SendRequest:
		return s.handleSend(sess, req)
	case protocol.ReadRequest:
		return s.handleRead(sess)
	case protocol.UptimeRequest:
		return protocol.UptimeResponse{Uptime: time.Since(s.startTime).String()}
	case protocol.InfoRequest:
		return protocol.ServerInfoResponse{
			Version:   Version,
			StartTime: s.startTime.Format(time.RFC3339),
		}
	case protocol.HelpRequest:
		return commandHelp
	default:
		return protocol.WrongCommandSentinel
	}
}

// storeError logs an unexpected store failure and returns the generic
// failure response
func (s *Server) storeError(sess *Session, operation string, err error) protocol.StatusResponse {
	errorLog.Printf("Session %d: %s failed: %v", sess.ID, operation, err)
	s.metrics.RecordFailure("store_error")
	return protocol.Failure("Database error.")
}

// handleSignup creates a new account. Signup is independent of session
// state: it works logged in or out, and does not authenticate the caller.
func (s *Server) handleSignup(sess *Session, req protocol.SignupRequest) any {
	if !store.ValidRole(req.Role) {
		s.metrics.RecordFailure("invalid_role")
		return protocol.Failure("Wrong role. Select user or admin.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return s.storeError(sess, "GenerateFromPassword", err)
	}

	if err := s.store.CreateAccount(req.Username, string(hash), store.Role(req.Role)); err != nil {
		if errors.Is(err, store.ErrDuplicateAccount) {
			s.metrics.RecordFailure("duplicate_user")
			return protocol.Failure("User with that name already exists.")
		}
		return s.storeError(sess, "CreateAccount", err)
	}

	debugLog.Printf("Session %d: created account %s (%s)", sess.ID, req.Username, req.Role)
	return protocol.Success("You have created new account named %s.", req.Username)
}

// handleLogin authenticates the session. A single collapsed message covers
// both unknown usernames and wrong passwords.
func (s *Server) handleLogin(sess *Session, req protocol.LoginRequest) any {
	if current, ok := sess.User(); ok {
		s.metrics.RecordFailure("already_logged_in")
		return protocol.Failure("You are logged in as %s.", current)
	}

	acc, err := s.store.GetAccount(req.Username)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			s.metrics.RecordFailure("invalid_credentials")
			return protocol.Failure("Invalid username or password.")
		}
		return s.storeError(sess, "GetAccount", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)); err != nil {
		s.metrics.RecordFailure("invalid_credentials")
		return protocol.Failure("Invalid username or password.")
	}

	sess.Login(acc.Username, acc.Role)
	debugLog.Printf("Session %d: %s logged in as %s", sess.ID, acc.Username, acc.Role)
	return protocol.Success("User %s logged in.", acc.Username)
}

// handleLogout clears the session's identity.
func (s *Server) handleLogout(sess *Session) any {
	username, ok := sess.Logout()
	if !ok {
		s.metrics.RecordFailure("not_logged_in")
		return protocol.Failure("No user is currently logged in.")
	}

	debugLog.Printf("Session %d: %s logged out", sess.ID, username)
	return protocol.Success("User %s logged out.", username)
}

// handleSend delivers a message to the recipient's inbox. The store applies
// the capacity check, the message append, and the counter increment as one
// atomic unit, so concurrent sends can't overfill an inbox.
func (s *Server) handleSend(sess *Session, req protocol.SendRequest) any {
	sender, ok := sess.User()
	if !ok {
		s.metrics.RecordFailure("not_logged_in")
		return protocol.Failure("No user is currently logged in.")
	}

	if utf8.RuneCountInString(req.Content) > s.config.Limits.MaxMessageLength {
		s.metrics.RecordFailure("message_too_long")
		return protocol.Failure("Message is too long.")
	}

	err := s.store.DeliverMessage(sender, req.Recipient, req.Content, s.config.Limits.InboxCapacity)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAccountNotFound):
			s.metrics.RecordFailure("unknown_recipient")
			return protocol.Failure("There is no such user as %s.", req.Recipient)
		case errors.Is(err, store.ErrInboxFull):
			s.metrics.RecordFailure("inbox_full")
			return protocol.Failure("Inbox is full.")
		default:
			return s.storeError(sess, "DeliverMessage", err)
		}
	}

	s.metrics.RecordMessageDelivered()
	debugLog.Printf("Session %d: %s -> %s (%d chars)", sess.ID, sender, req.Recipient, utf8.RuneCountInString(req.Content))
	return protocol.Success("The message has been sent to %s.", req.Recipient)
}

// handleRead returns the caller's inbox and resets their unread counter.
// Admins get every message in the system instead of just their own inbox,
// but their own counter is still the one reset.
func (s *Server) handleRead(sess *Session) any {
	username, ok := sess.User()
	if !ok {
		s.metrics.RecordFailure("not_logged_in")
		return protocol.Failure("No user is currently logged in.")
	}
	role, _ := sess.Role()

	inbox, err := s.store.MessagesFor(username)
	if err != nil {
		return s.storeError(sess, "MessagesFor", err)
	}

	// The emptiness check is on the message list, not the counter: a
	// regular user with no messages gets an informational notice and no
	// mutation at all.
	if len(inbox) == 0 && role == store.RoleUser {
		return protocol.NoticeResponse{Message: "You don't have any messages."}
	}

	if err := s.store.ResetUnread(username); err != nil {
		return s.storeError(sess, "ResetUnread", err)
	}

	if role == store.RoleAdmin {
		all, err := s.store.AllMessages()
		if err != nil {
			return s.storeError(sess, "AllMessages", err)
		}
		result := make([]protocol.InboxMessage, 0, len(all))
		for _, msg := range all {
			result = append(result, protocol.InboxMessage{
				Sender:   msg.Sender,
				Receiver: msg.Receiver,
				Body:     msg.Body,
			})
		}
		return result
	}

	result := make([]protocol.InboxMessage, 0, len(inbox))
	for _, msg := range inbox {
		result = append(result, protocol.InboxMessage{
			Sender: msg.Sender,
			Body:   msg.Body,
		})
	}
	return result
}
