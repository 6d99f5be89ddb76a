package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// Request is the closed set of commands a client can issue. Every command
// has exactly one concrete variant; the server dispatches on the concrete
// type, so an unhandled command is a compile-time omission rather than a
// runtime lookup failure.
type Request interface {
	// Command returns the wire name of the request.
	Command() string
}

// UptimeRequest asks for the server's lifetime.
type UptimeRequest struct{}

// InfoRequest asks for the server version and start time.
type InfoRequest struct{}

// HelpRequest asks for the list of available commands.
type HelpRequest struct{}

// StopRequest tells the server and client to terminate the connection.
type StopRequest struct{}

// LogoutRequest ends the current authenticated session.
type LogoutRequest struct{}

// ReadRequest fetches the caller's inbox (or every message, for admins).
type ReadRequest struct{}

// SignupRequest creates a new account. Role must be "user" or "admin".
type SignupRequest struct {
	Username string
	Password string
	Role     string
}

// LoginRequest authenticates the connection as an existing account.
type LoginRequest struct {
	Username string
	Password string
}

// SendRequest delivers a message to another account's inbox.
type SendRequest struct {
	Recipient string
	Content   string
}

func (UptimeRequest) Command() string { return "uptime" }
func (InfoRequest) Command() string   { return "info" }
func (HelpRequest) Command() string   { return "help" }
func (StopRequest) Command() string   { return "stop" }
func (LogoutRequest) Command() string { return "logout" }
func (ReadRequest) Command() string   { return "read" }
func (SignupRequest) Command() string { return "signup" }
func (LoginRequest) Command() string  { return "login" }
func (SendRequest) Command() string   { return "send" }

// wireRequest is the flat JSON shape every request travels as. Field names
// match the reference protocol; unused fields are omitted.
type wireRequest struct {
	Command   string `json:"command"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Role      string `json:"role,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Content   string `json:"msg_content,omitempty"`
}

// DecodeRequest parses a request line into its typed variant. Malformed
// JSON, a missing command field, and an unrecognized command all return
// ErrUnknownCommand: the router answers those with the wrong-command
// sentinel instead of dropping the connection.
func DecodeRequest(line []byte) (Request, error) {
	var wire wireRequest
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, ErrUnknownCommand
	}

	switch wire.Command {
	case "uptime":
		return UptimeRequest{}, nil
	case "info":
		return InfoRequest{}, nil
	case "help":
		return HelpRequest{}, nil
	case "stop":
		return StopRequest{}, nil
	case "logout":
		return LogoutRequest{}, nil
	case "read":
		return ReadRequest{}, nil
	case "signup":
		return SignupRequest{Username: wire.Username, Password: wire.Password, Role: wire.Role}, nil
	case "login":
		return LoginRequest{Username: wire.Username, Password: wire.Password}, nil
	case "send":
		return SendRequest{Recipient: wire.Recipient, Content: wire.Content}, nil
	default:
		return nil, ErrUnknownCommand
	}
}

// EncodeRequest writes req as a single request line.
func EncodeRequest(w io.Writer, req Request) error {
	wire := wireRequest{Command: req.Command()}
	switch req := req.(type) {
	case SignupRequest:
		wire.Username = req.Username
		wire.Password = req.Password
		wire.Role = req.Role
	case LoginRequest:
		wire.Username = req.Username
		wire.Password = req.Password
	case SendRequest:
		wire.Recipient = req.Recipient
		wire.Content = req.Content
	}
	return WriteValue(w, wire)
}

// Response status values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// StatusResponse is the uniform success/failure result for state-changing
// commands.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Success builds a success StatusResponse with a formatted message.
func Success(format string, args ...any) StatusResponse {
	return StatusResponse{Status: StatusSuccess, Message: fmt.Sprintf(format, args...)}
}

// Failure builds a failure StatusResponse with a formatted message.
func Failure(format string, args ...any) StatusResponse {
	return StatusResponse{Status: StatusFailure, Message: fmt.Sprintf(format, args...)}
}

// NoticeResponse is an informational result that is neither success nor
// failure (for example an empty inbox).
type NoticeResponse struct {
	Message string `json:"message"`
}

// InboxMessage is one delivered message as returned by the read command.
// Receiver is only populated for admin reads, where messages for every
// account are returned; regular users only ever see their own inbox, so the
// receiver is implied.
type InboxMessage struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver,omitempty"`
	Body     string `json:"message"`
}

// UptimeResponse answers the uptime command.
type UptimeResponse struct {
	Uptime string `json:"uptime"`
}

// ServerInfoResponse answers the info command.
type ServerInfoResponse struct {
	Version   string `json:"version"`
	StartTime string `json:"start_time"`
}
