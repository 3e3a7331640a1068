// Package wire defines the JSON envelope exchanged over the CloudFarm realtime
// socket. Every frame is a single JSON object with a "type" discriminator.
package wire

import (
	"encoding/json"
	"fmt"
)

// Inbound (server to client) system types.
const (
	TypeWelcome        = "welcome"
	TypePong           = "pong"
	TypeChannelMessage = "channel_message"
	TypeError          = "error"
)

// Outbound (client to server) types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeMessage     = "message"
	TypePing        = "ping"
)

// Close codes carried by the server when it ends a connection.
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
	CloseTokenExpired    = 4001
	CloseForbidden       = 4003
)

// IsAuthCloseCode reports whether a close code means the credentials were rejected.
func IsAuthCloseCode(code int) bool {
	switch code {
	case ClosePolicyViolation, CloseTokenExpired, CloseForbidden:
		return true
	default:
		return false
	}
}

// Envelope is the decoded form of any frame. Data holds the raw payload so that
// listeners decode into their own types.
type Envelope struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Welcome is the payload of the welcome frame.
type Welcome struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	ServerTime   string `json:"server_time,omitempty"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func New(msgType, channel string, data any) (Envelope, error) {
	env := Envelope{Type: msgType, Channel: channel}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		env.Data = raw
	}
	return env, nil
}

func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing type")
	}
	return env, nil
}

// Domain event types published by the backend.
const (
	EventTalhaoCreated       = "talhao_created"
	EventTalhaoUpdated       = "talhao_updated"
	EventTalhaoDeleted       = "talhao_deleted"
	EventTalhaoStatusChanged = "talhao_status_changed"
	EventImageUploaded       = "talhao_image_uploaded"
)

// Well known channels.
const (
	ChannelNotifications = "public.notifications"
	ChannelAlerts        = "public.alerts"
)

func FarmChannel(farmID string) string { return "farm." + farmID }

func RoleChannel(role string) string { return "role." + role }

func UserChannel(userID string) string { return "user." + userID }
