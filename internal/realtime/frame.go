package realtime

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/chainsyncstore/chainsync-notify/internal/notifications"
)

// Frame types on the wire.
const (
	FrameAuth        = "auth"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"

	FrameNotification = "notification"
	FramePong         = "pong"
	FrameEvent        = "event"
)

const maxChannelLength = 128

// Frame is the JSON envelope of every message in both directions.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// inboundFrame ignores the client's timestamp, whatever its format.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type authData struct {
	Token    string `json:"token"`
	TenantID string `json:"tenantId,omitempty"`
}

type channelData struct {
	Channel string `json:"channel"`
}

// NotificationPayload is the data of an outbound notification frame.
type NotificationPayload struct {
	ID        string                 `json:"id"`
	Type      notifications.Kind     `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      json.RawMessage        `json:"data,omitempty"`
	Priority  notifications.Priority `json:"priority"`
	Timestamp time.Time              `json:"timestamp"`
}

func encodeFrame(frameType string, data interface{}) ([]byte, error) {
	f := Frame{Type: frameType, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// mustEncodeFrame is for payloads built from plain strings and maps that
// cannot fail to marshal.
func mustEncodeFrame(frameType string, data interface{}) []byte {
	out, err := encodeFrame(frameType, data)
	if err != nil {
		panic(err)
	}
	return out
}

func errorFrame(message string) []byte {
	return mustEncodeFrame(FrameNotification, map[string]string{"error": message})
}

func pongFrame() []byte {
	return mustEncodeFrame(FramePong, nil)
}

func notificationFrame(p notifications.PersistedEvent) ([]byte, error) {
	return encodeFrame(FrameNotification, NotificationPayload{
		ID:        p.ID,
		Type:      p.Kind,
		Title:     p.Title,
		Message:   p.Message,
		Data:      p.Data,
		Priority:  p.Priority,
		Timestamp: p.CreatedAt,
	})
}

// Channel naming: kind:id.
func TenantChannel(tenantID string) string   { return "tenant:" + tenantID }
func SubjectChannel(subjectID string) string { return "subject:" + subjectID }
func CriticalChannel(tenantID string) string { return "critical:" + tenantID }

// validChannel accepts kind:id names of bounded length without whitespace or
// control characters.
func validChannel(name string) bool {
	if len(name) == 0 || len(name) > maxChannelLength {
		return false
	}
	kind, id, ok := strings.Cut(name, ":")
	if !ok || kind == "" || id == "" {
		return false
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
