package types

import "time"

// Message types pushed to dashboards over the session WebSocket
const (
	MessageState               = "state"
	MessageNotification        = "notification"
	MessageNotificationRetired = "notification_retired"
)

// StateMessage carries the controller state after a transition or fetch
type StateMessage struct {
	Type      string    `json:"type"` // "state"
	SessionID string    `json:"sessionId"`
	State     any       `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationMessage is sent when an alert becomes active
type NotificationMessage struct {
	Type         string            `json:"type"` // "notification"
	SessionID    string            `json:"sessionId"`
	Event        NotificationEvent `json:"event"`
	DisplayUntil time.Time         `json:"displayUntil"`
}

// NotificationRetiredMessage is sent when the active alert leaves the screen
type NotificationRetiredMessage struct {
	Type      string `json:"type"` // "notification_retired"
	SessionID string `json:"sessionId"`
	EventID   string `json:"eventId"`
	Reason    string `json:"reason"` // "expired", "dismissed", "cleared"
}
