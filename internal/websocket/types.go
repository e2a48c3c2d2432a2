package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeTranslation is emitted after every translate request
	EventTypeTranslation EventType = "translation"
	// EventTypeRegistryRefresh is emitted after every model refresh attempt
	EventTypeRegistryRefresh EventType = "registry_refresh"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// TranslationEvent summarises one translate request
type TranslationEvent struct {
	RequestID  string  `json:"request_id"`
	Mode       string  `json:"mode"`
	ModelIDs   []int   `json:"model_ids"`
	Items      int     `json:"items"`
	StatusKind string  `json:"status_kind"`
	ClientIP   string  `json:"client_ip"`
	DurationMS float64 `json:"duration_ms"`
}

// RegistryRefreshEvent reports a model refresh
type RegistryRefreshEvent struct {
	Revision   uint64  `json:"revision"`
	ModelIDs   []int   `json:"model_ids"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	Events      map[EventType]bool // nil means all events
	ConnectedAt time.Time
	IP          string
	UserAgent   string
}

// HubStats tracks WebSocket hub statistics
type HubStats struct {
	TotalConnections  int64     `json:"total_connections"`
	ActiveConnections int64     `json:"active_connections"`
	TotalMessages     int64     `json:"total_messages"`
	TotalBroadcasts   int64     `json:"total_broadcasts"`
	DroppedEvents     int64     `json:"dropped_events"`
	LastBroadcastTime time.Time `json:"last_broadcast_time"`
}
