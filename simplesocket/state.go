package simplesocket

import "time"

// Status represents the lifecycle phase of the client connection.
type Status int

const (
	// StatusIdle means the client has never attempted a connection.
	StatusIdle Status = iota

	// StatusConnecting means the client is establishing a connection.
	StatusConnecting

	// StatusConnected means the client is connected and ready.
	StatusConnected

	// StatusDisconnected means the client lost or closed its connection.
	StatusDisconnected
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionState is a point-in-time snapshot of connection bookkeeping.
// IsConnected and IsConnecting are never both true.
type ConnectionState struct {
	Status             Status
	IsConnected        bool
	IsConnecting       bool
	ConnectionID       string
	ConnectedAt        time.Time
	LastDisconnectedAt time.Time
	DisconnectReason   string
}

// ReconnectionInfo is a point-in-time snapshot of the retry tracker.
// Attempt resets to zero exactly when a connection succeeds.
type ReconnectionInfo struct {
	Attempt           int
	MaxAttempts       int
	NextRetryIn       time.Duration
	IsReconnecting    bool
	LastFailureReason string
}
