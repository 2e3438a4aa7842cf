package monitor

import "time"

// MonitorMessage is a standardized packet for system observability,
// delivered through Monitor.OnMessage so different monitors (CLI, log
// file, ...) can display or record it without coupling them to the
// EventBus wire format. No component in this module calls OnMessage.
type MonitorMessage struct {
	Timestamp time.Time // When the event occurred
	Direction string    // "in" (bot_request) or "out" (request_* reply)
	EventType string    // e.g. "message_received", "request_success"
	ChannelID string    // Originating platform (e.g. "telegram")
	Summary   string    // Short human-readable description
}

// Monitor defines the lifecycle and message consumption protocol for
// observability plugins.
type Monitor interface {
	Start() error
	Stop() error
	OnMessage(msg MonitorMessage)
}

// SetupEnvironment initializes the global logger at the given level and
// returns the default CLI monitor, simplifying the adapter bootstrap.
func SetupEnvironment(logLevel string) Monitor {
	PrintBanner()
	SetupSlog(logLevel)
	return NewCLIMonitor()
}
