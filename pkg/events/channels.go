// Package events delivers live governor state to WebSocket clients. Services
// publish stream events through the Publisher onto Redis pub/sub; each
// process runs one Listener that relays Redis messages into its local
// ConnectionManager, which fans them out to subscribed connections. Redis
// carries the events across processes, so a dashboard connected to one
// replica sees sessions dispatched by another.
//
// Delivery is fire-and-forget. There is no history and no catch-up: a client
// that connects late starts from the next event, and the REST API is the
// source of truth for current state.
package events

// GlobalChannel carries every stream event. The dashboard's session list
// subscribes here.
const GlobalChannel = "governor:events:sessions"

// channelPattern matches every channel this package publishes to. The
// Listener holds one pattern subscription instead of tracking per-channel
// interest, so WebSocket subscribe churn never touches Redis.
const channelPattern = "governor:events:*"

// SessionChannel returns the channel carrying a single session's events.
func SessionChannel(sessionID string) string {
	return "governor:events:session:" + sessionID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"` // required for subscribe and unsubscribe
}
