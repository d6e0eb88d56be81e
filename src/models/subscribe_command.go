package models

// -----------------------------------------------------------------------------
// Broadcast Protocol Messages
// -----------------------------------------------------------------------------

// MSubscribeCommand is the control message a websocket client sends to change
// its symbol subscriptions. Unknown commands are ignored with a warning.
type MSubscribeCommand struct {
	Command string   `json:"command"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
}

// -----------------------------------------------------------------------------

// MBroadcastMessage wraps an event pushed to websocket clients with a
// type discriminator so consumers can route without sniffing fields.
type MBroadcastMessage struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}
