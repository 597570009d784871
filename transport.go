package quizhub

// ConnID is a stable, opaque identifier unique per live connection.
// Reconnects produce fresh identities; the core never correlates a new
// connection to a previous one.
type ConnID string

// EventName is the name of a message-channel event.
type EventName string

// Transport is the bidirectional message channel the Hub consumes. An
// adapter implementing Transport is responsible for framing, per-connection
// in-order delivery, and queued (non-blocking) sends: the Hub issues SendTo
// and Broadcast from inside its critical section and must never be blocked
// waiting on a slow client.
//
// The adapter must deliver inbound traffic by calling the Hub's Connect,
// Disconnect, SubmitAnswer, and RequestQuestion methods, invoking Connect
// before any message and Disconnect at most once after the last message for
// a given ConnID.
type Transport interface {
	// SendTo delivers one event to a single connection, best-effort.
	SendTo(connID ConnID, event EventName, payload any) error

	// Broadcast delivers one event to every currently connected participant.
	Broadcast(event EventName, payload any) error
}
