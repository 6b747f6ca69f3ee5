// Package notify delivers outbound messages to senders.
package notify

// Notifier sends one text message to a recipient. Delivery is fire and
// forget: failures are the caller's concern and never feed back into the
// conversation state machine.
type Notifier interface {
	Send(recipientID, text string) error
}

// ReadMarker acknowledges receipt of an inbound message at the transport.
type ReadMarker interface {
	MarkRead(messageID string) error
}
