package mq

import "time"

// Routing keys used on the events exchange.
const (
	RoutingKeyTicketReceived = "ticket.received"
	RoutingKeySendFailed     = "ticket.send_failed"
)

// TicketReceivedPayload is published by the inbox poller once a new
// ticket row exists; the pipeline worker consumes it.
type TicketReceivedPayload struct {
	EventID    string    `json:"event_id"`
	TicketID   string    `json:"ticket_id"`
	FromEmail  string    `json:"from_email"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"received_at"`
}

// SendFailedPayload is published when an outbound response delivery
// fails; the relay worker consumes it and pings the operator.
type SendFailedPayload struct {
	EventID  string `json:"event_id"`
	TicketID string `json:"ticket_id"`
	To       string `json:"to"`
	Reason   string `json:"reason"`
	Attempt  int64  `json:"attempt"`
}
