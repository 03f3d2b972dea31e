// README: Outbound and inbound websocket message envelopes for the tracking gateway.
package tracking

import "encoding/json"

const (
	TypeTaxiState       = "taxi_state"
	TypeSnapshot        = "snapshot"
	TypeRequestAccepted = "request_accepted"
	TypeRequestClosed   = "request_closed"
	TypeError           = "error"
	TypePong            = "pong"
)

// Message is what the server writes to a connection.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func ErrorMessage(code, msg string) Message {
	return Message{Type: TypeError, Payload: ErrorPayload{Code: code, Message: msg}}
}

const (
	InboundSubscribe   = "subscribe"
	InboundUnsubscribe = "unsubscribe"
	InboundPing        = "ping"
)

// Inbound is what a client writes: subscribe, unsubscribe or ping.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	TaxiID string `json:"taxiId"`
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
