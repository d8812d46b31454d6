package model

import "encoding/json"

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalChatSync  SignalKind = "chat-sync"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalCandidate, SignalChatSync:
		return true
	}
	return false
}

// SignalEnvelope is the opaque routing unit of the relay. The payload is never
// interpreted, so the relay works with whatever handshake dialect the client
// media layer speaks.
type SignalEnvelope struct {
	SessionID string          `json:"sessionId"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Kind      SignalKind      `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}
