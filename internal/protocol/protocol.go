// Package protocol defines the JSON control messages exchanged with
// browser clients over the signaling channel.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
)

const (
	TypeStart      = "Start"
	TypeAnswer     = "Answer"
	TypeOffer      = "Offer"
	TypeError      = "Error"
	TypeTranscript = "Transcript"
)

var (
	ErrEmptyUsername = errors.New("empty username")
	ErrEmptySDP      = errors.New("empty sdp")
)

// Envelope is the outer shape of every control message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartPayload carries the client's capability description.
type StartPayload struct {
	Username string `json:"username"`
	SDP      string `json:"sdp"`
	UsePlanB bool   `json:"usePlanB"`
}

// SessionDescription is the wire form of an SDP description.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// AnswerPayload carries the client's answer to a server offer.
type AnswerPayload struct {
	Username string             `json:"username"`
	Answer   SessionDescription `json:"answer"`
}

// TranscriptPayload is the fan-out form of a recognition result.
type TranscriptPayload struct {
	Username   string `json:"username"`
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"isFinal"`
}

// ParseEnvelope decodes the outer envelope of an inbound control frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodeStart decodes and validates a Start payload.
func DecodeStart(raw json.RawMessage) (StartPayload, error) {
	var p StartPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return StartPayload{}, err
	}
	if p.Username == "" {
		return StartPayload{}, ErrEmptyUsername
	}
	if p.SDP == "" {
		return StartPayload{}, ErrEmptySDP
	}
	return p, nil
}

// DecodeAnswer decodes and validates an Answer payload.
func DecodeAnswer(raw json.RawMessage) (AnswerPayload, error) {
	var p AnswerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return AnswerPayload{}, err
	}
	if p.Username == "" {
		return AnswerPayload{}, ErrEmptyUsername
	}
	if p.Answer.SDP == "" {
		return AnswerPayload{}, ErrEmptySDP
	}
	return p, nil
}

func marshal(msgType string, payload any) (core.Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

// Offer builds an Offer message carrying a session description.
func Offer(desc SessionDescription) (core.Frame, error) {
	return marshal(TypeOffer, desc)
}

// Error builds an Error message with a plain string payload.
func Error(msg string) core.Frame {
	// Marshaling a string cannot fail.
	b, _ := marshal(TypeError, msg)
	return b
}

// Transcript builds a Transcript fan-out message.
func Transcript(t core.Transcript) (core.Frame, error) {
	return marshal(TypeTranscript, TranscriptPayload{
		Username:   t.Username,
		Transcript: t.Text,
		IsFinal:    t.IsFinal,
	})
}
