package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/talentloop/interview-gateway/internal/interview"
)

// Inbound event names
const (
	EventJoin       = "join"
	EventStart      = "start"
	EventDisconnect = "disconnect"
	EventAudio      = "audio"
)

// Outbound event names
const (
	EventLiveTranscript    = "live-transcript"
	EventNewQuestion       = "new-question"
	EventInterviewFinished = "interview-finished"
	EventError             = "error"
)

// CodeBadMessage reports an inbound frame that could not be understood
const CodeBadMessage = "bad_message"

// ClientMessage is a JSON text frame sent by the participant
type ClientMessage struct {
	Event         string `json:"event"`
	ApplicationID string `json:"applicationId,omitempty"`
	Payload       string `json:"payload,omitempty"` // Base64 encoded audio for "audio" events
}

// LiveTranscriptMessage carries one transcript fragment
type LiveTranscriptMessage struct {
	Event string `json:"event"`
	Text  string `json:"text"`
}

type NewQuestionMessage struct {
	Event          string `json:"event"`
	Question       string `json:"question"`
	QuestionNumber int    `json:"questionNumber"`
}

type InterviewFinishedMessage struct {
	Event  string `json:"event"`
	Reason string `json:"reason,omitempty"`
}

type ErrorMessage struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// parseClientMessage decodes a text frame and checks the fields its event needs
func parseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch msg.Event {
	case EventJoin:
		if msg.ApplicationID == "" {
			return nil, fmt.Errorf("join requires applicationId")
		}
	case EventStart, EventDisconnect:
	case EventAudio:
		if msg.Payload == "" {
			return nil, fmt.Errorf("audio requires payload")
		}
	case "":
		return nil, fmt.Errorf("missing event")
	default:
		return nil, fmt.Errorf("unknown event %q", msg.Event)
	}
	return &msg, nil
}

// decodeAudio returns the raw bytes of an "audio" event
func decodeAudio(msg *ClientMessage) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid audio payload: %w", err)
	}
	return data, nil
}

// toWire maps an interview outbound event to its JSON frame
func toWire(o interview.Outbound) (any, bool) {
	switch e := o.(type) {
	case interview.LiveTranscript:
		return LiveTranscriptMessage{Event: EventLiveTranscript, Text: e.Text}, true
	case interview.NewQuestion:
		return NewQuestionMessage{Event: EventNewQuestion, Question: e.Question, QuestionNumber: e.Number}, true
	case interview.InterviewFinished:
		return InterviewFinishedMessage{Event: EventInterviewFinished, Reason: e.Reason}, true
	case interview.Diagnostic:
		return ErrorMessage{Event: EventError, Code: e.Code, Message: e.Message}, true
	default:
		return nil, false
	}
}
