// Package interview runs live interview sessions: join, start, then
// listen/transcribe/ask until MaxQuestions answers are in.
package interview

// MaxQuestions is the number of questions asked before the interview finishes
const MaxQuestions = 5

// State is the position of a session in the interview flow
type State int

const (
	StateIdle             State = iota // joined, not started
	StateOpening                       // waiting for the opening question
	StateAwaitingAnswer                // question sent, listening
	StateProcessingAnswer              // answer finalized, waiting for the next question
	StateFinished                      // terminal, session leaves the store
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateAwaitingAnswer:
		return "awaiting_answer"
	case StateProcessingAnswer:
		return "processing_answer"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// TranscriberStatus tracks the session's transcription handle
type TranscriberStatus int

const (
	TranscriberNone TranscriberStatus = iota
	TranscriberConnecting
	TranscriberReady
)

func (t TranscriberStatus) String() string {
	switch t {
	case TranscriberNone:
		return "none"
	case TranscriberConnecting:
		return "connecting"
	case TranscriberReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Session is the state of one interview, keyed by connection ID
type Session struct {
	ID            string
	ApplicationID string
	QuestionCount int
	Transcript    string
	State         State

	// Transcriber is the status of the handle numbered Generation. Signals
	// carrying any other generation belong to a discarded handle.
	Transcriber TranscriberStatus
	Generation  uint64
}

// hasTranscriber reports whether events for gen belong to the live handle
func (s *Session) hasTranscriber(gen uint64) bool {
	return s.Transcriber != TranscriberNone && s.Generation == gen
}
