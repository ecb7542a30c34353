package interview

// Event is an input to Step
type Event interface {
	isEvent()
}

// Participant events

type Join struct {
	SessionID     string
	ApplicationID string
}

type Start struct{}

type AudioFrame struct {
	Data []byte
}

type Disconnect struct{}

// Transcriber events

type TranscriberOpened struct {
	Generation uint64
}

type Fragment struct {
	Generation uint64
	Text       string
	IsFinal    bool
}

type UtteranceEnd struct {
	Generation uint64
}

type TranscriberFailed struct {
	Generation uint64
	Err        error
}

// Question generator events

type QuestionReady struct {
	Number int
	Text   string
}

type QuestionFailed struct {
	Number int
	Err    error
}

func (Join) isEvent()              {}
func (Start) isEvent()             {}
func (AudioFrame) isEvent()        {}
func (Disconnect) isEvent()        {}
func (TranscriberOpened) isEvent() {}
func (Fragment) isEvent()          {}
func (UtteranceEnd) isEvent()      {}
func (TranscriberFailed) isEvent() {}
func (QuestionReady) isEvent()     {}
func (QuestionFailed) isEvent()    {}

// Outbound is an event for the participant
type Outbound interface {
	isOutbound()
}

type LiveTranscript struct {
	Text string
}

type NewQuestion struct {
	Question string
	Number   int
}

// InterviewFinished ends the interview. Reason is empty on normal completion.
type InterviewFinished struct {
	Reason string
}

// Diagnostic is a protocol error report. The session is unaffected.
type Diagnostic struct {
	Code    string
	Message string
}

func (LiveTranscript) isOutbound()    {}
func (NewQuestion) isOutbound()       {}
func (InterviewFinished) isOutbound() {}
func (Diagnostic) isOutbound()        {}

const (
	ReasonQuestionFailed = "question_generation_failed"

	CodeAlreadyJoined = "already_joined"
	CodeInvalidState  = "invalid_state"
)

// Effect is work Step asks the runtime to perform
type Effect interface {
	isEffect()
}

// RequestQuestion asks the generator for question Number. PriorAnswer is nil
// for the opening question.
type RequestQuestion struct {
	Number      int
	PriorAnswer *string
}

type OpenTranscriber struct {
	Generation uint64
}

type SendAudio struct {
	Generation uint64
	Data       []byte
}

type CloseTranscriber struct {
	Generation uint64
}

// DropAudio reports a discarded audio frame
type DropAudio struct {
	Reason string
}

func (RequestQuestion) isEffect()  {}
func (OpenTranscriber) isEffect()  {}
func (SendAudio) isEffect()        {}
func (CloseTranscriber) isEffect() {}
func (DropAudio) isEffect()        {}

const (
	DropNotListening       = "not_listening"
	DropTranscriberOpening = "transcriber_opening"
	DropTranscriberBusy    = "transcriber_not_ready"
)
