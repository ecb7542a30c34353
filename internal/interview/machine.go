package interview

import (
	"fmt"
	"strings"
)

// Step applies ev to sess and returns the next session, the events for the
// participant and the effects for the runtime. sess is never modified.
//
// A nil sess means no session exists. A nil result means the session must be
// removed (disconnect); so does a result in StateFinished.
func Step(sess *Session, ev Event) (*Session, []Outbound, []Effect) {
	if j, ok := ev.(Join); ok {
		return join(sess, j)
	}
	if sess == nil {
		// Everything but join is a no-op without a session
		return nil, nil, nil
	}

	next := *sess

	switch e := ev.(type) {
	case Start:
		if next.State != StateIdle {
			return sess, diagnostic(CodeInvalidState, "start is only valid once, after join (state %s)", next.State), nil
		}
		next.State = StateOpening
		return &next, nil, []Effect{RequestQuestion{Number: 1}}

	case QuestionReady:
		if !next.waitingFor(e.Number) {
			return sess, nil, nil
		}
		next.QuestionCount = e.Number
		next.State = StateAwaitingAnswer
		return &next, []Outbound{NewQuestion{Question: e.Text, Number: e.Number}}, nil

	case QuestionFailed:
		if !next.waitingFor(e.Number) {
			return sess, nil, nil
		}
		return finish(&next, ReasonQuestionFailed)

	case AudioFrame:
		return audio(&next, e)

	case TranscriberOpened:
		if !next.hasTranscriber(e.Generation) || next.Transcriber != TranscriberConnecting {
			// A handle nobody waits for any more
			return sess, nil, []Effect{CloseTranscriber{Generation: e.Generation}}
		}
		next.Transcriber = TranscriberReady
		return &next, nil, nil

	case Fragment:
		if !next.hasTranscriber(e.Generation) || e.Text == "" {
			return sess, nil, nil
		}
		if e.IsFinal {
			next.Transcript += e.Text + " "
		}
		return &next, []Outbound{LiveTranscript{Text: e.Text}}, nil

	case UtteranceEnd:
		if !next.hasTranscriber(e.Generation) || next.State != StateAwaitingAnswer {
			return sess, nil, nil
		}
		fx := []Effect{CloseTranscriber{Generation: next.Generation}}
		next.Transcriber = TranscriberNone
		next.State = StateProcessingAnswer

		result, out, more := answerFinished(&next)
		return result, out, append(fx, more...)

	case TranscriberFailed:
		if !next.hasTranscriber(e.Generation) {
			return sess, nil, nil
		}
		next.Transcriber = TranscriberNone
		return &next, nil, []Effect{CloseTranscriber{Generation: e.Generation}}

	case Disconnect:
		var fx []Effect
		if next.Transcriber != TranscriberNone {
			fx = append(fx, CloseTranscriber{Generation: next.Generation})
		}
		return nil, nil, fx
	}

	return sess, nil, nil
}

func join(sess *Session, j Join) (*Session, []Outbound, []Effect) {
	if sess != nil {
		return sess, diagnostic(CodeAlreadyJoined, "connection already joined application %s", sess.ApplicationID), nil
	}
	return &Session{
		ID:            j.SessionID,
		ApplicationID: j.ApplicationID,
		State:         StateIdle,
	}, nil, nil
}

func audio(next *Session, e AudioFrame) (*Session, []Outbound, []Effect) {
	if next.State != StateAwaitingAnswer {
		return next, nil, []Effect{DropAudio{Reason: DropNotListening}}
	}

	switch next.Transcriber {
	case TranscriberNone:
		// Lazily open a handle; this frame cannot be delivered
		next.Generation++
		next.Transcriber = TranscriberConnecting
		return next, nil, []Effect{
			OpenTranscriber{Generation: next.Generation},
			DropAudio{Reason: DropTranscriberOpening},
		}
	case TranscriberConnecting:
		return next, nil, []Effect{DropAudio{Reason: DropTranscriberOpening}}
	default:
		return next, nil, []Effect{SendAudio{Generation: next.Generation, Data: e.Data}}
	}
}

// answerFinished finalizes the buffered answer. The question limit is only
// checked here.
func answerFinished(next *Session) (*Session, []Outbound, []Effect) {
	answer := strings.TrimSpace(next.Transcript)
	next.Transcript = ""

	if next.QuestionCount >= MaxQuestions {
		return finish(next, "")
	}
	return next, nil, []Effect{RequestQuestion{Number: next.QuestionCount + 1, PriorAnswer: &answer}}
}

func finish(next *Session, reason string) (*Session, []Outbound, []Effect) {
	var fx []Effect
	if next.Transcriber != TranscriberNone {
		fx = append(fx, CloseTranscriber{Generation: next.Generation})
		next.Transcriber = TranscriberNone
	}
	next.State = StateFinished
	return next, []Outbound{InterviewFinished{Reason: reason}}, fx
}

// waitingFor reports whether question number n is the one the session expects
func (s *Session) waitingFor(n int) bool {
	return (s.State == StateOpening || s.State == StateProcessingAnswer) && n == s.QuestionCount+1
}

func diagnostic(code, format string, args ...any) []Outbound {
	return []Outbound{Diagnostic{Code: code, Message: fmt.Sprintf(format, args...)}}
}
