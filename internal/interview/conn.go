package interview

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/talentloop/interview-gateway/internal/observability"
	"github.com/talentloop/interview-gateway/internal/stt"
)

// streamOpened hands a dialed stream to the event loop
type streamOpened struct {
	generation uint64
	stream     stt.Stream
}

func (streamOpened) isEvent() {}

// Conn is the runtime of one connection. A single goroutine applies every
// event to the session, so no session state is shared with helpers.
// Outbox.Emit runs on that goroutine and must not call Disconnect.
type Conn struct {
	id     string
	ctrl   *Controller
	out    Outbox
	base   zerolog.Logger
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events   chan Event
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the event loop
	streams map[uint64]stt.Stream
	metrics *observability.SessionMetrics
}

func newConn(ctrl *Controller, id string, out Outbox, logger zerolog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:      id,
		ctrl:    ctrl,
		out:     out,
		base:    logger,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan Event, ctrl.eventBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		streams: make(map[uint64]stt.Stream),
	}
}

// ID returns the connection ID, which is also the session ID
func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Join(applicationID string) {
	c.post(Join{SessionID: c.id, ApplicationID: applicationID})
}

func (c *Conn) Start() {
	c.post(Start{})
}

// Audio queues one audio frame. Frames are applied in arrival order.
func (c *Conn) Audio(data []byte) {
	observability.RecordAudioBytes("in", len(data))
	c.post(AudioFrame{Data: data})
}

// Disconnect tears the session down and waits for the event loop to exit.
// Safe to call more than once and from any goroutine.
func (c *Conn) Disconnect() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

// Done is closed once the connection has been torn down
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// post queues ev unless the loop has exited
func (c *Conn) post(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) run() {
	defer close(c.done)
	defer c.ctrl.detach(c.id)

	for {
		select {
		case <-c.stop:
			c.shutdown()
			return
		default:
		}

		select {
		case <-c.stop:
			c.shutdown()
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Conn) shutdown() {
	c.handle(Disconnect{})

	// Nothing outlives the connection
	for gen, s := range c.streams {
		c.finishStream(s)
		delete(c.streams, gen)
	}
	c.cancel()
	if c.metrics != nil {
		c.metrics.RecordSessionEnd()
	}
	c.logger.Debug().Msg("Interview connection closed")
}

// handle applies ev and any events its effects produce, in order
func (c *Conn) handle(ev Event) {
	queue := []Event{ev}
	for len(queue) > 0 {
		ev, queue = queue[0], queue[1:]

		if so, ok := ev.(streamOpened); ok {
			c.streams[so.generation] = so.stream
			ev = TranscriberOpened{Generation: so.generation}
		}
		c.logEvent(ev)

		prev := c.ctrl.store.Get(c.id)
		next, out, fx := Step(prev, ev)
		c.commit(prev, next)

		for _, o := range out {
			c.emit(o)
		}
		for _, e := range fx {
			if follow := c.execute(e); follow != nil {
				queue = append(queue, follow)
			}
		}
		c.reapStreams(next)
	}
}

func (c *Conn) commit(prev, next *Session) {
	switch {
	case next == nil || next.State == StateFinished:
		if prev != nil && c.ctrl.store.Delete(c.id) {
			c.metrics.RecordSessionEnd()
			c.logger.Info().
				Int("questions", prev.QuestionCount).
				Bool("finished", next != nil).
				Msg("Interview session removed")
		}
	default:
		if prev == nil {
			c.metrics = observability.NewSessionMetrics()
			c.logger = c.base.With().Str("application_id", next.ApplicationID).Logger()
			c.logger.Info().Msg("Interview session joined")
		}
		c.ctrl.store.Put(next)
	}
}

func (c *Conn) emit(o Outbound) {
	switch e := o.(type) {
	case NewQuestion:
		observability.RecordQuestion(e.Number)
		c.logger.Info().Int("question_number", e.Number).Msg("Question sent")
	case InterviewFinished:
		observability.RecordInterviewFinished(e.Reason)
		c.logger.Info().Str("reason", e.Reason).Msg("Interview finished")
	case Diagnostic:
		observability.RecordError(e.Code, "interview")
		c.logger.Debug().Str("code", e.Code).Str("message", e.Message).Msg("Protocol violation")
	}
	c.out.Emit(o)
}

// execute runs one effect. Failures discovered synchronously come back as events.
func (c *Conn) execute(e Effect) Event {
	switch e := e.(type) {
	case RequestQuestion:
		c.requestQuestion(e)

	case OpenTranscriber:
		c.openTranscriber(e.Generation)

	case SendAudio:
		s, ok := c.streams[e.Generation]
		if !ok {
			// Dialed but not yet adopted by the loop
			observability.RecordDroppedFrame(DropTranscriberBusy)
			return nil
		}
		err := s.Send(e.Data)
		switch {
		case err == nil:
		case errors.Is(err, stt.ErrNotReady):
			observability.RecordDroppedFrame(DropTranscriberBusy)
		default:
			return TranscriberFailed{Generation: e.Generation, Err: err}
		}

	case CloseTranscriber:
		if s, ok := c.streams[e.Generation]; ok {
			c.finishStream(s)
			delete(c.streams, e.Generation)
		}

	case DropAudio:
		observability.RecordDroppedFrame(e.Reason)
	}
	return nil
}

func (c *Conn) requestQuestion(e RequestQuestion) {
	c.ctrl.helpers.Add(1)
	go func() {
		defer c.ctrl.helpers.Done()

		text, err := c.ctrl.questions.NextQuestion(c.ctx, e.PriorAnswer)
		if err != nil {
			c.post(QuestionFailed{Number: e.Number, Err: err})
			return
		}
		c.post(QuestionReady{Number: e.Number, Text: text})
	}()
}

func (c *Conn) openTranscriber(gen uint64) {
	c.ctrl.helpers.Add(1)
	go func() {
		defer c.ctrl.helpers.Done()

		stream, err := c.ctrl.transcriber.Open(c.ctx, &connSink{conn: c, generation: gen})
		if err != nil {
			c.post(TranscriberFailed{Generation: gen, Err: err})
			return
		}
		if !c.post(streamOpened{generation: gen, stream: stream}) {
			stream.Finish()
		}
	}()
}

// reapStreams finishes every stream except the session's live handle
func (c *Conn) reapStreams(sess *Session) {
	for gen, s := range c.streams {
		if sess != nil && sess.hasTranscriber(gen) {
			continue
		}
		c.finishStream(s)
		delete(c.streams, gen)
	}
}

// finishStream closes s off the loop. Closing a provider stream waits on the
// provider's close handshake, which must not hold up the next question.
func (c *Conn) finishStream(s stt.Stream) {
	c.ctrl.helpers.Add(1)
	go func() {
		defer c.ctrl.helpers.Done()
		s.Finish()
	}()
}

func (c *Conn) logEvent(ev Event) {
	switch e := ev.(type) {
	case TranscriberFailed:
		observability.RecordError("transcriber", "interview")
		c.logger.Warn().Err(e.Err).Uint64("generation", e.Generation).Msg("Transcriber failed, waiting for new audio")
	case QuestionFailed:
		c.logger.Error().Err(e.Err).Int("question_number", e.Number).Msg("Question generation failed")
	case UtteranceEnd:
		c.logger.Debug().Uint64("generation", e.Generation).Msg("Utterance ended")
	}
}

// connSink posts transcriber callbacks to the event loop, tagged with the
// generation of the handle that produced them
type connSink struct {
	conn       *Conn
	generation uint64
}

func (s *connSink) OnFragment(f stt.Fragment) {
	s.conn.post(Fragment{Generation: s.generation, Text: f.Text, IsFinal: f.IsFinal})
}

func (s *connSink) OnUtteranceEnd() {
	s.conn.post(UtteranceEnd{Generation: s.generation})
}

func (s *connSink) OnError(err error) {
	s.conn.post(TranscriberFailed{Generation: s.generation, Err: err})
}
