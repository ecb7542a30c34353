package interview

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/talentloop/interview-gateway/internal/question"
	"github.com/talentloop/interview-gateway/internal/stt"
)

const defaultEventBuffer = 256

// Outbox delivers outbound events to one participant, in call order
type Outbox interface {
	Emit(Outbound)
}

// OutboxFunc adapts a function to Outbox
type OutboxFunc func(Outbound)

func (f OutboxFunc) Emit(o Outbound) { f(o) }

// Controller owns the session store and the live connections
type Controller struct {
	store       *Store
	transcriber stt.Provider
	questions   question.Generator
	logger      zerolog.Logger
	eventBuffer int

	mu      sync.Mutex
	conns   map[string]*Conn
	helpers sync.WaitGroup
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

// WithEventBuffer sets the per-connection event queue length
func WithEventBuffer(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.eventBuffer = n
		}
	}
}

func NewController(store *Store, transcriber stt.Provider, questions question.Generator, logger zerolog.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:       store,
		transcriber: transcriber,
		questions:   questions,
		logger:      logger.With().Str("component", "interview").Logger(),
		eventBuffer: defaultEventBuffer,
		conns:       make(map[string]*Conn),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Attach starts the runtime for a new connection. id must be unique.
func (c *Controller) Attach(id string, out Outbox, logger zerolog.Logger) *Conn {
	conn := newConn(c, id, out, logger)

	c.mu.Lock()
	c.conns[id] = conn
	c.mu.Unlock()

	go conn.run()
	return conn
}

func (c *Controller) detach(id string) {
	c.mu.Lock()
	delete(c.conns, id)
	c.mu.Unlock()
}

// Store returns the session store
func (c *Controller) Store() *Store {
	return c.store
}

// ActiveConnections returns the number of attached connections
func (c *Controller) ActiveConnections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Close disconnects every connection and waits for in-flight helpers
func (c *Controller) Close() {
	c.mu.Lock()
	conns := make([]*Conn, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		conn.Disconnect()
	}
	c.helpers.Wait()

	c.logger.Info().Int("connections", len(conns)).Msg("Interview controller closed")
}
