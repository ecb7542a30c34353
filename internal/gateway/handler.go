// Package gateway serves interview sessions over WebSocket.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/talentloop/interview-gateway/internal/config"
	"github.com/talentloop/interview-gateway/internal/interview"
	"github.com/talentloop/interview-gateway/internal/observability"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultQueueSize    = 256
)

// Handler upgrades requests to WebSocket and attaches each one to the interview controller
type Handler struct {
	ctrl     *interview.Controller
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	readLimit    int64
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	queueSize    int
}

func NewHandler(ctrl *interview.Controller, cfg *config.Config, logger zerolog.Logger) *Handler {
	h := &Handler{
		ctrl:         ctrl,
		logger:       logger.With().Str("component", "gateway").Logger(),
		readLimit:    cfg.WSReadLimit,
		pingInterval: time.Duration(cfg.WSPingInterval) * time.Second,
		pongTimeout:  time.Duration(cfg.WSPongTimeout) * time.Second,
		writeTimeout: time.Duration(cfg.WSWriteTimeout) * time.Second,
		queueSize:    cfg.WSOutboundQueue,
	}
	if h.pingInterval <= 0 {
		h.pingInterval = defaultPingInterval
	}
	if h.pongTimeout <= h.pingInterval {
		h.pongTimeout = 2 * h.pingInterval
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = defaultWriteTimeout
	}
	if h.queueSize <= 0 {
		h.queueSize = defaultQueueSize
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.WSAllowedOrigins),
	}
	return h
}

// originChecker allows any origin when allowed is empty
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		observability.RecordError("upgrade_failed", "gateway")
		return
	}

	id := uuid.NewString()
	logger := observability.ConnectionLogger(h.logger, middleware.GetReqID(r.Context()), id, r.RemoteAddr)

	c := &client{
		ws:           ws,
		logger:       logger,
		outbound:     make(chan any, h.queueSize),
		closing:      make(chan struct{}),
		pingInterval: h.pingInterval,
		pongTimeout:  h.pongTimeout,
		writeTimeout: h.writeTimeout,
	}
	c.conn = h.ctrl.Attach(id, c, logger)

	logger.Info().Msg("Interview connection accepted")
	c.serve(h.readLimit)
}

// client pumps one WebSocket. The read loop feeds the interview connection and
// a single writer drains the outbound queue in order.
type client struct {
	ws     *websocket.Conn
	conn   *interview.Conn
	logger zerolog.Logger

	outbound  chan any
	closing   chan struct{}
	closeOnce sync.Once

	disconnectOnce sync.Once

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
}

// Emit queues an outbound event. It never blocks: a participant that cannot
// keep up has its socket closed, and the read loop then disconnects it.
func (c *client) Emit(o interview.Outbound) {
	msg, ok := toWire(o)
	if !ok {
		return
	}

	select {
	case <-c.closing:
		return
	default:
	}

	select {
	case c.outbound <- msg:
	default:
		c.logger.Warn().Int("queued", len(c.outbound)).Msg("Outbound queue full, closing connection")
		observability.RecordError("outbound_overflow", "gateway")
		c.close()
	}
}

func (c *client) serve(readLimit int64) {
	observability.ConnectionOpened()
	defer observability.ConnectionClosed()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	// The controller may tear the session down first, e.g. on shutdown
	go func() {
		select {
		case <-c.conn.Done():
			c.close()
		case <-c.closing:
		}
	}()

	c.readLoop(readLimit)

	c.disconnect()
	c.close()
	<-writerDone

	c.logger.Info().Msg("Interview connection closed")
}

func (c *client) readLoop(readLimit int64) {
	if readLimit > 0 {
		c.ws.SetReadLimit(readLimit)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			} else {
				c.logger.Debug().Err(err).Msg("WebSocket closed")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))

		switch kind {
		case websocket.BinaryMessage:
			c.conn.Audio(data)
		case websocket.TextMessage:
			if !c.handleText(data) {
				return
			}
		}
	}
}

// handleText applies one JSON frame and reports whether to keep reading
func (c *client) handleText(data []byte) bool {
	msg, err := parseClientMessage(data)
	if err != nil {
		c.rejectFrame(err)
		return true
	}

	switch msg.Event {
	case EventJoin:
		c.conn.Join(msg.ApplicationID)
	case EventStart:
		c.conn.Start()
	case EventAudio:
		audio, err := decodeAudio(msg)
		if err != nil {
			c.rejectFrame(err)
			return true
		}
		c.conn.Audio(audio)
	case EventDisconnect:
		c.logger.Debug().Msg("Participant requested disconnect")
		return false
	}
	return true
}

func (c *client) rejectFrame(err error) {
	c.logger.Debug().Err(err).Msg("Rejected inbound frame")
	observability.RecordError(CodeBadMessage, "gateway")
	c.Emit(interview.Diagnostic{Code: CodeBadMessage, Message: err.Error()})
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closing:
			return

		case msg := <-c.outbound:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.logger.Warn().Err(err).Msg("WebSocket write error")
				c.close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("Ping failed")
				c.close()
				return
			}
		}
	}
}

// disconnect tears down the interview session exactly once
func (c *client) disconnect() {
	c.disconnectOnce.Do(c.conn.Disconnect)
}

// close stops the writer and the socket. The read loop sees the closed
// socket and returns.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closing)
		_ = c.ws.Close()
	})
}
