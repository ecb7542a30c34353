package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/talentloop/interview-gateway/internal/config"
	"github.com/talentloop/interview-gateway/internal/interview"
	"github.com/talentloop/interview-gateway/internal/observability"
	"github.com/talentloop/interview-gateway/internal/stt"
)

const waitTimeout = 2 * time.Second

type fakeStream struct {
	mu   sync.Mutex
	sent [][]byte
}

func (s *fakeStream) Send(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, audio)
	return nil
}

func (s *fakeStream) Ready() bool { return true }

func (s *fakeStream) Finish() {}

func (s *fakeStream) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

type fakeProvider struct {
	mu      sync.Mutex
	streams []*fakeStream
	sinks   []stt.Sink
}

func (p *fakeProvider) Open(ctx context.Context, sink stt.Sink) (stt.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeStream{}
	p.streams = append(p.streams, s)
	p.sinks = append(p.sinks, sink)
	return s, nil
}

// latest returns the newest stream and its sink once it has received audio
func (p *fakeProvider) latest(n int) (*fakeStream, stt.Sink, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) <= n {
		return nil, nil, false
	}
	s := p.streams[n]
	return s, p.sinks[n], len(s.received()) > 0
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *fakeGenerator) NextQuestion(ctx context.Context, prior *string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return fmt.Sprintf("Q%d", g.calls), nil
}

type testServer struct {
	provider *fakeProvider
	ctrl     *interview.Controller
	server   *httptest.Server
}

func testConfig() *config.Config {
	return &config.Config{
		WSReadLimit:     1 << 16,
		WSPingInterval:  1,
		WSPongTimeout:   5,
		WSWriteTimeout:  2,
		WSOutboundQueue: 64,
		MetricsEnabled:  true,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	ts := &testServer{provider: &fakeProvider{}}
	ts.ctrl = interview.NewController(interview.NewStore(), ts.provider, &fakeGenerator{}, zerolog.Nop())

	handler := NewHandler(ts.ctrl, cfg, zerolog.Nop())
	ts.server = httptest.NewServer(NewRouter(handler, RouterOptions{MetricsEnabled: cfg.MetricsEnabled}, zerolog.Nop()))

	t.Cleanup(func() {
		ts.ctrl.Close()
		ts.server.Close()
	})
	return ts
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + WebSocketPath
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
}

// frame is the union of every outbound field
type frame struct {
	Event          string `json:"event"`
	Text           string `json:"text"`
	Question       string `json:"question"`
	QuestionNumber int    `json:"questionNumber"`
	Reason         string `json:"reason"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(waitTimeout))
	var f frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return f
}

// speak sends binary audio until stream n has been opened and received a frame
func (ts *testServer) speak(t *testing.T, ws *websocket.Conn, n int) stt.Sink {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if err := ws.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
			t.Fatalf("WriteMessage failed: %v", err)
		}
		if _, sink, ok := ts.provider.latest(n); ok {
			return sink
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for transcriber %d", n)
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandler_FullInterview(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ws := ts.dial(t)

	sendJSON(t, ws, ClientMessage{Event: EventJoin, ApplicationID: "app-1"})
	sendJSON(t, ws, ClientMessage{Event: EventStart})

	f := readFrame(t, ws)
	if f.Event != EventNewQuestion || f.Question != "Q1" || f.QuestionNumber != 1 {
		t.Fatalf("Expected first question, got %+v", f)
	}

	for cycle := 1; cycle <= interview.MaxQuestions; cycle++ {
		sink := ts.speak(t, ws, cycle-1)
		sink.OnFragment(stt.Fragment{Text: "I led a team", IsFinal: true})

		f = readFrame(t, ws)
		if f.Event != EventLiveTranscript || f.Text != "I led a team" {
			t.Fatalf("cycle %d: expected live transcript, got %+v", cycle, f)
		}

		sink.OnUtteranceEnd()
		f = readFrame(t, ws)
		if cycle < interview.MaxQuestions {
			if f.Event != EventNewQuestion || f.QuestionNumber != cycle+1 {
				t.Fatalf("cycle %d: expected question %d, got %+v", cycle, cycle+1, f)
			}
			continue
		}
		if f.Event != EventInterviewFinished || f.Reason != "" {
			t.Fatalf("Expected interview finished without reason, got %+v", f)
		}
	}

	waitFor(t, "session removed", func() bool { return ts.ctrl.Store().Len() == 0 })
}

func TestHandler_BadMessageKeepsConnection(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ws := ts.dial(t)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	f := readFrame(t, ws)
	if f.Event != EventError || f.Code != CodeBadMessage {
		t.Fatalf("Expected bad_message error, got %+v", f)
	}

	sendJSON(t, ws, ClientMessage{Event: EventJoin})
	f = readFrame(t, ws)
	if f.Code != CodeBadMessage || !strings.Contains(f.Message, "applicationId") {
		t.Fatalf("Expected missing applicationId error, got %+v", f)
	}

	sendJSON(t, ws, ClientMessage{Event: EventJoin, ApplicationID: "app-1"})
	sendJSON(t, ws, ClientMessage{Event: EventStart})
	f = readFrame(t, ws)
	if f.Event != EventNewQuestion || f.QuestionNumber != 1 {
		t.Fatalf("Expected first question after recovering, got %+v", f)
	}
}

func TestHandler_ProtocolDiagnostics(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ws := ts.dial(t)

	sendJSON(t, ws, ClientMessage{Event: EventJoin, ApplicationID: "app-1"})
	sendJSON(t, ws, ClientMessage{Event: EventJoin, ApplicationID: "app-2"})

	f := readFrame(t, ws)
	if f.Event != EventError || f.Code != interview.CodeAlreadyJoined {
		t.Fatalf("Expected already_joined, got %+v", f)
	}

	sendJSON(t, ws, ClientMessage{Event: EventStart})
	f = readFrame(t, ws)
	if f.Event != EventNewQuestion || f.QuestionNumber != 1 {
		t.Fatalf("Expected the original session to start, got %+v", f)
	}

	sendJSON(t, ws, ClientMessage{Event: EventStart})
	f = readFrame(t, ws)
	if f.Event != EventError || f.Code != interview.CodeInvalidState {
		t.Fatalf("Expected invalid_state for a second start, got %+v", f)
	}
	if n := ts.ctrl.Store().Len(); n != 1 {
		t.Errorf("Expected one session, got %d", n)
	}
}

func TestHandler_Base64Audio(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ws := ts.dial(t)

	sendJSON(t, ws, ClientMessage{Event: EventJoin, ApplicationID: "app-1"})
	sendJSON(t, ws, ClientMessage{Event: EventStart})
	readFrame(t, ws)

	payload := base64.StdEncoding.EncodeToString([]byte("pcm"))
	waitFor(t, "audio delivered", func() bool {
		sendJSON(t, ws, ClientMessage{Event: EventAudio, Payload: payload})
		s, _, ok := ts.provider.latest(0)
		return ok && string(s.received()[0]) == "pcm"
	})

	sendJSON(t, ws, ClientMessage{Event: EventAudio, Payload: "***"})
	f := readFrame(t, ws)
	if f.Event != EventError || f.Code != CodeBadMessage {
		t.Fatalf("Expected bad_message for invalid base64, got %+v", f)
	}
}

func TestHandler_DisconnectEventClosesSocket(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ws := ts.dial(t)

	sendJSON(t, ws, ClientMessage{Event: EventJoin, ApplicationID: "app-1"})
	waitFor(t, "session stored", func() bool { return ts.ctrl.Store().Len() == 1 })

	sendJSON(t, ws, ClientMessage{Event: EventDisconnect})
	waitFor(t, "session removed", func() bool { return ts.ctrl.Store().Len() == 0 })

	_ = ws.SetReadDeadline(time.Now().Add(waitTimeout))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("Expected the server to close the socket")
	}
	waitFor(t, "connection detached", func() bool { return ts.ctrl.ActiveConnections() == 0 })
}

func TestHandler_ClientCloseRemovesSession(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ws := ts.dial(t)

	sendJSON(t, ws, ClientMessage{Event: EventJoin, ApplicationID: "app-1"})
	sendJSON(t, ws, ClientMessage{Event: EventStart})
	readFrame(t, ws)
	ts.speak(t, ws, 0)

	ws.Close()
	waitFor(t, "session removed", func() bool { return ts.ctrl.Store().Len() == 0 })
	waitFor(t, "connection detached", func() bool { return ts.ctrl.ActiveConnections() == 0 })
}

func TestHandler_ControllerCloseClosesSocket(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ws := ts.dial(t)

	sendJSON(t, ws, ClientMessage{Event: EventJoin, ApplicationID: "app-1"})
	waitFor(t, "session stored", func() bool { return ts.ctrl.Store().Len() == 1 })

	ts.ctrl.Close()

	_ = ws.SetReadDeadline(time.Now().Add(waitTimeout))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("Expected the socket to close after shutdown")
	}
}

func TestHandler_RejectsDisallowedOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.WSAllowedOrigins = []string{"https://talentloop.example"}
	ts := newTestServer(t, cfg)

	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + WebSocketPath
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("Expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("Expected 403, got %v", resp)
	}

	header.Set("Origin", "https://talentloop.example")
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Expected allowed origin to connect: %v", err)
	}
	resp.Body.Close()
	ws.Close()
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, testConfig())

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		resp, err := http.Get(ts.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestRouter_ReadyReportsUnhealthyDependency(t *testing.T) {
	ctrl := interview.NewController(interview.NewStore(), &fakeProvider{}, &fakeGenerator{}, zerolog.Nop())
	t.Cleanup(ctrl.Close)

	checks := []observability.HealthCheck{{
		Name:  "question_generator",
		Check: func(ctx context.Context) error { return fmt.Errorf("circuit open") },
	}}
	router := NewRouter(NewHandler(ctrl, testConfig(), zerolog.Nop()), RouterOptions{ReadyChecks: checks}, zerolog.Nop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}

	var status observability.HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if status.Dependencies["question_generator"].Status == "healthy" {
		t.Errorf("Expected unhealthy dependency, got %+v", status.Dependencies)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected /metrics to be absent when disabled, got %d", rec.Code)
	}
}

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"join", `{"event":"join","applicationId":"a"}`, false},
		{"join without application", `{"event":"join"}`, true},
		{"start", `{"event":"start"}`, false},
		{"disconnect", `{"event":"disconnect"}`, false},
		{"audio", `{"event":"audio","payload":"AQI="}`, false},
		{"audio without payload", `{"event":"audio"}`, true},
		{"missing event", `{}`, true},
		{"unknown event", `{"event":"dance"}`, true},
		{"not json", `nope`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseClientMessage([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("parseClientMessage(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestToWire(t *testing.T) {
	msg, ok := toWire(interview.InterviewFinished{})
	if !ok {
		t.Fatal("Expected interview finished to map to a frame")
	}
	data, _ := json.Marshal(msg)
	if string(data) != `{"event":"interview-finished"}` {
		t.Errorf("Unexpected frame %s", data)
	}

	msg, _ = toWire(interview.NewQuestion{Question: "Why?", Number: 2})
	data, _ = json.Marshal(msg)
	if string(data) != `{"event":"new-question","question":"Why?","questionNumber":2}` {
		t.Errorf("Unexpected frame %s", data)
	}
}
