package question

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/genai"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ---- Gemini ----

type fakeModels struct {
	prompt string
	config *genai.GenerateContentConfig
	resp   *genai.GenerateContentResponse
	err    error
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	for _, c := range contents {
		for _, p := range c.Parts {
			f.prompt += p.Text
		}
	}
	f.config = config
	return f.resp, f.err
}

func geminiResponse(texts ...string) *genai.GenerateContentResponse {
	parts := make([]*genai.Part, 0, len(texts))
	for _, text := range texts {
		parts = append(parts, &genai.Part{Text: text})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestGeminiGenerator(t *testing.T) {
	models := &fakeModels{resp: geminiResponse("Question: What was the hardest bug you fixed?")}
	gen := &GeminiGenerator{models: models, modelName: "gemini-test"}

	q, err := gen.NextQuestion(context.Background(), strPtr("I fixed a race in our scheduler."))
	if err != nil {
		t.Fatalf("NextQuestion failed: %v", err)
	}
	if q != "What was the hardest bug you fixed?" {
		t.Errorf("Unexpected question %q", q)
	}
	if !strings.Contains(models.prompt, "I fixed a race in our scheduler.") {
		t.Errorf("Expected prompt to contain the answer, got %q", models.prompt)
	}
	if models.config == nil || models.config.SystemInstruction == nil {
		t.Error("Expected a system instruction")
	}
}

func TestGeminiGenerator_EmptyAndError(t *testing.T) {
	gen := &GeminiGenerator{models: &fakeModels{resp: geminiResponse("  ")}, modelName: "gemini-test"}
	if _, err := gen.NextQuestion(context.Background(), nil); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("Expected ErrEmptyQuestion, got %v", err)
	}

	apiErr := genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}
	gen = &GeminiGenerator{models: &fakeModels{err: apiErr}, modelName: "gemini-test"}
	_, err := gen.NextQuestion(context.Background(), nil)
	if err == nil || !isRetryable(err) {
		t.Errorf("Expected a retryable error, got %v", err)
	}
}

func TestNewGeminiGenerator_RequiresKey(t *testing.T) {
	if _, err := NewGeminiGenerator(context.Background(), "  ", ""); err == nil {
		t.Error("Expected error for empty API key")
	}
}

// ---- OpenAI ----

func TestOpenAIGenerator(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "How did you measure success?"}}]
		}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator("sk-test", "gpt-test", srv.URL+"/", 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenAIGenerator failed: %v", err)
	}

	q, err := gen.NextQuestion(context.Background(), strPtr("We launched the new checkout."))
	if err != nil {
		t.Fatalf("NextQuestion failed: %v", err)
	}
	if q != "How did you measure success?" {
		t.Errorf("Unexpected question %q", q)
	}

	if gotBody["model"] != "gpt-test" {
		t.Errorf("Expected model gpt-test, got %v", gotBody["model"])
	}
	messages, _ := gotBody["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("Expected system and user messages, got %v", gotBody["messages"])
	}
	raw, _ := json.Marshal(messages[1])
	if !strings.Contains(string(raw), "We launched the new checkout.") {
		t.Errorf("Expected user message to carry the answer, got %s", raw)
	}
}

func TestOpenAIGenerator_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator("sk-test", "gpt-test", srv.URL+"/", 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenAIGenerator failed: %v", err)
	}

	_, err = gen.NextQuestion(context.Background(), nil)
	if err == nil {
		t.Fatal("Expected error")
	}
	if !isRetryable(err) {
		t.Errorf("Expected 503 to be retryable, got %v", err)
	}
}

// ---- gRPC ----

type questionServer interface {
	NextQuestion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type fakeQuestionService struct {
	last *structpb.Struct
	fail error
}

func (s *fakeQuestionService) NextQuestion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.last = req
	if s.fail != nil {
		return nil, s.fail
	}
	if req.GetFields()["opening"].GetBoolValue() {
		return structpb.NewStruct(map[string]any{"question": "Tell me about yourself."})
	}
	return structpb.NewStruct(map[string]any{"question": "Why " + req.GetFields()["prior_answer"].GetStringValue() + "?"})
}

var questionServiceDesc = grpc.ServiceDesc{
	ServiceName: QuestionServiceName,
	HandlerType: (*questionServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "NextQuestion",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(questionServer).NextQuestion(ctx, in)
		},
	}},
	Streams: []grpc.StreamDesc{},
}

func startQuestionService(t *testing.T, svc *fakeQuestionService, servingStatus healthpb.HealthCheckResponse_ServingStatus) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := grpc.NewServer()
	srv.RegisterService(&questionServiceDesc, svc)

	hs := health.NewServer()
	hs.SetServingStatus(QuestionServiceName, servingStatus)
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return lis.Addr().String()
}

func TestRemoteGenerator(t *testing.T) {
	svc := &fakeQuestionService{}
	addr := startQuestionService(t, svc, healthpb.HealthCheckResponse_SERVING)

	gen, err := NewRemoteGenerator(addr, false)
	if err != nil {
		t.Fatalf("NewRemoteGenerator failed: %v", err)
	}
	defer gen.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q, err := gen.NextQuestion(ctx, nil)
	if err != nil {
		t.Fatalf("opening NextQuestion failed: %v", err)
	}
	if q != "Tell me about yourself." {
		t.Errorf("Unexpected opening question %q", q)
	}
	if _, ok := svc.last.GetFields()["prior_answer"]; ok {
		t.Error("Expected no prior answer on the opening request")
	}

	q, err = gen.NextQuestion(ctx, strPtr("testing"))
	if err != nil {
		t.Fatalf("follow-up NextQuestion failed: %v", err)
	}
	if q != "Why testing?" {
		t.Errorf("Unexpected follow-up %q", q)
	}

	if err := gen.HealthCheck(ctx); err != nil {
		t.Errorf("Expected healthy service, got %v", err)
	}
}

func TestRemoteGenerator_Errors(t *testing.T) {
	svc := &fakeQuestionService{fail: status.Error(codes.Unavailable, "model warming up")}
	addr := startQuestionService(t, svc, healthpb.HealthCheckResponse_NOT_SERVING)

	gen, err := NewRemoteGenerator(addr, false)
	if err != nil {
		t.Fatalf("NewRemoteGenerator failed: %v", err)
	}
	defer gen.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = gen.NextQuestion(ctx, nil)
	if status.Code(err) != codes.Unavailable {
		t.Errorf("Expected Unavailable, got %v", err)
	}
	if !isRetryable(err) {
		t.Error("Expected Unavailable to be retryable")
	}

	if err := gen.HealthCheck(ctx); err == nil {
		t.Error("Expected NOT_SERVING to fail the health check")
	}
}

func TestNewRemoteGenerator_RequiresTarget(t *testing.T) {
	if _, err := NewRemoteGenerator(" ", false); err == nil {
		t.Error("Expected error for empty target")
	}
}
