package question

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// NextQuestionMethod is the unary method served by the question service.
	// Request: {"prior_answer": string, "opening": bool}. Response: {"question": string}.
	NextQuestionMethod = "/interview.v1.QuestionService/NextQuestion"

	// QuestionServiceName is the name reported to the gRPC health service
	QuestionServiceName = "interview.v1.QuestionService"
)

// RemoteGenerator delegates question generation to a gRPC question service
type RemoteGenerator struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	target string
}

// NewRemoteGenerator creates a client for target. The connection is established lazily.
func NewRemoteGenerator(target string, tlsEnabled bool) (*RemoteGenerator, error) {
	if strings.TrimSpace(target) == "" {
		return nil, errors.New("question service URL is required")
	}

	var opts []grpc.DialOption

	if tlsEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}))

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create question service client for %s: %w", target, err)
	}

	return &RemoteGenerator{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		target: target,
	}, nil
}

func (r *RemoteGenerator) NextQuestion(ctx context.Context, prior *string) (string, error) {
	fields := map[string]any{"opening": prior == nil}
	if prior != nil {
		fields["prior_answer"] = *prior
	}

	req, err := structpb.NewStruct(fields)
	if err != nil {
		return "", fmt.Errorf("build question request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, NextQuestionMethod, req, resp); err != nil {
		return "", fmt.Errorf("question service call failed: %w", err)
	}

	question := cleanQuestion(resp.GetFields()["question"].GetStringValue())
	if question == "" {
		return "", ErrEmptyQuestion
	}
	return question, nil
}

// HealthCheck asks the standard gRPC health service for the question service status
func (r *RemoteGenerator) HealthCheck(ctx context.Context) error {
	resp, err := r.health.Check(ctx, &healthpb.HealthCheckRequest{Service: QuestionServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("question service status %s", resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection
func (r *RemoteGenerator) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// isRetryableStatus reports gRPC codes worth another attempt
func isRetryableStatus(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
		return true
	default:
		return false
	}
}
