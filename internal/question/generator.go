// Package question produces interview questions. A Generator is stateless
// across turns: the opening question takes no answer, every follow-up sees
// only the most recent finalized answer.
package question

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyQuestion is returned when a backend produced no usable question text
var ErrEmptyQuestion = errors.New("question: generator returned an empty question")

// Generator returns the next question. A nil prior asks for the opening question.
type Generator interface {
	NextQuestion(ctx context.Context, prior *string) (string, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, prior *string) (string, error)

func (f GeneratorFunc) NextQuestion(ctx context.Context, prior *string) (string, error) {
	return f(ctx, prior)
}

// HealthChecker is implemented by generators backed by a remote dependency
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// cleanQuestion strips the wrapping models like to add around a single question
func cleanQuestion(raw string) string {
	q := strings.TrimSpace(raw)

	// Models sometimes answer with several lines; keep the first non-empty one
	if idx := strings.IndexByte(q, '\n'); idx >= 0 {
		for _, line := range strings.Split(q, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				q = line
				break
			}
		}
	}

	for _, prefix := range []string{"Question:", "question:", "Q:"} {
		q = strings.TrimSpace(strings.TrimPrefix(q, prefix))
	}
	q = strings.Trim(q, "\"'`*")
	return strings.TrimSpace(q)
}
