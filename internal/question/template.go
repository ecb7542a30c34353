package question

import (
	"context"
	"strings"
)

const (
	openingQuestion = "Thanks for joining. Could you start by telling me about yourself and the work you have been doing recently?"
	silentFollowUp  = "Take your time. Could you tell me about a recent piece of work you are proud of?"
	genericFollowUp = "Can you walk me through a specific example of that in more detail?"
)

type templateRule struct {
	keywords []string
	question string
}

// Checked in order; the first rule with a matching keyword wins
var defaultRules = []templateRule{
	{
		keywords: []string{"project"},
		question: "What was the hardest technical decision you made on that project, and how did you reach it?",
	},
	{
		keywords: []string{"team", "colleague", "coworker"},
		question: "How did you handle disagreements within that team?",
	},
	{
		keywords: []string{"lead", "manage", "mentor"},
		question: "How did you know whether your leadership was actually working?",
	},
	{
		keywords: []string{"fail", "mistake", "wrong"},
		question: "What did you change about how you work after that experience?",
	},
	{
		keywords: []string{"customer", "client", "user"},
		question: "How did you find out what those users really needed?",
	},
}

// TemplateGenerator answers from fixed templates, branching on keywords in the
// prior answer. It needs no network and never fails.
type TemplateGenerator struct {
	rules []templateRule
}

func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{rules: defaultRules}
}

func (g *TemplateGenerator) NextQuestion(ctx context.Context, prior *string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if prior == nil {
		return openingQuestion, nil
	}

	answer := strings.ToLower(strings.TrimSpace(*prior))
	if answer == "" {
		return silentFollowUp, nil
	}

	for _, rule := range g.rules {
		for _, kw := range rule.keywords {
			if strings.Contains(answer, kw) {
				return rule.question, nil
			}
		}
	}
	return genericFollowUp, nil
}
