package question

import (
	"fmt"
	"strings"
)

const systemInstruction = `You are a friendly, professional job interviewer running a short spoken interview.
Ask exactly one question at a time. Reply with the question only: no preamble, no numbering, no quotes.
Keep each question under 40 words so it can be read aloud comfortably.`

const maxAnswerChars = 4000

// BuildPrompt returns the user prompt for the next question. Only the most
// recent answer is included.
func BuildPrompt(prior *string) string {
	if prior == nil {
		return "Start the interview. Ask a warm opening question that invites the candidate to introduce themselves and their recent work."
	}

	answer := strings.TrimSpace(*prior)
	if answer == "" {
		return "The candidate did not say anything intelligible. Ask a gentle question that helps them get started again."
	}
	if len(answer) > maxAnswerChars {
		answer = answer[:maxAnswerChars]
	}

	return fmt.Sprintf(
		"The candidate just answered:\n\n%s\n\nAsk one follow-up question that digs deeper into something specific they said.",
		answer,
	)
}
