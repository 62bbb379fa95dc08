package chat

import (
	"fmt"
	"strings"

	"github.com/pberga/coursemind/vectorindex"
)

const noContextAnswer = "I couldn't find any relevant information in your uploaded documents. " +
	"Please make sure you've uploaded course materials related to your question."

const apologyAnswer = "I apologize, but I encountered a problem while processing your question. Please try again."

const generalChatFallback = "Sorry, I'm having technical difficulties. Please try again later."

const tutorPersona = `You are an AI tutor for a learning platform.
Your role is to:
- Answer student questions clearly and in an educational manner
- Explain concepts step by step
- Provide examples when helpful
- Be encouraging and supportive
- Keep responses focused and not too long

If you don't know something, say so honestly and suggest where to find the answer.`

// buildContext concatenates matched chunks in descending similarity order,
// each prefixed by its source filename.
func buildContext(matches []vectorindex.Match) string {
	parts := make([]string, 0, len(matches))
	for _, match := range matches {
		parts = append(parts, fmt.Sprintf("From %s:\n%s", match.Metadata.Filename, match.Metadata.Text))
	}
	return strings.Join(parts, "\n\n")
}

func buildAnswerPrompt(question, context string) string {
	return fmt.Sprintf(`Based on the following course materials, please answer the student's question comprehensively and accurately.

COURSE MATERIALS:
%s

STUDENT QUESTION: %s

INSTRUCTIONS:
- Answer based primarily on the provided course materials
- If the materials don't fully address the question, clearly state what's missing
- Provide examples from the materials when possible
- Keep the answer educational and helpful
- If asked about topics not covered in the materials, suggest what additional resources might be needed

ANSWER:`, context, question)
}
