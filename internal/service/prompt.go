package service

import (
	"encoding/json"
	"strings"
	"text/template"

	"ragchat/internal/domain"
)

var rewriteTmpl = template.Must(template.New("rewrite").Parse(
	`Based on the chat history and question below, generate a search query that combines both contexts.
Focus on financial terms and metrics. Return only the query, no explanations.

<chat_history>
{{.History}}
</chat_history>
<question>
{{.Question}}
</question>
`))

var answerTmpl = template.Must(template.New("answer").Parse(
	`{{.Persona}}
Use the CONTEXT between <context> and </context> tags to answer questions.
Consider the CHAT HISTORY between <chat_history> and </chat_history> tags for context.
When answering the question between <question> and </question> tags:
- Be precise and data-driven
- Use specific numbers and metrics when available
- Don't mention that you're using any context or documents
- Only answer based on the provided context
- If you don't have enough information, say so clearly

<chat_history>
{{.History}}
</chat_history>
<context>
{{.Context}}
</context>
<question>
{{.Question}}
</question>
Answer:
`))

// RenderHistory writes one "role: content" line per turn.
func RenderHistory(turns []domain.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

// RenderPassages serializes passages as an indented JSON array, or the empty
// string when there are none.
func RenderPassages(passages []domain.Passage) (string, error) {
	if len(passages) == 0 {
		return "", nil
	}
	data, err := json.MarshalIndent(passages, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func buildRewritePrompt(history []domain.Turn, question string) (string, error) {
	var b strings.Builder
	err := rewriteTmpl.Execute(&b, struct{ History, Question string }{RenderHistory(history), question})
	return b.String(), err
}

func buildAnswerPrompt(persona string, history []domain.Turn, passages []domain.Passage, question string) (string, error) {
	context, err := RenderPassages(passages)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	err = answerTmpl.Execute(&b, struct{ Persona, History, Context, Question string }{
		Persona:  persona,
		History:  RenderHistory(history),
		Context:  context,
		Question: question,
	})
	return b.String(), err
}
