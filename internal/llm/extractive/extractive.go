// Package extractive is an offline completion capability. It answers by
// extracting the most relevant sentences from the passages embedded in the
// prompt, and rewrites follow-ups by appending salient history terms.
package extractive

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strings"
)

// InsufficientAnswer is returned when the prompt carries no passages.
const InsufficientAnswer = "I don't have enough information in the available documents to answer that."

// rewriteOpening starts every query rewrite prompt. Only the opening is
// checked since the rest of the prompt carries user text.
const rewriteOpening = "Based on the chat history and question below, generate a search query"

// Completer ranks sentences by word frequency (stopwords filtered), boosted
// by overlap with the question.
type Completer struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
	maxSentences    int
	maxTerms        int
}

// New creates an extractive completer returning at most maxSentences
// sentences per answer.
func New(maxSentences int) *Completer {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Completer{
		tokenPattern:    regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`),
		sentencePattern: regexp.MustCompile(`(?m)(?:\d\.\d|[^.!?\n])+(?:[.!?]+|$)`),
		stopwords:       defaultStopwords(),
		maxSentences:    maxSentences,
		maxTerms:        5,
	}
}

// Complete ignores model; the output depends only on prompt.
func (c *Completer) Complete(ctx context.Context, _ string, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	question := section(prompt, "question")
	if strings.HasPrefix(prompt, rewriteOpening) {
		return c.rewrite(section(prompt, "chat_history"), question), nil
	}
	return c.answer(section(prompt, "context"), question)
}

func (c *Completer) rewrite(history, question string) string {
	have := map[string]struct{}{}
	for _, tok := range c.tokens(question) {
		have[tok] = struct{}{}
	}
	var userLines []string
	for _, line := range strings.Split(history, "\n") {
		if rest, ok := strings.CutPrefix(line, "user: "); ok {
			userLines = append(userLines, rest)
		}
	}
	terms := c.rankTerms(strings.Join(userLines, " "), have)
	if len(terms) > c.maxTerms {
		terms = terms[:c.maxTerms]
	}
	return strings.TrimSpace(strings.Join(append([]string{question}, terms...), " "))
}

type passage struct {
	Chunk string `json:"chunk"`
}

func (c *Completer) answer(contextText, question string) (string, error) {
	contextText = strings.TrimSpace(contextText)
	if contextText == "" {
		return InsufficientAnswer, nil
	}
	var passages []passage
	if err := json.Unmarshal([]byte(contextText), &passages); err != nil {
		// Not JSON: summarize the raw text.
		passages = []passage{{Chunk: contextText}}
	}
	var text strings.Builder
	for _, p := range passages {
		text.WriteString(p.Chunk)
		text.WriteByte('\n')
	}
	out := c.summarize(text.String(), question)
	if out == "" {
		return InsufficientAnswer, nil
	}
	return out, nil
}

// summarize returns the top sentences of text in their original order.
func (c *Completer) summarize(text, question string) string {
	var sentences []string
	for _, s := range c.sentencePattern.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return ""
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range c.tokens(sent) {
			if _, ok := c.stopwords[tok]; ok {
				continue
			}
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	asked := map[string]struct{}{}
	for _, tok := range c.tokens(question) {
		if _, ok := c.stopwords[tok]; !ok {
			asked[tok] = struct{}{}
		}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, sent := range sentences {
		toks := c.tokens(sent)
		score := 0.0
		for _, tok := range toks {
			score += freq[tok]
			if _, ok := asked[tok]; ok {
				score += 1
			}
		}
		if l := float64(len(toks)); l > 0 {
			score /= math.Sqrt(l)
		}
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	n := min(c.maxSentences, len(scores))
	selected := make([]int, n)
	for i := 0; i < n; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, n)
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " ")
}

// rankTerms returns non-stopword terms of text that are not in skip, most
// frequent first, ties in order of first appearance.
func (c *Completer) rankTerms(text string, skip map[string]struct{}) []string {
	count := map[string]int{}
	var order []string
	for _, tok := range c.tokens(text) {
		if _, ok := c.stopwords[tok]; ok {
			continue
		}
		if _, ok := skip[tok]; ok {
			continue
		}
		if count[tok] == 0 {
			order = append(order, tok)
		}
		count[tok]++
	}
	sort.SliceStable(order, func(i, j int) bool { return count[order[i]] > count[order[j]] })
	return order
}

func (c *Completer) tokens(text string) []string {
	return c.tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// section returns the text between "<tag>" and "</tag>" lines.
func section(prompt, tag string) string {
	open := "\n<" + tag + ">\n"
	i := strings.Index(prompt, open)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(open):]
	j := strings.Index(rest, "</"+tag+">")
	if j < 0 {
		return ""
	}
	return strings.TrimSuffix(rest[:j], "\n")
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "how", "why", "when", "where", "did", "do", "does", "has", "have", "had", "its", "their", "there", "they", "we", "you", "i", "me", "my", "our", "tell", "more",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
