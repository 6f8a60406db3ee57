package judge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"text/template"

	"github.com/tiktoken-go/tokenizer"
)

// Doc is the text of one post or query as the judge sees it.
type Doc struct {
	ID      int64
	Title   string
	Summary string
	Body    string
}

// maxDocTokens bounds each document's contribution to a prompt so a
// batch of 20 stays well inside the model's context window.
const maxDocTokens = 400

const rubric = `Score each pair from 0 to 100:
0-39 = not relevant, 40-59 = marginally relevant, 60-79 = relevant, 80-100 = highly relevant.`

// rankPromptTemplate scores N candidate posts against one query.
var rankPromptTemplate = template.Must(template.New("rank").Parse(`You are a relevance judge for a social feed.

A user has the standing interest below. Score how relevant each candidate post is to that interest.

INTEREST:
{{.Query}}

CANDIDATE POSTS:
{{range .Docs}}[{{.ID}}]
{{.Text}}

{{end}}` + rubric + `

Reply with ONLY a JSON array, one element per candidate, like:
[{"id": 123, "score": 85}, {"id": 456, "score": 10}]`))

// evaluatePromptTemplate scores N queries against one post.
var evaluatePromptTemplate = template.Must(template.New("evaluate").Parse(`You are a relevance judge for a social feed.

A new post has been published. Score how relevant it is to each of the standing interests below.

POST:
{{.Post}}

INTERESTS:
{{range .Docs}}[{{.ID}}]
{{.Text}}

{{end}}` + rubric + `

Reply with ONLY a JSON array, one element per interest, like:
[{"id": 123, "score": 85}, {"id": 456, "score": 10}]`))

type promptDoc struct {
	ID   int64
	Text string
}

// enc is shared; Codec is safe for concurrent use.
var enc, encErr = tokenizer.Get(tokenizer.Cl100kBase)

// docText renders a document in the fixed title/summary/body order,
// truncated to the per-document token budget.
func docText(d Doc) string {
	parts := make([]string, 0, 3)
	if t := strings.TrimSpace(d.Title); t != "" {
		parts = append(parts, t)
	}
	if s := strings.TrimSpace(d.Summary); s != "" {
		parts = append(parts, s)
	}
	if b := strings.TrimSpace(d.Body); b != "" {
		parts = append(parts, b)
	}
	return truncateTokens(strings.Join(parts, "\n"))
}

func truncateTokens(text string) string {
	if encErr != nil {
		// Tokenizer unavailable; fall back to a crude byte bound.
		if len(text) > maxDocTokens*4 {
			return text[:maxDocTokens*4]
		}
		return text
	}
	ids, _, err := enc.Encode(text)
	if err != nil || len(ids) <= maxDocTokens {
		return text
	}
	out, err := enc.Decode(ids[:maxDocTokens])
	if err != nil {
		return text
	}
	return out
}

func renderRankPrompt(query Doc, candidates []Doc) (string, error) {
	docs := make([]promptDoc, len(candidates))
	for i, c := range candidates {
		docs[i] = promptDoc{ID: c.ID, Text: docText(c)}
	}
	var sb strings.Builder
	err := rankPromptTemplate.Execute(&sb, struct {
		Query string
		Docs  []promptDoc
	}{Query: docText(query), Docs: docs})
	if err != nil {
		return "", fmt.Errorf("render rank prompt: %w", err)
	}
	return sb.String(), nil
}

func renderEvaluatePrompt(queries []Doc, post Doc) (string, error) {
	docs := make([]promptDoc, len(queries))
	for i, q := range queries {
		docs[i] = promptDoc{ID: q.ID, Text: docText(q)}
	}
	var sb strings.Builder
	err := evaluatePromptTemplate.Execute(&sb, struct {
		Post string
		Docs []promptDoc
	}{Post: docText(post), Docs: docs})
	if err != nil {
		return "", fmt.Errorf("render evaluate prompt: %w", err)
	}
	return sb.String(), nil
}

// promptHash is the cache key: sha256 over the exact prompt bytes.
func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
