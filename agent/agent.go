// Package agent answers questions against a namespace. Retrieval and answer
// generation sit behind interfaces; the implementations here are local
// stand-ins that do keyword matching and templated answers.
package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stevemurr/knowledge-vault/store"
)

// Retriever returns up to topK snippets of namespace relevant to query,
// best first.
type Retriever interface {
	EmbedAndRetrieve(ctx context.Context, namespace, query string, topK int) ([]string, error)
}

// Generator writes an answer to question from the retrieved context.
type Generator interface {
	GenerateAnswer(ctx context.Context, question string, context []string) (string, error)
}

// Opener hands out namespace handles; *store.Registry implements it.
type Opener interface {
	Open(name string) (*store.DocumentStore, error)
}

// LocalRetriever matches question keywords against stored documents with
// DocumentStore.Query. There is no scoring: hits come back in document order.
type LocalRetriever struct {
	opener Opener
}

func NewLocalRetriever(o Opener) *LocalRetriever {
	return &LocalRetriever{opener: o}
}

const minTermLen = 3

// terms splits a question into lowercase keywords of at least three
// characters. A question without any falls back to the whole trimmed text.
func terms(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if utf8.RuneCountInString(f) < minTermLen || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	if len(out) == 0 {
		if q := strings.TrimSpace(query); q != "" {
			out = []string{q}
		}
	}
	return out
}

func (r *LocalRetriever) EmbedAndRetrieve(ctx context.Context, namespace, query string, topK int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds, err := r.opener.Open(namespace)
	if err != nil {
		return nil, err
	}
	hits := make(map[string]bool)
	for _, term := range terms(query) {
		matches, err := ds.Query(term)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			hits[m] = true
		}
	}
	if len(hits) == 0 {
		return []string{}, nil
	}
	docs, err := ds.Items()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, min(topK, len(hits)))
	for _, doc := range docs {
		if len(out) == topK {
			break
		}
		if hits[doc] {
			out = append(out, doc)
		}
	}
	return out, nil
}

// TemplateGenerator produces a deterministic answer that quotes its context.
type TemplateGenerator struct{}

func (TemplateGenerator) GenerateAnswer(ctx context.Context, question string, snippets []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(snippets) == 0 {
		return fmt.Sprintf("No stored knowledge is relevant to %q.", question), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Based on the stored knowledge, this is relevant to %q:\n", question)
	for _, s := range snippets {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// Answer is the result of Ask.
type Answer struct {
	Namespace string   `json:"namespace"`
	Question  string   `json:"question"`
	Context   []string `json:"context"`
	Text      string   `json:"answer"`
}

type Agent struct {
	retriever Retriever
	generator Generator
	logger    *slog.Logger
}

// New returns an Agent. A nil logger discards output.
func New(r Retriever, g Generator, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Agent{retriever: r, generator: g, logger: logger}
}

// Ask retrieves up to topK snippets from namespace and generates an answer.
func (a *Agent) Ask(ctx context.Context, namespace, question string, topK int) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, fmt.Errorf("%w: question must not be empty", store.ErrInvalidArgument)
	}
	if topK < 1 {
		return Answer{}, fmt.Errorf("%w: top-k must be at least 1, got %d", store.ErrInvalidArgument, topK)
	}
	snippets, err := a.retriever.EmbedAndRetrieve(ctx, namespace, question, topK)
	if err != nil {
		return Answer{}, err
	}
	a.logger.Debug("retrieved context", "namespace", namespace, "count", len(snippets), "top_k", topK)
	text, err := a.generator.GenerateAnswer(ctx, question, snippets)
	if err != nil {
		return Answer{}, err
	}
	return Answer{Namespace: namespace, Question: question, Context: snippets, Text: text}, nil
}
