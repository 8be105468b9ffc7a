package graph

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/agentbrain/agentbrain/internal/errors"
)

// Generator produces a completion for a raw prompt. The ollama
// provider satisfies this; the static provider does not, which simply
// disables LLM extraction.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMExtractor prompts a model for subject/predicate/object triples
// from prose chunks. Output is bounded and filtered to the predicate
// vocabulary; any failure is logged and yields no triples, never an
// error.
type LLMExtractor struct {
	gen         Generator
	maxTriplets int
	logger      *slog.Logger
}

func NewLLMExtractor(gen Generator, maxTriplets int, logger *slog.Logger) *LLMExtractor {
	if maxTriplets <= 0 {
		maxTriplets = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{gen: gen, maxTriplets: maxTriplets, logger: logger}
}

type llmTriple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Extract asks the model for triples about the text. Source binding is
// the caller's job.
func (e *LLMExtractor) Extract(ctx context.Context, text string) []Assertion {
	raw, err := e.gen.Generate(ctx, e.prompt(text))
	if err != nil {
		e.logger.Warn("triple extraction failed", "error", err)
		return nil
	}

	parsed, err := parseTripleJSON(raw)
	if err != nil {
		e.logger.Warn("triple extraction returned unparseable output", "error", err)
		return nil
	}

	var assertions []Assertion
	for _, t := range parsed {
		if len(assertions) >= e.maxTriplets {
			break
		}
		predicate := strings.ToLower(strings.TrimSpace(t.Predicate))
		if !Predicates[predicate] {
			continue
		}
		subject := strings.TrimSpace(t.Subject)
		object := strings.TrimSpace(t.Object)
		if subject == "" || object == "" {
			continue
		}
		assertions = append(assertions, Assertion{
			Subject:   NewEntity(EntityConcept, subject),
			Predicate: predicate,
			Object:    NewEntity(EntityConcept, object),
		})
	}
	return assertions
}

func (e *LLMExtractor) prompt(text string) string {
	predicates := make([]string, 0, len(Predicates))
	for p := range Predicates {
		predicates = append(predicates, p)
	}
	sort.Strings(predicates)

	return "Extract relationships from the text below as a JSON array of objects " +
		`with keys "subject", "predicate", "object". Use only these predicates: ` +
		strings.Join(predicates, ", ") + ". Output at most " +
		strconv.Itoa(e.maxTriplets) + " objects and nothing but the JSON array.\n\nText:\n" + text
}

// parseTripleJSON tolerates chatter around the array: it parses the
// outermost bracketed span, with or without a code fence.
func parseTripleJSON(raw string) ([]llmTriple, error) {
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start < 0 || end <= start {
		return nil, errors.New(errors.KindInternal, "no JSON array in model output")
	}
	var triples []llmTriple
	if err := json.Unmarshal([]byte(raw[start:end+1]), &triples); err != nil {
		return nil, err
	}
	return triples, nil
}
