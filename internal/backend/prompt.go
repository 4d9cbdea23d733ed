package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/VelocityFibre/ff-agent/internal/classifier"
	"github.com/VelocityFibre/ff-agent/internal/patternstore"
)

// SchemaProvider supplies schema context for prompt assembly. Relational
// questions get table definitions; document questions get collection
// layouts.
type SchemaProvider interface {
	SchemaFor(backends []classifier.Backend) string
}

// StaticSchema is a SchemaProvider returning fixed text regardless of
// backend. Useful for tests and single-schema deployments.
type StaticSchema string

func (s StaticSchema) SchemaFor(_ []classifier.Backend) string { return string(s) }

// PromptBuilder assembles general-tier prompts from classification output,
// near-miss cached patterns, and previously failed artifacts.
type PromptBuilder struct {
	schema SchemaProvider
}

// NewPromptBuilder creates a prompt builder. A nil schema provider yields
// prompts without a schema section.
func NewPromptBuilder(schema SchemaProvider) *PromptBuilder {
	return &PromptBuilder{schema: schema}
}

// Build assembles the generation prompt.
//
// Candidates are sub-threshold cache matches passed as worked examples,
// never as answers. Avoid entries are artifacts that previously failed for
// similar questions.
func (b *PromptBuilder) Build(question string, result classifier.Result, candidates []patternstore.Match, avoid []patternstore.AvoidPattern) string {
	var sb strings.Builder

	sb.WriteString("You translate fibre network operations questions into structured queries.\n")
	sb.WriteString("Return the query in a fenced code block. Use SQL for the relational store and a Firestore-style filter document for the document store.\n\n")

	cl := result.Classification
	if b.schema != nil {
		if schema := b.schema.SchemaFor(cl.Backends); schema != "" {
			sb.WriteString("Schema:\n")
			sb.WriteString(schema)
			sb.WriteString("\n\n")
		}
	}

	fmt.Fprintf(&sb, "Question type: %s\n", cl.Type)
	fmt.Fprintf(&sb, "Target stores: %s\n", joinBackends(cl.Backends))
	if cl.RequiresFusion {
		sb.WriteString("The answer requires joining results from both stores.\n")
	}
	if len(cl.FormulaHints) > 0 {
		fmt.Fprintf(&sb, "Apply domain formulas: %s\n", strings.Join(cl.FormulaHints, ", "))
	}
	if entities := flattenEntities(result); entities != "" {
		fmt.Fprintf(&sb, "Detected entities: %s\n", entities)
	}
	sb.WriteString("\n")

	if len(candidates) > 0 {
		sb.WriteString("Similar past questions and their queries, for reference only:\n")
		for _, c := range candidates {
			fmt.Fprintf(&sb, "- Q: %s\n  A: %s\n", c.Question, c.Artifact)
		}
		sb.WriteString("\n")
	}

	if len(avoid) > 0 {
		sb.WriteString("These queries failed for similar questions. Do not repeat them:\n")
		for _, a := range avoid {
			fmt.Fprintf(&sb, "- %s (%s)\n", a.Artifact, a.ErrKind)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Question: %s\n", question)
	return sb.String()
}

func joinBackends(backends []classifier.Backend) string {
	if len(backends) == 0 {
		return "unknown"
	}
	parts := make([]string, len(backends))
	for i, b := range backends {
		parts[i] = string(b)
	}
	return strings.Join(parts, ", ")
}

func flattenEntities(result classifier.Result) string {
	categories := make([]string, 0, len(result.Entities))
	for category := range result.Entities {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	var parts []string
	for _, category := range categories {
		for _, v := range result.Entities[category] {
			parts = append(parts, fmt.Sprintf("%s=%s", category, v))
		}
	}
	return strings.Join(parts, ", ")
}
