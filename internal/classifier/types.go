// Package classifier provides rule-based entity extraction and query
// classification for fibre-network questions.
//
// Matching is purely lexical against a declarative rule table, so identical
// input always yields identical output. The classifier never fails: text that
// matches nothing produces empty entities and TypeUnknown, which downstream
// routing treats as the lowest-confidence case.
package classifier

import "errors"

// Sentinel errors for rule table loading.
var (
	ErrEmptyRuleTable = errors.New("rule table has no categories")
	ErrUnknownBackend = errors.New("category references unknown backend")
	ErrInvalidPattern = errors.New("invalid project pattern regex")
)

// Backend identifies which downstream engine owns a category of entities.
type Backend string

const (
	// BackendDocument is the document store (personnel, real-time data).
	BackendDocument Backend = "document"

	// BackendRelational is the relational store (infrastructure, projects).
	BackendRelational Backend = "relational"
)

// Type is the derived query type.
type Type string

const (
	TypePersonnel      Type = "personnel"
	TypeInfrastructure Type = "infrastructure"
	TypeProject        Type = "project"
	TypeAnalytical     Type = "analytical"
	TypeHybrid         Type = "hybrid"
	TypeUnknown        Type = "unknown"
)

// Complexity grades how involved a query is expected to be.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Entity categories that are detected beyond the rule table's term lists.
const (
	CategoryProjectCodes = "project_codes"
	CategoryProjectNames = "project_names"
	CategoryStatusValues = "status_values"
	CategoryAggregations = "aggregations"
	CategoryTemporal     = "temporal"
	CategoryNumeric      = "numeric"
)

// Classification describes routing-relevant properties of a query.
type Classification struct {
	// Type is derived from the union of matched categories.
	Type Type `json:"type"`

	// Complexity is elevated by aggregation vocabulary and fusion.
	Complexity Complexity `json:"complexity"`

	// Backends is the sorted set of backends owning the matched categories.
	Backends []Backend `json:"backends"`

	// RequiresFusion is true when matched categories are owned by more than
	// one backend and the result must be merged across them.
	RequiresFusion bool `json:"requires_fusion"`

	// Analytical is true when aggregation or business vocabulary is present.
	Analytical bool `json:"analytical"`

	// RealTime is true when the query asks about current state.
	RealTime bool `json:"real_time"`

	// FormulaHints names domain formulas the artifact generator should apply
	// (e.g. "pon_utilization").
	FormulaHints []string `json:"formula_hints,omitempty"`

	// Score is a 1-10 complexity score used for diagnostics only.
	Score int `json:"score"`
}

// Result is the full output of a classification pass.
type Result struct {
	// Entities maps category name to the terms matched in the input.
	// Categories are non-exclusive: one query can match several.
	Entities map[string][]string `json:"entities"`

	Classification Classification `json:"classification"`
}

// HasEntities reports whether any entity category matched.
func (r Result) HasEntities() bool {
	return len(r.Entities) > 0
}
