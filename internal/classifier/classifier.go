package classifier

import (
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Classifier extracts entities and classifies queries against a rule table.
//
// The active table is held behind an atomic pointer so a Watcher can swap it
// while classification runs concurrently.
type Classifier struct {
	table  atomic.Pointer[RuleTable]
	logger *zap.Logger
}

// New creates a Classifier. A nil table selects DefaultRuleTable.
func New(table *RuleTable, logger *zap.Logger) *Classifier {
	if table == nil {
		table = DefaultRuleTable()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{logger: logger}
	c.table.Store(table)
	return c
}

// SwapTable atomically replaces the active rule table.
func (c *Classifier) SwapTable(table *RuleTable) {
	if table == nil {
		return
	}
	c.table.Store(table)
	c.logger.Info("rule table swapped",
		zap.Int("categories", len(table.Categories)),
		zap.Int("project_patterns", len(table.ProjectPatterns)))
}

// Table returns the active rule table.
func (c *Classifier) Table() *RuleTable {
	return c.table.Load()
}

// Classify runs entity extraction and classification over raw text.
//
// The pass is deterministic: categories are scanned in sorted name order and
// terms in their declared order, so identical input always yields identical
// output. It never fails; unmatched text classifies as TypeUnknown.
func (c *Classifier) Classify(text string) Result {
	t := c.table.Load()
	lower := strings.ToLower(text)

	entities := make(map[string][]string)

	for _, name := range t.categoryOrder {
		rule := t.Categories[name]
		var found []string
		for _, term := range rule.Terms {
			if strings.Contains(lower, term) {
				found = append(found, term)
			}
		}
		if len(found) > 0 {
			entities[name] = found
		}
	}

	// Project codes and names.
	var codes, names []string
	for i, re := range t.projectRegexps {
		if matches := re.FindAllString(text, -1); len(matches) > 0 {
			codes = append(codes, dedupe(matches)...)
			names = append(names, t.ProjectPatterns[i].Name)
		}
		if strings.Contains(lower, strings.ToLower(t.ProjectPatterns[i].Name)) {
			names = append(names, t.ProjectPatterns[i].Name)
		}
	}
	if len(codes) > 0 {
		entities[CategoryProjectCodes] = dedupe(codes)
	}
	if len(names) > 0 {
		entities[CategoryProjectNames] = dedupe(names)
	}

	// Status values.
	var statuses []string
	for _, s := range t.StatusValues {
		if strings.Contains(lower, s) {
			statuses = append(statuses, s)
		}
	}
	if len(statuses) > 0 {
		entities[CategoryStatusValues] = statuses
	}

	// Aggregation vocabulary.
	var aggs []string
	for _, a := range t.Aggregations {
		if strings.Contains(lower, a) {
			aggs = append(aggs, a)
		}
	}
	if len(aggs) > 0 {
		entities[CategoryAggregations] = aggs
	}

	// Temporal references.
	for _, re := range t.temporalRegexps {
		if m := re.FindString(lower); m != "" {
			entities[CategoryTemporal] = []string{m}
			break
		}
	}

	// Numeric values and ranges.
	var nums []string
	for _, re := range t.numericRegexps {
		nums = append(nums, re.FindAllString(lower, -1)...)
	}
	if len(nums) > 0 {
		entities[CategoryNumeric] = dedupe(nums)
	}

	return Result{
		Entities:       entities,
		Classification: c.classify(t, lower, entities),
	}
}

// classify derives type, backends and complexity from matched entities.
func (c *Classifier) classify(t *RuleTable, lower string, entities map[string][]string) Classification {
	cl := Classification{
		Type:       TypeUnknown,
		Complexity: ComplexitySimple,
	}

	backendSet := make(map[Backend]bool)
	for _, name := range t.categoryOrder {
		if _, ok := entities[name]; ok {
			backendSet[t.Categories[name].Backend] = true
		}
	}

	_, personnel := entities["personnel"]
	infra := false
	for _, key := range []string{"infrastructure", "equipment", "measurements"} {
		if _, ok := entities[key]; ok {
			infra = true
			break
		}
	}
	_, business := entities["business"]
	_, aggregations := entities[CategoryAggregations]
	projectish := false
	if _, ok := entities[CategoryProjectCodes]; ok {
		projectish = true
	}
	if _, ok := entities[CategoryProjectNames]; ok {
		projectish = true
	}
	if strings.Contains(lower, "project") {
		projectish = true
	}

	switch {
	case personnel && infra:
		cl.Type = TypeHybrid
	case personnel:
		cl.Type = TypePersonnel
	case infra:
		cl.Type = TypeInfrastructure
	case projectish:
		cl.Type = TypeProject
		backendSet[BackendRelational] = true
	case business || aggregations:
		cl.Type = TypeAnalytical
	}

	if business || aggregations {
		cl.Analytical = true
	}

	for _, term := range t.RealTimeTerms {
		if strings.Contains(lower, term) {
			cl.RealTime = true
			break
		}
	}

	for _, f := range t.Formulas {
		for _, kw := range f.Keywords {
			if strings.Contains(lower, kw) {
				cl.FormulaHints = append(cl.FormulaHints, f.Name)
				break
			}
		}
	}
	// A formula hint implies the query is analytical even without explicit
	// aggregation vocabulary ("Calculate PON utilization").
	if len(cl.FormulaHints) > 0 {
		cl.Analytical = true
		if cl.Type == TypeUnknown {
			cl.Type = TypeAnalytical
		}
	}

	cl.RequiresFusion = len(backendSet) > 1
	cl.Backends = sortedBackends(backendSet)

	// Complexity: aggregation vocabulary elevates, fusion elevates further.
	if aggregations {
		if len(entities[CategoryAggregations]) > 1 {
			cl.Complexity = ComplexityComplex
		} else {
			cl.Complexity = ComplexityModerate
		}
	}
	if cl.RequiresFusion {
		cl.Complexity = ComplexityComplex
	}

	cl.Score = complexityScore(cl, entities)
	return cl
}

// complexityScore grades 1-10 for diagnostics.
func complexityScore(cl Classification, entities map[string][]string) int {
	score := 1
	switch cl.Complexity {
	case ComplexityModerate:
		score += 2
	case ComplexityComplex:
		score += 4
	}
	if cl.RequiresFusion {
		score += 2
	}
	score += len(entities[CategoryAggregations])
	if cl.Analytical {
		score++
	}
	if len(cl.Backends) > 1 {
		score += 2
	}
	if score > 10 {
		score = 10
	}
	return score
}

func sortedBackends(set map[Backend]bool) []Backend {
	out := make([]Backend, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
