package classifier

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// CategoryRule declares the vocabulary of one entity category and which
// backend owns it.
type CategoryRule struct {
	Terms   []string `yaml:"terms"`
	Backend Backend  `yaml:"backend"`
}

// ProjectPattern maps a project-code regex to a human project name.
type ProjectPattern struct {
	Pattern string `yaml:"pattern"`
	Name    string `yaml:"name"`
}

// FormulaRule triggers a domain-formula hint when any keyword is present.
type FormulaRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// RuleTable is the declarative classification rule set. It is loaded at
// construction and can be hot-reloaded without redeploying (see Watcher).
type RuleTable struct {
	Categories      map[string]CategoryRule `yaml:"categories"`
	ProjectPatterns []ProjectPattern        `yaml:"project_patterns"`
	StatusValues    []string                `yaml:"status_values"`
	Aggregations    []string                `yaml:"aggregations"`
	RealTimeTerms   []string                `yaml:"real_time_terms"`
	Formulas        []FormulaRule           `yaml:"formulas"`

	// categoryOrder fixes iteration order so matching is deterministic
	// regardless of map iteration. Set by compile().
	categoryOrder   []string
	projectRegexps  []*regexp.Regexp
	temporalRegexps []*regexp.Regexp
	numericRegexps  []*regexp.Regexp
}

// DefaultRuleTable returns the built-in fibre-network vocabulary.
func DefaultRuleTable() *RuleTable {
	t := &RuleTable{
		Categories: map[string]CategoryRule{
			"equipment": {
				Terms:   []string{"olt", "onu", "ont", "splitter", "pon", "gpon", "nokia"},
				Backend: BackendRelational,
			},
			"measurements": {
				Terms:   []string{"optical power", "splice loss", "attenuation", "dbm", "signal strength"},
				Backend: BackendRelational,
			},
			"infrastructure": {
				Terms:   []string{"drop", "pole", "fibre", "fiber", "cable", "duct", "chamber", "closure", "splice"},
				Backend: BackendRelational,
			},
			"business": {
				Terms:   []string{"take rate", "homes passed", "penetration", "churn", "arpu", "installation", "activation"},
				Backend: BackendRelational,
			},
			"personnel": {
				Terms:   []string{"technician", "installer", "field agent", "staff", "employee", "team", "crew"},
				Backend: BackendDocument,
			},
		},
		ProjectPatterns: []ProjectPattern{
			{Pattern: `LAW[\d-]*`, Name: "Lawley"},
			{Pattern: `IVY[\d-]*`, Name: "Ivory Park"},
			{Pattern: `MAM[\d-]*`, Name: "Mamelodi"},
			{Pattern: `MOH[\d-]*`, Name: "Mohadin"},
			{Pattern: `HEIN[\d-]*`, Name: "Hein Test"},
		},
		StatusValues: []string{
			"active", "inactive", "pending", "installed", "not installed",
			"completed", "in progress", "scheduled", "cancelled",
		},
		Aggregations: []string{"count", "sum", "average", "avg", "total", "max", "min", "group by"},
		RealTimeTerms: []string{"current", "now", "real-time", "live", "ongoing"},
		Formulas: []FormulaRule{
			{Name: "pon_utilization", Keywords: []string{"pon utilization", "pon usage", "port utilization"}},
			{Name: "take_rate", Keywords: []string{"take rate", "uptake"}},
			{Name: "splice_loss", Keywords: []string{"splice loss", "average loss"}},
		},
	}
	if err := t.compile(); err != nil {
		// Built-in table is static; a compile failure here is a programming error.
		panic(fmt.Sprintf("default rule table invalid: %v", err))
	}
	return t
}

// LoadRuleTable reads and validates a YAML rule table file.
func LoadRuleTable(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule table: %w", err)
	}
	return ParseRuleTable(data)
}

// ParseRuleTable parses and validates YAML rule table bytes.
func ParseRuleTable(data []byte) (*RuleTable, error) {
	var t RuleTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing rule table: %w", err)
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the table without compiling regexes twice.
func (t *RuleTable) Validate() error {
	if len(t.Categories) == 0 {
		return ErrEmptyRuleTable
	}
	for name, rule := range t.Categories {
		switch rule.Backend {
		case BackendDocument, BackendRelational:
		default:
			return fmt.Errorf("%w: category %q has backend %q", ErrUnknownBackend, name, rule.Backend)
		}
	}
	for _, p := range t.ProjectPatterns {
		if _, err := regexp.Compile(`(?i)\b` + p.Pattern); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p.Pattern, err)
		}
	}
	return nil
}

// compile validates the table and precompiles all regular expressions.
func (t *RuleTable) compile() error {
	if err := t.Validate(); err != nil {
		return err
	}

	t.categoryOrder = make([]string, 0, len(t.Categories))
	for name := range t.Categories {
		t.categoryOrder = append(t.categoryOrder, name)
	}
	sort.Strings(t.categoryOrder)

	t.projectRegexps = make([]*regexp.Regexp, len(t.ProjectPatterns))
	for i, p := range t.ProjectPatterns {
		re, err := regexp.Compile(`(?i)\b` + p.Pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p.Pattern, err)
		}
		t.projectRegexps[i] = re
	}

	temporal := []string{
		`\b\d{4}-\d{2}-\d{2}\b`,
		`\b\d{1,2}/\d{1,2}/\d{2,4}\b`,
		`\b(?:today|yesterday|tomorrow)\b`,
		`\b(?:this|last|next)\s+(?:week|month|year|quarter)\b`,
		`\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\b`,
		`\b\d+\s+(?:days?|weeks?|months?|years?)\s+ago\b`,
	}
	t.temporalRegexps = make([]*regexp.Regexp, len(temporal))
	for i, p := range temporal {
		t.temporalRegexps[i] = regexp.MustCompile(p)
	}

	numeric := []string{
		`\btop\s+\d+\b`,
		`\b(?:more|less|greater|fewer)\s+than\s+\d+\b`,
		`\bbetween\s+\d+\s+and\s+\d+\b`,
		`\b\d+\b`,
	}
	t.numericRegexps = make([]*regexp.Regexp, len(numeric))
	for i, p := range numeric {
		t.numericRegexps[i] = regexp.MustCompile(p)
	}

	return nil
}
