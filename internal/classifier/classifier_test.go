package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPersonnel(t *testing.T) {
	c := New(nil, nil)
	result := c.Classify("List all staff")

	assert.Equal(t, []string{"staff"}, result.Entities["personnel"])
	cl := result.Classification
	assert.Equal(t, TypePersonnel, cl.Type)
	assert.Equal(t, []Backend{BackendDocument}, cl.Backends)
	assert.False(t, cl.RequiresFusion)
	assert.Equal(t, ComplexitySimple, cl.Complexity)
}

func TestClassifyInfrastructureWithProject(t *testing.T) {
	c := New(nil, nil)
	result := c.Classify("Show drops in LAW-001")

	assert.Equal(t, []string{"drop"}, result.Entities["infrastructure"])
	assert.Equal(t, []string{"LAW-001"}, result.Entities[CategoryProjectCodes])
	assert.Contains(t, result.Entities[CategoryProjectNames], "Lawley")

	cl := result.Classification
	assert.Equal(t, TypeInfrastructure, cl.Type)
	assert.Equal(t, []Backend{BackendRelational}, cl.Backends)
	assert.False(t, cl.RequiresFusion)
}

func TestClassifyFormulaHint(t *testing.T) {
	c := New(nil, nil)
	result := c.Classify("Calculate PON utilization for IVY-007")

	cl := result.Classification
	assert.Equal(t, []string{"pon_utilization"}, cl.FormulaHints)
	assert.True(t, cl.Analytical)
	assert.Equal(t, []string{"IVY-007"}, result.Entities[CategoryProjectCodes])
}

func TestClassifyHybrid(t *testing.T) {
	c := New(nil, nil)
	result := c.Classify("Which technicians installed drops in Lawley last week")

	cl := result.Classification
	assert.Equal(t, TypeHybrid, cl.Type)
	assert.Equal(t, []Backend{BackendDocument, BackendRelational}, cl.Backends)
	assert.True(t, cl.RequiresFusion)
	assert.Equal(t, ComplexityComplex, cl.Complexity)

	assert.Contains(t, result.Entities[CategoryProjectNames], "Lawley")
	assert.Equal(t, []string{"last week"}, result.Entities[CategoryTemporal])
	assert.Contains(t, result.Entities[CategoryStatusValues], "installed")
}

func TestClassifyAggregations(t *testing.T) {
	c := New(nil, nil)
	result := c.Classify("total count of poles per project")

	cl := result.Classification
	assert.Equal(t, TypeInfrastructure, cl.Type)
	assert.True(t, cl.Analytical)
	// Two aggregation terms elevate the query to complex.
	assert.Len(t, result.Entities[CategoryAggregations], 2)
	assert.Equal(t, ComplexityComplex, cl.Complexity)
	assert.GreaterOrEqual(t, cl.Score, 5)
}

func TestClassifyRealTime(t *testing.T) {
	c := New(nil, nil)
	result := c.Classify("current status of installer teams")

	cl := result.Classification
	assert.True(t, cl.RealTime)
	assert.Equal(t, TypePersonnel, cl.Type)
}

func TestClassifyUnknown(t *testing.T) {
	c := New(nil, nil)
	result := c.Classify("what is the meaning of this")

	cl := result.Classification
	assert.Equal(t, TypeUnknown, cl.Type)
	assert.Empty(t, cl.Backends)
	assert.False(t, result.HasEntities())
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(nil, nil)
	question := "Which technicians installed drops in LAW-001 last week, count per team"

	first := c.Classify(question)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, c.Classify(question))
	}
}

func TestClassifyTemporalFormats(t *testing.T) {
	c := New(nil, nil)

	tests := []struct {
		text string
		want string
	}{
		{"installations on 2024-01-15", "2024-01-15"},
		{"drops completed yesterday", "yesterday"},
		{"activations this month", "this month"},
		{"splices done 3 days ago", "3 days ago"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			result := c.Classify(tt.text)
			require.NotEmpty(t, result.Entities[CategoryTemporal])
			assert.Equal(t, tt.want, result.Entities[CategoryTemporal][0])
		})
	}
}

func TestParseRuleTable(t *testing.T) {
	data := []byte(`
categories:
  wildlife:
    terms: ["heron", "otter"]
    backend: document
project_patterns:
  - pattern: 'ZOO[\d-]*'
    name: Zoo
`)
	table, err := ParseRuleTable(data)
	require.NoError(t, err)

	c := New(table, nil)
	result := c.Classify("herons near ZOO-3")
	assert.Equal(t, []string{"heron"}, result.Entities["wildlife"])
	assert.Equal(t, []string{"ZOO-3"}, result.Entities[CategoryProjectCodes])
}

func TestParseRuleTableRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{
			name:    "no categories",
			data:    "project_patterns: []",
			wantErr: ErrEmptyRuleTable,
		},
		{
			name: "unknown backend",
			data: "categories:\n  x:\n    terms: [a]\n    backend: graph\n",
			wantErr: ErrUnknownBackend,
		},
		{
			name: "bad regex",
			data: "categories:\n  x:\n    terms: [a]\n    backend: document\nproject_patterns:\n  - pattern: '(['\n    name: Bad\n",
			wantErr: ErrInvalidPattern,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleTable([]byte(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
