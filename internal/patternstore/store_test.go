package patternstore

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 4

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Config{VectorSize: testDim}, nil)
	require.NoError(t, err)
	return s
}

// unit returns a normalized vector pointing mostly along the given axis.
func unit(axis int) []float32 {
	v := make([]float32, testDim)
	v[axis] = 1
	return v
}

// blend mixes two axes so similarity against unit(a) lands between 0 and 1.
func blend(a, b int, weight float64) []float32 {
	v := make([]float32, testDim)
	v[a] = float32(weight)
	v[b] = float32(math.Sqrt(1 - weight*weight))
	return v
}

func TestUpsertAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := &Pattern{
		Question:   "Show All Drops in  LAW-001",
		Artifact:   "SELECT * FROM drops WHERE project = 'LAW-001'",
		Embedding:  unit(0),
		Provenance: ProvenanceAuto,
	}
	require.NoError(t, s.Upsert(ctx, p))

	got, err := s.Get(ctx, "show all drops in law-001")
	require.NoError(t, err)
	assert.Equal(t, "show all drops in law-001", got.Question)
	assert.Equal(t, p.Artifact, got.Artifact)
	assert.Equal(t, ProvenanceAuto, got.Provenance)
	assert.Equal(t, 1, s.Count())
}

func TestUpsertValidation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		pattern *Pattern
		wantErr error
	}{
		{
			name:    "missing artifact",
			pattern: &Pattern{Question: "q", Embedding: unit(0), Provenance: ProvenanceAuto},
			wantErr: ErrInvalidPattern,
		},
		{
			name:    "bad provenance",
			pattern: &Pattern{Question: "q", Artifact: "a", Embedding: unit(0), Provenance: "guess"},
			wantErr: ErrInvalidPattern,
		},
		{
			name:    "wrong dimension",
			pattern: &Pattern{Question: "q", Artifact: "a", Embedding: []float32{1, 0}, Provenance: ProvenanceAuto},
			wantErr: ErrDimensionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Upsert(ctx, tt.pattern)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUpsertProvenancePrecedence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &Pattern{
		Question: "list all staff", Artifact: "auto-v1",
		Embedding: unit(0), Provenance: ProvenanceAuto,
	}))

	// A correction replaces an auto entry unconditionally.
	require.NoError(t, s.Upsert(ctx, &Pattern{
		Question: "list all staff", Artifact: "corrected",
		Embedding: unit(0), Provenance: ProvenanceUserCorrection,
	}))
	got, err := s.Get(ctx, "list all staff")
	require.NoError(t, err)
	assert.Equal(t, "corrected", got.Artifact)
	assert.Equal(t, ProvenanceUserCorrection, got.Provenance)

	// A later auto write must not clobber the correction.
	require.NoError(t, s.Upsert(ctx, &Pattern{
		Question: "list all staff", Artifact: "auto-v2",
		Embedding: unit(0), Provenance: ProvenanceAuto,
	}))
	got, err = s.Get(ctx, "list all staff")
	require.NoError(t, err)
	assert.Equal(t, "corrected", got.Artifact)
	assert.Equal(t, ProvenanceUserCorrection, got.Provenance)
}

func TestUpsertAutoSameArtifactKeepsCounters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &Pattern{
		Question: "count poles", Artifact: "SELECT count(*) FROM poles",
		Embedding: unit(0), Provenance: ProvenanceAuto,
	}))
	require.NoError(t, s.RecordSuccess(ctx, "count poles"))
	require.NoError(t, s.RecordSuccess(ctx, "count poles"))

	require.NoError(t, s.Upsert(ctx, &Pattern{
		Question: "count poles", Artifact: "SELECT count(*) FROM poles",
		Embedding: unit(0), Provenance: ProvenanceAuto,
	}))

	got, err := s.Get(ctx, "count poles")
	require.NoError(t, err)
	assert.Equal(t, 2, got.SuccessCount)
}

func TestThresholdLookup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &Pattern{
		Question: "show drops in law-001", Artifact: "sql-drops",
		Embedding: unit(0), Provenance: ProvenanceAuto,
	}))
	require.NoError(t, s.Upsert(ctx, &Pattern{
		Question: "list all staff", Artifact: "firebase-staff",
		Embedding: unit(1), Provenance: ProvenanceAuto,
	}))

	// Identical embedding clears the floor.
	lookup, err := s.ThresholdLookup(ctx, unit(0))
	require.NoError(t, err)
	require.NotNil(t, lookup.Hit)
	assert.Equal(t, "sql-drops", lookup.Hit.Artifact)
	assert.InDelta(t, 1.0, lookup.Hit.Similarity, 1e-4)

	// A vector between both entries stays below 0.90 and yields candidates.
	lookup, err = s.ThresholdLookup(ctx, blend(0, 1, 0.7))
	require.NoError(t, err)
	assert.Nil(t, lookup.Hit)
	require.Len(t, lookup.Candidates, 2)
	assert.Equal(t, "sql-drops", lookup.Candidates[0].Artifact)
}

func TestThresholdLookupEmptyStore(t *testing.T) {
	s := testStore(t)
	lookup, err := s.ThresholdLookup(context.Background(), unit(0))
	require.NoError(t, err)
	assert.Nil(t, lookup.Hit)
	assert.Empty(t, lookup.Candidates)
}

func TestRecordOutcomes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &Pattern{
		Question: "pon utilization for ivy", Artifact: "sql-pon",
		Embedding: unit(0), Provenance: ProvenanceAuto,
	}))

	require.NoError(t, s.RecordSuccess(ctx, "pon utilization for ivy"))
	require.NoError(t, s.RecordSuccess(ctx, "pon utilization for ivy"))
	require.NoError(t, s.RecordFailure(ctx, "pon utilization for ivy"))

	got, err := s.Get(ctx, "pon utilization for ivy")
	require.NoError(t, err)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 1, got.FailureCount)
	assert.InDelta(t, 2.0/3.0, got.SuccessRate(), 1e-9)

	err = s.RecordSuccess(ctx, "no such question")
	assert.ErrorIs(t, err, ErrPatternNotFound)
}

func TestConcurrentOutcomeWrites(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &Pattern{
		Question: "splice loss on mam-002", Artifact: "sql-splice",
		Embedding: unit(0), Provenance: ProvenanceAuto,
	}))

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RecordSuccess(ctx, "splice loss on mam-002"))
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "splice loss on mam-002")
	require.NoError(t, err)
	assert.Equal(t, writers, got.SuccessCount)
}

func TestFlaggedAndPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &Pattern{
		Question: "bad pattern", Artifact: "broken-sql",
		Embedding: unit(0), Provenance: ProvenanceAuto,
	}))
	require.NoError(t, s.Upsert(ctx, &Pattern{
		Question: "good pattern", Artifact: "working-sql",
		Embedding: unit(1), Provenance: ProvenanceAuto,
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordFailure(ctx, "bad pattern"))
		require.NoError(t, s.RecordSuccess(ctx, "good pattern"))
	}

	flagged, err := s.Flagged(ctx)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "bad pattern", flagged[0].Question)

	// Flagging alone must not remove anything.
	assert.Equal(t, 2, s.Count())

	require.NoError(t, s.Prune(ctx, []string{"bad pattern"}))
	assert.Equal(t, 1, s.Count())
	_, err = s.Get(ctx, "bad pattern")
	assert.ErrorIs(t, err, ErrPatternNotFound)
}

func TestFlaggedRespectsMinUses(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &Pattern{
		Question: "young pattern", Artifact: "sql",
		Embedding: unit(0), Provenance: ProvenanceAuto,
	}))
	// Four failures is still below the minimum use count.
	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordFailure(ctx, "young pattern"))
	}

	flagged, err := s.Flagged(ctx)
	require.NoError(t, err)
	assert.Empty(t, flagged)
}

func TestAvoidPatterns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.RecordAvoid(ctx, AvoidPattern{
		Question: "show drops in law-001",
		Artifact: "SELECT * FROM drop",
		ErrKind:  "execution_error",
	}, unit(0))
	require.NoError(t, err)

	got, err := s.AvoidFor(ctx, unit(0), 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "SELECT * FROM drop", got[0].Artifact)
	assert.Equal(t, "execution_error", got[0].ErrKind)
	assert.False(t, got[0].SeenAt.IsZero())
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewStore(Config{Path: dir, VectorSize: testDim}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, &Pattern{
		Question: "take rate for hein", Artifact: "sql-take-rate",
		Embedding: unit(0), Provenance: ProvenanceUserCorrection,
	}))
	require.NoError(t, s.Close())

	reopened, err := NewStore(Config{Path: dir, VectorSize: testDim}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())

	got, err := reopened.Get(ctx, "take rate for hein")
	require.NoError(t, err)
	assert.Equal(t, "sql-take-rate", got.Artifact)
	assert.Equal(t, ProvenanceUserCorrection, got.Provenance)

	flagged, err := reopened.Flagged(ctx)
	require.NoError(t, err)
	assert.Empty(t, flagged)
}

func TestRankTieBreaking(t *testing.T) {
	now := time.Now()
	base := Pattern{Question: "q", Artifact: "a", LastUsed: now}

	byRate := []Match{
		{Pattern: withCounts(base, 1, 9), Similarity: 0.8},
		{Pattern: withCounts(base, 9, 1), Similarity: 0.8},
	}
	rank(byRate)
	assert.Equal(t, 9, byRate[0].SuccessCount)

	corrected := base
	corrected.Provenance = ProvenanceUserCorrection
	auto := base
	auto.Provenance = ProvenanceAuto
	byProvenance := []Match{
		{Pattern: auto, Similarity: 0.8},
		{Pattern: corrected, Similarity: 0.8},
	}
	rank(byProvenance)
	assert.Equal(t, ProvenanceUserCorrection, byProvenance[0].Provenance)

	older := base
	older.LastUsed = now.Add(-time.Hour)
	byRecency := []Match{
		{Pattern: older, Similarity: 0.8},
		{Pattern: base, Similarity: 0.8},
	}
	rank(byRecency)
	assert.Equal(t, now, byRecency[0].LastUsed)
}

func withCounts(p Pattern, success, failure int) Pattern {
	p.SuccessCount = success
	p.FailureCount = failure
	return p
}
