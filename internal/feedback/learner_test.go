package feedback

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VelocityFibre/ff-agent/internal/backend"
	"github.com/VelocityFibre/ff-agent/internal/classifier"
	"github.com/VelocityFibre/ff-agent/internal/patternstore"
	"github.com/VelocityFibre/ff-agent/internal/router"
)

const testDim = 4

type stubEmbedder struct{}

// questionAxes gives each test question its own orthogonal embedding so
// distinct questions never collide in the cache.
var questionAxes = map[string]int{
	"Show installers": 1,
	"Count teams":     2,
}

func (stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, testDim)
	v[questionAxes[text]] = 1
	return v, nil
}
func (stubEmbedder) Dimension() int { return testDim }
func (stubEmbedder) Close() error   { return nil }

type stubGeneral struct{ artifact string }

func (s stubGeneral) Generate(_ context.Context, _ string) (*backend.Answer, error) {
	return &backend.Answer{Artifact: s.artifact}, nil
}
func (s stubGeneral) Name() string { return "stub" }

type captureEvents struct {
	mu    sync.Mutex
	calls []int64
}

func (c *captureEvents) RetrainDue(_ context.Context, corrections int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, corrections)
	return nil
}

type fixture struct {
	router  *router.Router
	store   *patternstore.Store
	learner *Learner
	events  *captureEvents
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	store, err := patternstore.NewStore(patternstore.Config{VectorSize: testDim}, nil)
	require.NoError(t, err)

	r := router.New(router.Config{}, classifier.New(nil, nil), stubEmbedder{}, store,
		nil, stubGeneral{artifact: "SELECT * FROM staff"}, backend.NewPromptBuilder(nil), nil)

	events := &captureEvents{}
	learner := NewLearner(config, r.Records(), store, stubEmbedder{}, events, nil)
	return &fixture{router: r, store: store, learner: learner, events: events}
}

// resolve produces a record through the general tier and waits for the
// async cache proposal so tests see a settled store.
func (f *fixture) resolve(t *testing.T, question string) router.QueryRecord {
	t.Helper()
	record := f.router.Resolve(context.Background(), question)
	require.Equal(t, router.StateResolvedGeneral, record.State)
	require.NoError(t, f.router.Close())
	return record
}

func TestIngestPositive(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	record := f.resolve(t, "List all staff")

	require.NoError(t, f.learner.Ingest(ctx, Event{RecordID: record.ID, Verdict: VerdictPositive}))

	pattern, err := f.store.Get(ctx, "list all staff")
	require.NoError(t, err)
	assert.Equal(t, 1, pattern.SuccessCount)

	got, err := f.router.Records().Get(record.ID)
	require.NoError(t, err)
	assert.Equal(t, router.OutcomeSuccess, got.Outcome)
}

func TestIngestPositiveSeedsMissingPattern(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	record := f.resolve(t, "List all staff")

	// Simulate the pattern having been pruned before feedback arrived.
	require.NoError(t, f.store.Prune(ctx, []string{"list all staff"}))

	require.NoError(t, f.learner.Ingest(ctx, Event{RecordID: record.ID, Verdict: VerdictPositive}))

	pattern, err := f.store.Get(ctx, "list all staff")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM staff", pattern.Artifact)
	assert.Equal(t, 1, pattern.SuccessCount)
}

func TestIngestNegative(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	record := f.resolve(t, "List all staff")

	require.NoError(t, f.learner.Ingest(ctx, Event{
		RecordID: record.ID,
		Verdict:  VerdictNegative,
		ErrKind:  "execution_error",
	}))

	pattern, err := f.store.Get(ctx, "list all staff")
	require.NoError(t, err)
	assert.Equal(t, 1, pattern.FailureCount)

	avoid, err := f.store.AvoidFor(ctx, []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, avoid, 1)
	assert.Equal(t, "SELECT * FROM staff", avoid[0].Artifact)
	assert.Equal(t, "execution_error", avoid[0].ErrKind)

	got, err := f.router.Records().Get(record.ID)
	require.NoError(t, err)
	assert.Equal(t, router.OutcomeFailure, got.Outcome)
}

func TestIngestNegativeWithCorrection(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	record := f.resolve(t, "List all staff")

	require.NoError(t, f.learner.Ingest(ctx, Event{
		RecordID:          record.ID,
		Verdict:           VerdictNegative,
		CorrectedArtifact: "SELECT name, role FROM staff",
	}))

	// The failed artifact is remembered and the correction is learned.
	avoid, err := f.store.AvoidFor(ctx, []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, avoid, 1)
	assert.Equal(t, "SELECT * FROM staff", avoid[0].Artifact)

	pattern, err := f.store.Get(ctx, "list all staff")
	require.NoError(t, err)
	assert.Equal(t, "SELECT name, role FROM staff", pattern.Artifact)
	assert.Equal(t, patternstore.ProvenanceUserCorrection, pattern.Provenance)
	assert.Equal(t, int64(1), f.learner.Corrections())

	got, err := f.router.Records().Get(record.ID)
	require.NoError(t, err)
	assert.Equal(t, router.OutcomeFailure, got.Outcome)
}

func TestIngestCorrection(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	record := f.resolve(t, "List all staff")

	require.NoError(t, f.learner.Ingest(ctx, Event{
		RecordID:          record.ID,
		Verdict:           VerdictCorrection,
		CorrectedArtifact: "SELECT name, role FROM staff",
	}))

	pattern, err := f.store.Get(ctx, "list all staff")
	require.NoError(t, err)
	assert.Equal(t, "SELECT name, role FROM staff", pattern.Artifact)
	assert.Equal(t, patternstore.ProvenanceUserCorrection, pattern.Provenance)
	assert.Equal(t, int64(1), f.learner.Corrections())

	// An auto rewrite of the same question must not displace the correction.
	require.NoError(t, f.store.Upsert(ctx, &patternstore.Pattern{
		Question:   "list all staff",
		Artifact:   "SELECT * FROM staff",
		Embedding:  []float32{1, 0, 0, 0},
		Provenance: patternstore.ProvenanceAuto,
	}))
	pattern, err = f.store.Get(ctx, "list all staff")
	require.NoError(t, err)
	assert.Equal(t, patternstore.ProvenanceUserCorrection, pattern.Provenance)
}

func TestIngestCorrectionRequiresArtifact(t *testing.T) {
	f := newFixture(t, Config{})
	record := f.resolve(t, "List all staff")

	err := f.learner.Ingest(context.Background(), Event{RecordID: record.ID, Verdict: VerdictCorrection})
	assert.ErrorIs(t, err, ErrMissingCorrection)
}

func TestRetrainSignal(t *testing.T) {
	f := newFixture(t, Config{RetrainThreshold: 2})
	ctx := context.Background()

	for i, question := range []string{"List all staff", "Show installers", "Count teams"} {
		record := f.resolve(t, question)
		require.NoError(t, f.learner.Ingest(ctx, Event{
			RecordID:          record.ID,
			Verdict:           VerdictCorrection,
			CorrectedArtifact: "corrected",
		}), "correction %d", i)
	}

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	assert.Equal(t, []int64{2}, f.events.calls)
}

func TestIngestUnknownRecord(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.learner.Ingest(context.Background(), Event{RecordID: "no-such-id", Verdict: VerdictPositive})
	assert.ErrorIs(t, err, ErrUnknownQuery)
}

func TestIngestInvalidVerdict(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.learner.Ingest(context.Background(), Event{RecordID: "x", Verdict: "maybe"})
	assert.ErrorIs(t, err, ErrInvalidVerdict)
}

func TestIngestNeutralLeavesOutcomePending(t *testing.T) {
	f := newFixture(t, Config{})
	record := f.resolve(t, "List all staff")

	require.NoError(t, f.learner.Ingest(context.Background(), Event{RecordID: record.ID, Verdict: VerdictNeutral}))

	got, err := f.router.Records().Get(record.ID)
	require.NoError(t, err)
	assert.Equal(t, router.OutcomePending, got.Outcome)
}

func TestIngestNotIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	record := f.resolve(t, "List all staff")

	require.NoError(t, f.learner.Ingest(ctx, Event{RecordID: record.ID, Verdict: VerdictPositive}))
	require.NoError(t, f.learner.Ingest(ctx, Event{RecordID: record.ID, Verdict: VerdictPositive}))

	pattern, err := f.store.Get(ctx, "list all staff")
	require.NoError(t, err)
	assert.Equal(t, 2, pattern.SuccessCount)
}
