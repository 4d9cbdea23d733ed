package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/VelocityFibre/ff-agent/internal/backend"
	"github.com/VelocityFibre/ff-agent/internal/classifier"
	"github.com/VelocityFibre/ff-agent/internal/embeddings"
	"github.com/VelocityFibre/ff-agent/internal/patternstore"
)

var tracer = otel.Tracer("ffagent.router")

// SpecializedTier generates SQL for relational questions.
type SpecializedTier interface {
	GenerateQuery(ctx context.Context, question string) (*backend.Answer, error)
	Name() string
}

// GeneralTier generates artifacts from an assembled prompt.
type GeneralTier interface {
	Generate(ctx context.Context, prompt string) (*backend.Answer, error)
	Name() string
}

// Config holds routing thresholds.
type Config struct {
	// SpecializedFloor is the minimum specialized-tier confidence to accept
	// its answer without falling through to the general tier.
	// Default: 0.75
	SpecializedFloor float64

	// GeneralBaseline is the fixed confidence assigned to general-tier
	// answers, which report none of their own.
	// Default: 0.5
	GeneralBaseline float64

	// AvoidK is how many failed artifacts to surface in general prompts.
	// Default: 3
	AvoidK int

	// RecordCapacity bounds the in-memory query record store.
	// Default: 10000
	RecordCapacity int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.SpecializedFloor == 0 {
		c.SpecializedFloor = 0.75
	}
	if c.GeneralBaseline == 0 {
		c.GeneralBaseline = 0.5
	}
	if c.AvoidK == 0 {
		c.AvoidK = 3
	}
	if c.RecordCapacity == 0 {
		c.RecordCapacity = 10000
	}
}

// Router resolves questions through the tier chain and records every
// attempt. Resolution never returns an error to the caller: tier failures
// degrade the answer instead of failing the request.
type Router struct {
	config      Config
	classifier  *classifier.Classifier
	embedder    embeddings.Provider
	store       *patternstore.Store
	specialized SpecializedTier
	general     GeneralTier
	prompts     *backend.PromptBuilder
	records     *RecordStore
	logger      *zap.Logger

	// proposals tracks async cache-growth goroutines so Close can drain them.
	proposals sync.WaitGroup
}

// New creates a router. The specialized tier may be nil when no text-to-SQL
// service is configured; relational questions then go straight to the
// general tier.
func New(config Config, cls *classifier.Classifier, embedder embeddings.Provider, store *patternstore.Store, specialized SpecializedTier, general GeneralTier, prompts *backend.PromptBuilder, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	return &Router{
		config:      config,
		classifier:  cls,
		embedder:    embedder,
		store:       store,
		specialized: specialized,
		general:     general,
		prompts:     prompts,
		records:     NewRecordStore(config.RecordCapacity),
		logger:      logger,
	}
}

// Records exposes the query record store for feedback lookups.
func (r *Router) Records() *RecordStore {
	return r.records
}

// Resolve runs a question through the tier chain. It always returns a
// record in a terminal state; when every tier fails the record resolves
// with low confidence and no artifact.
func (r *Router) Resolve(ctx context.Context, question string) QueryRecord {
	ctx, span := tracer.Start(ctx, "Router.Resolve")
	defer span.End()

	start := time.Now()
	record := newQueryRecord(question)
	record.Classification = r.classifier.Classify(question)
	record.State = StateClassified

	embedding := r.embed(ctx, record)

	var candidates []patternstore.Match
	if embedding != nil {
		done, cands := r.tryCache(ctx, record, embedding)
		if done {
			r.finish(record, start, span)
			return *record
		}
		candidates = cands
	}

	if r.trySpecialized(ctx, record) {
		r.proposePattern(record, embedding)
		r.finish(record, start, span)
		return *record
	}

	if r.tryGeneral(ctx, record, embedding, candidates) {
		r.proposePattern(record, embedding)
		r.finish(record, start, span)
		return *record
	}

	// Every tier failed. The request still resolves, with nothing to offer.
	record.State = StateResolvedLowConfidence
	record.Tier = TierNone
	record.Confidence = 0
	r.finish(record, start, span)
	return *record
}

// embed computes the question embedding. An unavailable embedder is not an
// error: the cache tier is skipped and resolution continues.
func (r *Router) embed(ctx context.Context, record *QueryRecord) []float32 {
	embedding, err := r.embedder.EmbedQuery(ctx, record.Question)
	if err != nil {
		record.CacheSkipped = true
		cacheSkipsTotal.Inc()
		if errors.Is(err, embeddings.ErrUnavailable) {
			r.logger.Warn("embedder unavailable, skipping cache tier",
				zap.String("record_id", record.ID))
		} else {
			r.logger.Error("embedding failed, skipping cache tier",
				zap.String("record_id", record.ID),
				zap.Error(err))
		}
		return nil
	}
	return embedding
}

// tryCache checks the semantic cache. A high-confidence hit resolves the
// record; otherwise the sub-threshold candidates are returned for prompt
// context.
func (r *Router) tryCache(ctx context.Context, record *QueryRecord, embedding []float32) (bool, []patternstore.Match) {
	lookup, err := r.store.ThresholdLookup(ctx, embedding)
	record.State = StateCacheChecked
	if err != nil {
		r.logger.Error("cache lookup failed",
			zap.String("record_id", record.ID),
			zap.Error(err))
		return false, nil
	}

	if lookup.Hit != nil {
		record.State = StateResolvedCache
		record.Tier = TierCache
		record.Artifact = lookup.Hit.Artifact
		record.Confidence = lookup.Hit.Similarity
		record.PatternKey = lookup.Hit.Question
		return true, nil
	}
	return false, lookup.Candidates
}

// trySpecialized routes purely relational questions to the text-to-SQL
// tier. Anything touching the document store, requiring fusion, or lacking
// classification goes straight to the general tier.
func (r *Router) trySpecialized(ctx context.Context, record *QueryRecord) bool {
	if r.specialized == nil {
		return false
	}
	cl := record.Classification.Classification
	if cl.RequiresFusion || len(cl.Backends) != 1 || cl.Backends[0] != classifier.BackendRelational {
		return false
	}

	answer, err := r.specialized.GenerateQuery(ctx, record.Question)
	if err != nil {
		r.logger.Warn("specialized tier failed, falling through",
			zap.String("record_id", record.ID),
			zap.Error(err))
		return false
	}
	if answer.Score < r.config.SpecializedFloor {
		r.logger.Debug("specialized tier below confidence floor",
			zap.String("record_id", record.ID),
			zap.Float64("score", answer.Score))
		return false
	}

	record.State = StateResolvedSpecialized
	record.Tier = TierSpecialized
	record.Artifact = answer.Artifact
	record.Explanation = answer.Explanation
	record.Confidence = answer.Score
	record.PatternKey = patternstore.Canonicalize(record.Question)
	return true
}

// tryGeneral assembles a prompt with cache candidates and known-bad
// artifacts and asks the fallback model.
func (r *Router) tryGeneral(ctx context.Context, record *QueryRecord, embedding []float32, candidates []patternstore.Match) bool {
	if r.general == nil {
		return false
	}

	var avoid []patternstore.AvoidPattern
	if embedding != nil {
		var err error
		avoid, err = r.store.AvoidFor(ctx, embedding, r.config.AvoidK)
		if err != nil {
			r.logger.Debug("avoid lookup failed", zap.Error(err))
		}
	}

	prompt := r.prompts.Build(record.Question, record.Classification, candidates, avoid)
	answer, err := r.general.Generate(ctx, prompt)
	if err != nil {
		r.logger.Error("general tier failed",
			zap.String("record_id", record.ID),
			zap.Error(err))
		return false
	}

	record.State = StateResolvedGeneral
	record.Tier = TierGeneral
	record.Artifact = answer.Artifact
	record.Explanation = answer.Explanation
	record.Confidence = r.config.GeneralBaseline
	record.PatternKey = patternstore.Canonicalize(record.Question)
	return true
}

// proposePattern grows the cache in the background after a successful
// generative resolution. The write is detached from the request context so
// a fast client disconnect cannot abort it; Close waits for stragglers.
func (r *Router) proposePattern(record *QueryRecord, embedding []float32) {
	if embedding == nil || record.Artifact == "" {
		return
	}

	pattern := &patternstore.Pattern{
		Question:   record.Question,
		Artifact:   record.Artifact,
		Embedding:  embedding,
		Provenance: patternstore.ProvenanceAuto,
	}

	r.proposals.Add(1)
	go func() {
		defer r.proposals.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), 10*time.Second)
		defer cancel()
		if err := r.store.Upsert(ctx, pattern); err != nil {
			r.logger.Warn("auto pattern proposal failed",
				zap.String("record_id", record.ID),
				zap.Error(err))
			return
		}
		proposalsTotal.Inc()
	}()
}

func (r *Router) finish(record *QueryRecord, start time.Time, span trace.Span) {
	record.Duration = time.Since(start)
	r.records.put(record)

	resolutionsTotal.WithLabelValues(string(record.Tier), string(record.State)).Inc()
	resolutionDuration.WithLabelValues(string(record.Tier)).Observe(record.Duration.Seconds())
	span.SetAttributes(
		attribute.String("tier", string(record.Tier)),
		attribute.String("state", string(record.State)),
		attribute.Float64("confidence", record.Confidence),
	)

	r.logger.Info("question resolved",
		zap.String("record_id", record.ID),
		zap.String("tier", string(record.Tier)),
		zap.String("state", string(record.State)),
		zap.Float64("confidence", record.Confidence),
		zap.Duration("duration", record.Duration),
	)
}

// Close drains in-flight cache proposals.
func (r *Router) Close() error {
	done := make(chan struct{})
	go func() {
		r.proposals.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for pattern proposals")
	}
}
