// Package feedback turns user verdicts on resolved questions into pattern
// statistics, corrections, and retraining signals.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/VelocityFibre/ff-agent/internal/embeddings"
	"github.com/VelocityFibre/ff-agent/internal/patternstore"
	"github.com/VelocityFibre/ff-agent/internal/router"
)

var tracer = otel.Tracer("ffagent.feedback")

var (
	// ErrUnknownQuery indicates feedback referenced no known query record.
	ErrUnknownQuery = errors.New("unknown query record")

	// ErrInvalidVerdict indicates an unrecognized verdict value.
	ErrInvalidVerdict = errors.New("invalid verdict")

	// ErrMissingCorrection indicates a correction verdict without an artifact.
	ErrMissingCorrection = errors.New("correction verdict requires an artifact")
)

// Verdict is the user's judgement of a resolution.
type Verdict string

const (
	// VerdictPositive confirms the artifact worked.
	VerdictPositive Verdict = "positive"

	// VerdictNegative reports the artifact failed or was wrong.
	VerdictNegative Verdict = "negative"

	// VerdictCorrection supplies the artifact that should have been produced.
	VerdictCorrection Verdict = "correction"

	// VerdictNeutral records that feedback arrived without a judgement. The
	// record's outcome stays pending.
	VerdictNeutral Verdict = "neutral"
)

// Valid reports whether the verdict is recognized.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPositive, VerdictNegative, VerdictCorrection, VerdictNeutral:
		return true
	}
	return false
}

// Event is one piece of user feedback.
type Event struct {
	// RecordID identifies the resolution being judged.
	RecordID string `json:"record_id"`

	Verdict Verdict `json:"verdict"`

	// CorrectedArtifact is the right answer, required for corrections.
	CorrectedArtifact string `json:"corrected_artifact,omitempty"`

	// ErrKind describes how a failed artifact failed (execution error,
	// wrong results). Optional, used for avoid-pattern bookkeeping.
	ErrKind string `json:"err_kind,omitempty"`
}

// Config holds learner tuning.
type Config struct {
	// RetrainThreshold is how many corrections accumulate before a retrain
	// signal is published.
	// Default: 50
	RetrainThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.RetrainThreshold == 0 {
		c.RetrainThreshold = 50
	}
}

// Learner applies feedback to the pattern store and counts corrections
// toward retraining.
//
// Ingest is deliberately not idempotent: replaying the same event moves
// the counters again. Callers own deduplication.
type Learner struct {
	config   Config
	records  *router.RecordStore
	store    *patternstore.Store
	embedder embeddings.Provider
	events   Events
	logger   *zap.Logger

	corrections atomic.Int64
}

// NewLearner creates a feedback learner.
func NewLearner(config Config, records *router.RecordStore, store *patternstore.Store, embedder embeddings.Provider, events Events, logger *zap.Logger) *Learner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = NoopEvents{}
	}
	config.ApplyDefaults()

	return &Learner{
		config:   config,
		records:  records,
		store:    store,
		embedder: embedder,
		events:   events,
		logger:   logger,
	}
}

// Corrections returns how many corrections have been ingested.
func (l *Learner) Corrections() int64 {
	return l.corrections.Load()
}

// Ingest applies one feedback event.
//
// The record's outcome is decided by the first judging verdict; later
// verdicts still update pattern counters but cannot flip the outcome.
func (l *Learner) Ingest(ctx context.Context, event Event) error {
	ctx, span := tracer.Start(ctx, "Learner.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("record_id", event.RecordID),
		attribute.String("verdict", string(event.Verdict)),
	)

	if !event.Verdict.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidVerdict, event.Verdict)
	}

	record, err := l.records.Get(event.RecordID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownQuery, event.RecordID)
	}

	feedbackTotal.WithLabelValues(string(event.Verdict)).Inc()

	switch event.Verdict {
	case VerdictPositive:
		return l.ingestPositive(ctx, record)
	case VerdictNegative:
		return l.ingestNegative(ctx, record, event)
	case VerdictCorrection:
		return l.ingestCorrection(ctx, record, event)
	case VerdictNeutral:
		l.logger.Debug("neutral feedback recorded",
			zap.String("record_id", record.ID))
		return nil
	}
	return nil
}

func (l *Learner) ingestPositive(ctx context.Context, record router.QueryRecord) error {
	l.setOutcome(record.ID, router.OutcomeSuccess)
	if record.PatternKey == "" {
		return nil
	}

	err := l.store.RecordSuccess(ctx, record.PatternKey)
	if errors.Is(err, patternstore.ErrPatternNotFound) {
		// The async proposal may not have landed yet, or the entry was
		// pruned. Seed it from the record so the success is not lost.
		if err := l.seedPattern(ctx, record, record.Artifact, patternstore.ProvenanceAuto); err != nil {
			return err
		}
		err = l.store.RecordSuccess(ctx, record.Question)
	}
	if err != nil {
		return fmt.Errorf("recording success: %w", err)
	}
	return nil
}

func (l *Learner) ingestNegative(ctx context.Context, record router.QueryRecord, event Event) error {
	l.setOutcome(record.ID, router.OutcomeFailure)

	if record.PatternKey != "" {
		if err := l.store.RecordFailure(ctx, record.PatternKey); err != nil &&
			!errors.Is(err, patternstore.ErrPatternNotFound) {
			return fmt.Errorf("recording failure: %w", err)
		}
	}

	if err := l.recordAvoid(ctx, record, event.ErrKind); err != nil {
		return err
	}

	// A negative verdict may carry the right answer inline.
	if event.CorrectedArtifact != "" {
		return l.learnCorrection(ctx, record, event.CorrectedArtifact)
	}
	return nil
}

// recordAvoid remembers the failed artifact so later prompts can steer away
// from it. Missing artifacts and embedding failures skip the entry.
func (l *Learner) recordAvoid(ctx context.Context, record router.QueryRecord, errKind string) error {
	if record.Artifact == "" {
		return nil
	}
	embedding, err := l.embedder.EmbedQuery(ctx, record.Question)
	if err != nil {
		l.logger.Warn("skipping avoid pattern, embedding failed",
			zap.String("record_id", record.ID),
			zap.Error(err))
		return nil
	}
	if errKind == "" {
		errKind = "wrong_results"
	}
	return l.store.RecordAvoid(ctx, patternstore.AvoidPattern{
		Question: record.Question,
		Artifact: record.Artifact,
		ErrKind:  errKind,
	}, embedding)
}

func (l *Learner) ingestCorrection(ctx context.Context, record router.QueryRecord, event Event) error {
	if event.CorrectedArtifact == "" {
		return ErrMissingCorrection
	}

	l.setOutcome(record.ID, router.OutcomeFailure)

	if record.PatternKey != "" && record.PatternKey != patternstore.Canonicalize(record.Question) {
		// The answer came from a different cached pattern; charge the miss
		// to that entry.
		if err := l.store.RecordFailure(ctx, record.PatternKey); err != nil &&
			!errors.Is(err, patternstore.ErrPatternNotFound) {
			return fmt.Errorf("recording failure: %w", err)
		}
	}

	return l.learnCorrection(ctx, record, event.CorrectedArtifact)
}

// learnCorrection upserts the corrected artifact as a user_correction
// pattern and counts it toward the retrain threshold.
func (l *Learner) learnCorrection(ctx context.Context, record router.QueryRecord, artifact string) error {
	if err := l.seedPattern(ctx, record, artifact, patternstore.ProvenanceUserCorrection); err != nil {
		return err
	}

	count := l.corrections.Add(1)
	correctionsGauge.Set(float64(count))
	if count%int64(l.config.RetrainThreshold) == 0 {
		if err := l.events.RetrainDue(ctx, count); err != nil {
			l.logger.Error("publishing retrain signal failed",
				zap.Int64("corrections", count),
				zap.Error(err))
		} else {
			l.logger.Info("retrain signal published",
				zap.Int64("corrections", count))
		}
	}
	return nil
}

// seedPattern writes a pattern for the record's question.
func (l *Learner) seedPattern(ctx context.Context, record router.QueryRecord, artifact string, provenance patternstore.Provenance) error {
	embedding, err := l.embedder.EmbedQuery(ctx, record.Question)
	if err != nil {
		return fmt.Errorf("embedding for pattern seed: %w", err)
	}
	pattern := &patternstore.Pattern{
		Question:   record.Question,
		Artifact:   artifact,
		Embedding:  embedding,
		Provenance: provenance,
	}
	if err := l.store.Upsert(ctx, pattern); err != nil {
		return fmt.Errorf("seeding pattern: %w", err)
	}
	return nil
}

func (l *Learner) setOutcome(id string, outcome router.Outcome) {
	_, err := l.records.SetOutcome(id, outcome)
	if err != nil && !errors.Is(err, router.ErrOutcomeAlreadySet) {
		l.logger.Warn("setting record outcome failed",
			zap.String("record_id", id),
			zap.Error(err))
	}
}
