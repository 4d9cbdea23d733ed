package patternstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

var tracer = otel.Tracer("ffagent.patternstore")

const lockStripes = 64

// similarityEpsilon bounds what counts as a similarity tie for ranking.
const similarityEpsilon = 1e-9

// Config holds configuration for the pattern store.
type Config struct {
	// Path is the directory for persistent storage. Empty means in-memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the pattern collection name.
	// Default: "ffagent_patterns"
	Collection string

	// AvoidCollection holds failed-artifact records.
	// Default: "ffagent_avoid"
	AvoidCollection string

	// VectorSize is the fixed embedding dimension. Required.
	VectorSize int

	// HighConfidence is the similarity floor for a direct cache hit.
	// Default: 0.90
	HighConfidence float64

	// CandidateK is how many candidates a threshold lookup returns on miss.
	// Default: 5
	CandidateK int

	// LowPerformerFloor flags entries whose success rate falls below it.
	// Default: 0.40
	LowPerformerFloor float64

	// LowPerformerMinUses is the minimum feedback count before flagging.
	// Default: 5
	LowPerformerMinUses int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "ffagent_patterns"
	}
	if c.AvoidCollection == "" {
		c.AvoidCollection = "ffagent_avoid"
	}
	if c.HighConfidence == 0 {
		c.HighConfidence = 0.90
	}
	if c.CandidateK == 0 {
		c.CandidateK = 5
	}
	if c.LowPerformerFloor == 0 {
		c.LowPerformerFloor = 0.40
	}
	if c.LowPerformerMinUses == 0 {
		c.LowPerformerMinUses = 5
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.HighConfidence < 0 || c.HighConfidence > 1 {
		return fmt.Errorf("%w: high confidence must be in [0,1]", ErrInvalidConfig)
	}
	return nil
}

// Store is the semantic pattern cache.
//
// Reads are safe for concurrent use. Writes to a single canonical key are
// serialized through striped locks so racing feedback events cannot lose
// counter updates. There is no store-wide write lock.
type Store struct {
	db       *chromem.DB
	patterns *chromem.Collection
	avoid    *chromem.Collection
	config   Config
	logger   *zap.Logger

	// catalog tracks pattern IDs because chromem does not enumerate
	// documents. Persisted as a JSON sidecar when the store is persistent.
	catalog *catalog

	locks [lockStripes]sync.Mutex
}

// NewStore creates a pattern store. An empty Path selects a purely
// in-memory database, used in tests.
func NewStore(config Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var (
		db  *chromem.DB
		err error
	)
	catalogPath := ""
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(config.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", config.Path, err)
		}
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		catalogPath = filepath.Join(config.Path, "catalog.json")
	}

	cat, err := loadCatalog(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	patterns, err := db.GetOrCreateCollection(config.Collection, nil, rejectEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", config.Collection, err)
	}
	avoid, err := db.GetOrCreateCollection(config.AvoidCollection, nil, rejectEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", config.AvoidCollection, err)
	}

	s := &Store{
		db:       db,
		patterns: patterns,
		avoid:    avoid,
		config:   config,
		logger:   logger,
		catalog:  cat,
	}

	logger.Info("pattern store initialized",
		zap.String("path", config.Path),
		zap.Int("vector_size", config.VectorSize),
		zap.Float64("high_confidence", config.HighConfidence),
		zap.Int("patterns", patterns.Count()),
	)
	storeSize.Set(float64(patterns.Count()))

	return s, nil
}

// rejectEmbeddingFunc guards against chromem falling back to its default
// remote embedder: all embeddings in this store are precomputed.
func rejectEmbeddingFunc(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("pattern store requires precomputed embeddings")
}

// HighConfidence returns the configured direct-hit similarity floor.
func (s *Store) HighConfidence() float64 {
	return s.config.HighConfidence
}

// stripe returns the lock guarding writes for a canonical key.
func (s *Store) stripe(canonical string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(canonical))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *Store) checkDimension(embedding []float32) error {
	if len(embedding) != s.config.VectorSize {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.config.VectorSize)
	}
	return nil
}

// Upsert inserts or overwrites a pattern by canonical question text.
//
// Conflict rules:
//   - user_correction replaces auto unconditionally
//   - auto never downgrades an existing user_correction (write is dropped)
//   - auto over auto with an identical artifact only refreshes last_used,
//     preserving counters; a different artifact is last-write-wins
func (s *Store) Upsert(ctx context.Context, p *Pattern) error {
	ctx, span := tracer.Start(ctx, "Store.Upsert")
	defer span.End()

	if p == nil || p.Question == "" || p.Artifact == "" {
		return fmt.Errorf("%w: question and artifact are required", ErrInvalidPattern)
	}
	if !p.Provenance.Valid() {
		return fmt.Errorf("%w: unknown provenance %q", ErrInvalidPattern, p.Provenance)
	}
	if err := s.checkDimension(p.Embedding); err != nil {
		return err
	}

	canonical := Canonicalize(p.Question)
	id := PatternID(canonical)
	span.SetAttributes(attribute.String("pattern_id", id), attribute.String("provenance", string(p.Provenance)))

	mu := s.stripe(canonical)
	mu.Lock()
	defer mu.Unlock()

	now := timeNow()
	existing, err := s.getLocked(ctx, id)
	if err == nil {
		if existing.Provenance == ProvenanceUserCorrection && p.Provenance == ProvenanceAuto {
			s.logger.Debug("auto upsert dropped, user correction present",
				zap.String("pattern_id", id))
			return nil
		}
		if existing.Provenance == ProvenanceAuto && p.Provenance == ProvenanceAuto &&
			existing.Artifact == p.Artifact {
			existing.LastUsed = now
			return s.writeLocked(ctx, id, existing)
		}
		p.CreatedAt = existing.CreatedAt
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.Question = canonical
	p.LastUsed = now

	if err := s.writeLocked(ctx, id, p); err != nil {
		return err
	}
	s.catalog.put(id, canonical)
	upsertsTotal.WithLabelValues(string(p.Provenance)).Inc()
	storeSize.Set(float64(s.patterns.Count()))

	s.logger.Debug("pattern upserted",
		zap.String("pattern_id", id),
		zap.String("provenance", string(p.Provenance)))
	return nil
}

// Get retrieves a pattern by its canonical question.
func (s *Store) Get(ctx context.Context, question string) (*Pattern, error) {
	return s.getLocked(ctx, PatternID(question))
}

// getLocked fetches and decodes a document. Callers that mutate must hold
// the key's stripe lock.
func (s *Store) getLocked(ctx context.Context, id string) (*Pattern, error) {
	doc, err := s.patterns.GetByID(ctx, id)
	if err != nil {
		return nil, ErrPatternNotFound
	}
	return docToPattern(doc)
}

// writeLocked replaces a document. chromem has no in-place update, so this
// is delete-then-add, the same update path the underlying library expects.
func (s *Store) writeLocked(ctx context.Context, id string, p *Pattern) error {
	_ = s.patterns.Delete(ctx, nil, nil, id)
	if err := s.patterns.AddDocument(ctx, patternToDoc(id, p)); err != nil {
		return fmt.Errorf("storing pattern: %w", err)
	}
	return nil
}

// QueryNearest returns the k most similar patterns, descending.
//
// Similarity ties are broken by success rate, then user_correction
// provenance, then most recent last_used.
func (s *Store) QueryNearest(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "Store.QueryNearest")
	defer span.End()

	if err := s.checkDimension(embedding); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	count := s.patterns.Count()
	if count == 0 {
		return []Match{}, nil
	}
	n := k
	if n > count {
		n = count
	}

	results, err := s.patterns.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying patterns: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		p, err := docToPattern(chromem.Document{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Embedding: r.Embedding})
		if err != nil {
			s.logger.Warn("skipping undecodable pattern", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		matches = append(matches, Match{Pattern: *p, Similarity: float64(r.Similarity)})
	}

	rank(matches)
	span.SetAttributes(attribute.Int("results", len(matches)))
	return matches, nil
}

// ThresholdLookup returns the top match only when its similarity clears the
// high-confidence floor; otherwise the ranked candidates for use as
// generation context, not as a direct hit.
func (s *Store) ThresholdLookup(ctx context.Context, embedding []float32) (Lookup, error) {
	matches, err := s.QueryNearest(ctx, embedding, s.config.CandidateK)
	if err != nil {
		return Lookup{}, err
	}
	if len(matches) > 0 && matches[0].Similarity >= s.config.HighConfidence {
		lookupsTotal.WithLabelValues("hit").Inc()
		return Lookup{Hit: &matches[0]}, nil
	}
	if len(matches) > 0 {
		lookupsTotal.WithLabelValues("candidates").Inc()
	} else {
		lookupsTotal.WithLabelValues("empty").Inc()
	}
	return Lookup{Candidates: matches}, nil
}

// RecordSuccess increments the success counter for a canonical question.
func (s *Store) RecordSuccess(ctx context.Context, question string) error {
	return s.recordOutcome(ctx, question, true)
}

// RecordFailure increments the failure counter for a canonical question.
func (s *Store) RecordFailure(ctx context.Context, question string) error {
	return s.recordOutcome(ctx, question, false)
}

func (s *Store) recordOutcome(ctx context.Context, question string, success bool) error {
	ctx, span := tracer.Start(ctx, "Store.recordOutcome")
	defer span.End()

	canonical := Canonicalize(question)
	id := PatternID(canonical)

	mu := s.stripe(canonical)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}
	if success {
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	p.LastUsed = timeNow()

	if err := s.writeLocked(ctx, id, p); err != nil {
		return err
	}
	outcomesTotal.WithLabelValues(outcomeLabel(success)).Inc()
	return nil
}

// Flagged returns entries whose success rate has fallen below the
// low-performer floor after the minimum number of uses. Flagged entries are
// never deleted here; pruning is a separate, explicit operation.
func (s *Store) Flagged(ctx context.Context) ([]Pattern, error) {
	ctx, span := tracer.Start(ctx, "Store.Flagged")
	defer span.End()

	var flagged []Pattern
	for _, id := range s.catalog.ids() {
		p, err := s.getLocked(ctx, id)
		if err != nil {
			continue
		}
		if p.Uses() >= s.config.LowPerformerMinUses && p.SuccessRate() < s.config.LowPerformerFloor {
			flagged = append(flagged, *p)
		}
	}
	sort.Slice(flagged, func(i, j int) bool {
		return flagged[i].SuccessRate() < flagged[j].SuccessRate()
	})
	flaggedCount.Set(float64(len(flagged)))
	span.SetAttributes(attribute.Int("flagged", len(flagged)))
	return flagged, nil
}

// Prune removes the given canonical questions from the store. This is the
// explicit, reviewed removal path for flagged entries.
func (s *Store) Prune(ctx context.Context, questions []string) error {
	ctx, span := tracer.Start(ctx, "Store.Prune")
	defer span.End()

	for _, q := range questions {
		canonical := Canonicalize(q)
		id := PatternID(canonical)
		mu := s.stripe(canonical)
		mu.Lock()
		err := s.patterns.Delete(ctx, nil, nil, id)
		mu.Unlock()
		if err != nil {
			return fmt.Errorf("pruning %q: %w", canonical, err)
		}
		s.catalog.remove(id)
		s.logger.Info("pattern pruned", zap.String("pattern_id", id))
	}
	storeSize.Set(float64(s.patterns.Count()))
	return nil
}

// Count returns the number of stored patterns.
func (s *Store) Count() int {
	return s.patterns.Count()
}

// RecordAvoid stores a failed artifact so the generative tier can be told
// what to avoid for similar questions.
func (s *Store) RecordAvoid(ctx context.Context, a AvoidPattern, embedding []float32) error {
	if err := s.checkDimension(embedding); err != nil {
		return err
	}
	if a.SeenAt.IsZero() {
		a.SeenAt = timeNow()
	}
	id := PatternID(a.Question + "\x00" + a.Artifact)
	_ = s.avoid.Delete(ctx, nil, nil, id)
	doc := chromem.Document{
		ID:        id,
		Content:   Canonicalize(a.Question),
		Embedding: embedding,
		Metadata: map[string]string{
			"artifact": a.Artifact,
			"err_kind": a.ErrKind,
			"seen_at":  strconv.FormatInt(a.SeenAt.Unix(), 10),
		},
	}
	if err := s.avoid.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("storing avoid pattern: %w", err)
	}
	return nil
}

// AvoidFor returns failed artifacts semantically near the query embedding.
func (s *Store) AvoidFor(ctx context.Context, embedding []float32, k int) ([]AvoidPattern, error) {
	if err := s.checkDimension(embedding); err != nil {
		return nil, err
	}
	count := s.avoid.Count()
	if count == 0 || k <= 0 {
		return []AvoidPattern{}, nil
	}
	if k > count {
		k = count
	}
	results, err := s.avoid.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying avoid patterns: %w", err)
	}
	out := make([]AvoidPattern, 0, len(results))
	for _, r := range results {
		seen, _ := strconv.ParseInt(r.Metadata["seen_at"], 10, 64)
		out = append(out, AvoidPattern{
			Question: r.Content,
			Artifact: r.Metadata["artifact"],
			ErrKind:  r.Metadata["err_kind"],
			SeenAt:   time.Unix(seen, 0),
		})
	}
	return out, nil
}

// Close persists the catalog. chromem persists documents as it goes.
func (s *Store) Close() error {
	return s.catalog.flush()
}

// rank orders matches by similarity descending with explicit tie-breaking:
// success rate, then user_correction provenance, then last_used recency.
func rank(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if diff := a.Similarity - b.Similarity; diff > similarityEpsilon || diff < -similarityEpsilon {
			return a.Similarity > b.Similarity
		}
		if ra, rb := a.SuccessRate(), b.SuccessRate(); ra != rb {
			return ra > rb
		}
		if a.Provenance != b.Provenance {
			return a.Provenance == ProvenanceUserCorrection
		}
		return a.LastUsed.After(b.LastUsed)
	})
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// patternToDoc encodes a pattern as a chromem document. Counters are
// stored in metadata; the canonical question is the document content.
func patternToDoc(id string, p *Pattern) chromem.Document {
	return chromem.Document{
		ID:        id,
		Content:   p.Question,
		Embedding: p.Embedding,
		Metadata: map[string]string{
			"artifact":      p.Artifact,
			"provenance":    string(p.Provenance),
			"success_count": strconv.Itoa(p.SuccessCount),
			"failure_count": strconv.Itoa(p.FailureCount),
			"last_used":     strconv.FormatInt(p.LastUsed.Unix(), 10),
			"created_at":    strconv.FormatInt(p.CreatedAt.Unix(), 10),
		},
	}
}

// docToPattern decodes a chromem document back into a pattern.
func docToPattern(doc chromem.Document) (*Pattern, error) {
	prov := Provenance(doc.Metadata["provenance"])
	if !prov.Valid() {
		return nil, fmt.Errorf("%w: bad provenance %q", ErrInvalidPattern, doc.Metadata["provenance"])
	}
	success, _ := strconv.Atoi(doc.Metadata["success_count"])
	failure, _ := strconv.Atoi(doc.Metadata["failure_count"])
	lastUsed, _ := strconv.ParseInt(doc.Metadata["last_used"], 10, 64)
	createdAt, _ := strconv.ParseInt(doc.Metadata["created_at"], 10, 64)

	return &Pattern{
		Question:     doc.Content,
		Artifact:     doc.Metadata["artifact"],
		Embedding:    doc.Embedding,
		SuccessCount: success,
		FailureCount: failure,
		LastUsed:     time.Unix(lastUsed, 0),
		CreatedAt:    time.Unix(createdAt, 0),
		Provenance:   prov,
	}, nil
}
