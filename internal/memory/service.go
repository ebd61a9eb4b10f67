package memory

import (
	"context"
	"crypto/sha1"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/hamlet/internal/embedding"
	"github.com/nidhogg/hamlet/internal/graph"
	"github.com/nidhogg/hamlet/internal/store"
	"github.com/nidhogg/hamlet/internal/vectorstore"
)

// Store is the persistence surface the memory service needs.
type Store interface {
	GetMemory(ctx context.Context, id int64) (*store.Memory, error)
	GetMemoryByHash(ctx context.Context, hash string) (*store.Memory, error)
	InsertMemory(ctx context.Context, m *store.Memory) error
	UpdateMemory(ctx context.Context, m *store.Memory) error
	RecentMemories(ctx context.Context, agentID int64, limit int) ([]*store.Memory, error)
	MemoryEmbeddings(ctx context.Context, agentID int64, model string) ([]store.MemoryVector, error)
	InsertEmbedding(ctx context.Context, e *store.Embedding) error
	GetRelationship(ctx context.Context, fromID, toID int64) (*store.Relationship, error)
	InsertRelationship(ctx context.Context, r *store.Relationship) error
	UpdateRelationship(ctx context.Context, r *store.Relationship) error
	StrongestRelationships(ctx context.Context, fromID int64, limit int) ([]*store.Relationship, error)
}

// VectorIndex is an optional approximate-NN index over memory embeddings.
// Satisfied by *vectorstore.Collection.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error
	Search(ctx context.Context, vector []float32, topK uint64, must map[string]string) ([]*vectorstore.SearchResult, error)
}

// GraphMirror is an optional relationship mirror. Satisfied by
// *graph.RelationGraph.
type GraphMirror interface {
	UpsertEdge(ctx context.Context, e graph.Edge) error
}

// Options tune the memory service. Zero values pick defaults.
type Options struct {
	Embedder     embedding.Provider
	Index        VectorIndex
	Mirror       GraphMirror
	TopKMemories int
	TopKRecent   int
	WordBudget   int
}

// Service extracts facts from conversation turns, deduplicates them into
// persistent memories, and retrieves them for prompt context.
type Service struct {
	store        Store
	embedder     embedding.Provider
	index        VectorIndex
	mirror       GraphMirror
	topkMemories int
	topkRecent   int
	wordBudget   int
	logger       *zap.Logger

	mu           sync.RWMutex
	nameIndex    map[string]*store.Agent
	idIndex      map[int64]*store.Agent
	personaCache map[int64]string
}

// NewService creates a memory service over the given store.
func NewService(st Store, logger *zap.Logger, opts Options) *Service {
	if opts.TopKMemories < 1 {
		opts.TopKMemories = 5
	}
	if opts.TopKRecent < 1 {
		opts.TopKRecent = 3
	}
	if opts.WordBudget < 80 {
		opts.WordBudget = 300
	}
	return &Service{
		store:        st,
		embedder:     opts.Embedder,
		index:        opts.Index,
		mirror:       opts.Mirror,
		topkMemories: opts.TopKMemories,
		topkRecent:   opts.TopKRecent,
		wordBudget:   opts.WordBudget,
		logger:       logger,
		nameIndex:    make(map[string]*store.Agent),
		idIndex:      make(map[int64]*store.Agent),
		personaCache: make(map[int64]string),
	}
}

// RegisterAgent makes an agent resolvable by name for relationship facts and
// invalidates its cached persona.
func (s *Service) RegisterAgent(a *store.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nameIndex[strings.ToLower(a.Name)] = a
	s.idIndex[a.ID] = a
	delete(s.personaCache, a.ID)
}

// Stats summarizes the outcome of processing one turn.
type Stats struct {
	Facts         int `json:"facts"`
	Upserts       int `json:"upserts"`
	Relationships int `json:"relationships"`
}

// ProcessTurn extracts facts from a stored turn and upserts them as memories.
// Relationship mentions also strengthen the relationship edge, whether or not
// the fact itself was new.
func (s *Service) ProcessTurn(ctx context.Context, agent *store.Agent, turn *store.Turn) (Stats, error) {
	facts := ExtractFacts(turn.Content)
	stats := Stats{Facts: len(facts)}
	for _, fact := range facts {
		created, err := s.upsertMemory(ctx, agent, turn, fact)
		if err != nil {
			return stats, err
		}
		if created {
			stats.Upserts++
		}
		if fact.Kind == "relationship" && fact.Metadata != nil {
			n, err := s.updateRelationship(ctx, agent, fact.Metadata)
			if err != nil {
				return stats, err
			}
			stats.Relationships += n
		}
	}
	return stats, nil
}

func (s *Service) upsertMemory(ctx context.Context, agent *store.Agent, turn *store.Turn, fact Fact) (bool, error) {
	normalized := normalizeText(fact.Text)
	digest := fmt.Sprintf("%x", sha1.Sum([]byte(fmt.Sprintf("%d:%s:%s", agent.ID, fact.Kind, normalized))))

	existing, err := s.store.GetMemoryByHash(ctx, digest)
	if err != nil {
		return false, err
	}

	if existing == nil {
		m := &store.Memory{
			AgentID:        agent.ID,
			Kind:           fact.Kind,
			Text:           fact.Text,
			Confidence:     clampConfidence(fact.Confidence),
			SourceTurnID:   &turn.ID,
			NormalizedHash: digest,
			Metadata:       fact.Metadata,
		}
		if err := s.store.InsertMemory(ctx, m); err != nil {
			return false, err
		}
		s.embedMemory(ctx, m)
		return true, nil
	}

	if fact.Confidence > existing.Confidence {
		existing.Confidence = clampConfidence(fact.Confidence)
	}
	existing.Text = fact.Text
	existing.SourceTurnID = &turn.ID
	existing.Metadata = fact.Metadata
	if err := s.store.UpdateMemory(ctx, existing); err != nil {
		return false, err
	}
	return false, nil
}

func clampConfidence(c float64) float64 {
	if c < 0.2 {
		return 0.2
	}
	if c > 0.95 {
		return 0.95
	}
	return c
}

func (s *Service) updateRelationship(ctx context.Context, agent *store.Agent, meta map[string]string) (int, error) {
	relType := meta["relationship_type"]
	targetName := meta["target_name"]
	if relType == "" || targetName == "" {
		return 0, nil
	}

	s.mu.RLock()
	target := s.nameIndex[strings.ToLower(targetName)]
	s.mu.RUnlock()
	if target == nil {
		return 0, nil
	}

	rel, err := s.store.GetRelationship(ctx, agent.ID, target.ID)
	if err != nil {
		return 0, err
	}
	if rel == nil {
		rel = &store.Relationship{
			FromAgentID: agent.ID,
			ToAgentID:   target.ID,
			Type:        relType,
			Strength:    0.4,
			SinceDate:   time.Now().UTC(),
		}
		if err := s.store.InsertRelationship(ctx, rel); err != nil {
			return 0, err
		}
	} else {
		rel.Strength = min(1.0, rel.Strength+0.05)
		rel.Type = relType
		if err := s.store.UpdateRelationship(ctx, rel); err != nil {
			return 0, err
		}
	}

	if s.mirror != nil {
		edge := graph.Edge{
			FromName: agent.Name,
			ToName:   target.Name,
			Type:     rel.Type,
			Strength: rel.Strength,
		}
		if err := s.mirror.UpsertEdge(ctx, edge); err != nil {
			s.logger.Warn("relationship mirror failed", zap.Error(err))
		}
	}
	return 1, nil
}

// SaveReflection stores a reflection memory keyed on (day, tick, agent) so a
// replayed tick does not duplicate it.
func (s *Service) SaveReflection(ctx context.Context, agent *store.Agent, dayLabel string, tick int, text string) error {
	digest := fmt.Sprintf("reflection_%s_%d_%d", dayLabel, tick, agent.ID)
	existing, err := s.store.GetMemoryByHash(ctx, digest)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	m := &store.Memory{
		AgentID:        agent.ID,
		Kind:           "reflection",
		Text:           text,
		Confidence:     0.6,
		NormalizedHash: digest,
		Metadata: map[string]string{
			"tick": strconv.Itoa(tick),
			"day":  dayLabel,
		},
	}
	if err := s.store.InsertMemory(ctx, m); err != nil {
		return err
	}
	s.embedMemory(ctx, m)
	return nil
}

// embedMemory persists an embedding for a new memory. Failures are logged,
// never propagated; retrieval degrades to recency ordering.
func (s *Service) embedMemory(ctx context.Context, m *store.Memory) {
	if s.embedder == nil {
		return
	}
	vectors, err := s.embedder.Embed(ctx, []string{m.Text})
	if err != nil || len(vectors) == 0 {
		s.logger.Warn("embed memory failed", zap.Int64("memory", m.ID), zap.Error(err))
		return
	}
	vec := vectors[0]
	e := &store.Embedding{
		DocType: "memory",
		DocID:   m.ID,
		Model:   s.embedder.Model(),
		Dim:     len(vec),
		Vector:  vec,
	}
	if err := s.store.InsertEmbedding(ctx, e); err != nil {
		s.logger.Warn("persist embedding failed", zap.Int64("memory", m.ID), zap.Error(err))
		return
	}
	if s.index != nil {
		pointID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("memory:%d", m.ID))).String()
		payload := map[string]string{
			"memory_id": strconv.FormatInt(m.ID, 10),
			"agent_id":  strconv.FormatInt(m.AgentID, 10),
			"kind":      m.Kind,
		}
		if err := s.index.Upsert(ctx, pointID, vec, payload); err != nil {
			s.logger.Warn("vector index upsert failed", zap.Int64("memory", m.ID), zap.Error(err))
		}
	}
}

// RetrievalStats reports what went into a retrieval result.
type RetrievalStats struct {
	Memories int `json:"memories"`
	Recent   int `json:"recent"`
	Similar  int `json:"similar"`
}

// Retrieve returns up to topkMemories memories for an agent: similarity hits
// first when an embedder is configured, padded with the most recent ones.
func (s *Service) Retrieve(ctx context.Context, agentID int64, queryText string) ([]*store.Memory, RetrievalStats, error) {
	recents, err := s.store.RecentMemories(ctx, agentID, s.topkRecent)
	if err != nil {
		return nil, RetrievalStats{}, err
	}

	var similar []*store.Memory
	if s.embedder != nil && queryText != "" {
		similar, err = s.similarMemories(ctx, agentID, queryText)
		if err != nil {
			s.logger.Warn("similarity retrieval failed", zap.Int64("agent", agentID), zap.Error(err))
		}
	}

	ordered := make([]*store.Memory, 0, s.topkMemories)
	seen := make(map[int64]bool)
	for _, m := range similar {
		if seen[m.ID] {
			continue
		}
		ordered = append(ordered, m)
		seen[m.ID] = true
		if len(ordered) >= s.topkMemories {
			break
		}
	}
	for _, m := range recents {
		if len(ordered) >= s.topkMemories {
			break
		}
		if seen[m.ID] {
			continue
		}
		ordered = append(ordered, m)
		seen[m.ID] = true
	}

	stats := RetrievalStats{
		Memories: len(ordered),
		Recent:   len(recents),
		Similar:  len(similar),
	}
	return ordered, stats, nil
}

func (s *Service) similarMemories(ctx context.Context, agentID int64, queryText string) ([]*store.Memory, error) {
	vectors, err := s.embedder.Embed(ctx, []string{queryText})
	if err != nil || len(vectors) == 0 {
		return nil, err
	}
	queryVec := vectors[0]

	if s.index != nil {
		return s.indexSearch(ctx, agentID, queryVec)
	}

	pairs, err := s.store.MemoryEmbeddings(ctx, agentID, s.embedder.Model())
	if err != nil {
		return nil, err
	}
	type scored struct {
		score  float64
		memory *store.Memory
	}
	ranked := make([]scored, 0, len(pairs))
	for _, p := range pairs {
		score, ok := cosine(p.Vector, queryVec)
		if !ok {
			continue
		}
		ranked = append(ranked, scored{score: score, memory: p.Memory})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > s.topkMemories {
		ranked = ranked[:s.topkMemories]
	}
	out := make([]*store.Memory, len(ranked))
	for i, r := range ranked {
		out[i] = r.memory
	}
	return out, nil
}

func (s *Service) indexSearch(ctx context.Context, agentID int64, queryVec []float32) ([]*store.Memory, error) {
	hits, err := s.index.Search(ctx, queryVec, uint64(s.topkMemories),
		map[string]string{"agent_id": strconv.FormatInt(agentID, 10)})
	if err != nil {
		return nil, err
	}
	out := make([]*store.Memory, 0, len(hits))
	for _, hit := range hits {
		id, err := strconv.ParseInt(hit.Payload["memory_id"], 10, 64)
		if err != nil {
			continue
		}
		m, err := s.store.GetMemory(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// cosine returns the cosine similarity of two vectors, or ok=false when
// either has zero norm or the dimensions differ.
func cosine(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
