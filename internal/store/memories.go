package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
)

// Memory is one extracted fact about an agent, deduplicated by NormalizedHash.
type Memory struct {
	ID             int64
	AgentID        int64
	Kind           string
	Text           string
	Confidence     float64
	SourceTurnID   *int64
	NormalizedHash string
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Embedding stores a raw vector for a document, tagged by model.
type Embedding struct {
	ID      int64
	DocType string
	DocID   int64
	Model   string
	Dim     int
	Vector  []float32
}

// MemoryVector pairs a memory with its stored embedding vector.
type MemoryVector struct {
	Memory *Memory
	Vector []float32
}

// GetMemoryByHash returns the memory with the given dedup hash, or (nil, nil).
func (s *Store) GetMemoryByHash(ctx context.Context, hash string) (*Memory, error) {
	row := s.q(ctx).QueryRow(ctx, `
		SELECT id, agent_id, kind, text, confidence, source_turn_id, normalized_hash, metadata, created_at, updated_at
		FROM memories WHERE normalized_hash = $1`, hash)
	m, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// GetMemory retrieves a memory by ID.
func (s *Store) GetMemory(ctx context.Context, id int64) (*Memory, error) {
	row := s.q(ctx).QueryRow(ctx, `
		SELECT id, agent_id, kind, text, confidence, source_turn_id, normalized_hash, metadata, created_at, updated_at
		FROM memories WHERE id = $1`, id)
	return scanMemory(row)
}

// InsertMemory creates a new memory row.
func (s *Store) InsertMemory(ctx context.Context, m *Memory) error {
	meta, err := marshalMeta(m.Metadata)
	if err != nil {
		return err
	}
	err = s.q(ctx).QueryRow(ctx, `
		INSERT INTO memories (agent_id, kind, text, confidence, source_turn_id, normalized_hash, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		m.AgentID, m.Kind, m.Text, m.Confidence, m.SourceTurnID, m.NormalizedHash, meta,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// UpdateMemory rewrites text, confidence, source link and metadata in place.
func (s *Store) UpdateMemory(ctx context.Context, m *Memory) error {
	meta, err := marshalMeta(m.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q(ctx).Exec(ctx, `
		UPDATE memories
		SET text = $2, confidence = $3, source_turn_id = $4, metadata = $5, updated_at = NOW()
		WHERE id = $1`,
		m.ID, m.Text, m.Confidence, m.SourceTurnID, meta)
	if err != nil {
		return fmt.Errorf("update memory %d: %w", m.ID, err)
	}
	return nil
}

// RecentMemories returns the newest memories for an agent.
func (s *Store) RecentMemories(ctx context.Context, agentID int64, limit int) ([]*Memory, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, agent_id, kind, text, confidence, source_turn_id, normalized_hash, metadata, created_at, updated_at
		FROM memories
		WHERE agent_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent memories for agent %d: %w", agentID, err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMemories returns the total number of memory rows.
func (s *Store) CountMemories(ctx context.Context) (int, error) {
	var n int
	if err := s.q(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

// InsertEmbedding stores a vector for a document, one per (doc_type, doc_id, model).
func (s *Store) InsertEmbedding(ctx context.Context, e *Embedding) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO embeddings (doc_type, doc_id, model, dim, vector)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doc_type, doc_id, model) DO UPDATE SET
			dim = EXCLUDED.dim,
			vector = EXCLUDED.vector`,
		e.DocType, e.DocID, e.Model, e.Dim, encodeVector(e.Vector))
	if err != nil {
		return fmt.Errorf("insert embedding %s/%d: %w", e.DocType, e.DocID, err)
	}
	return nil
}

// MemoryEmbeddings returns an agent's memories with vectors for one model.
// Rows whose stored vector does not match its declared dimension are skipped.
func (s *Store) MemoryEmbeddings(ctx context.Context, agentID int64, model string) ([]MemoryVector, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT m.id, m.agent_id, m.kind, m.text, m.confidence, m.source_turn_id, m.normalized_hash, m.metadata, m.created_at, m.updated_at,
		       e.dim, e.vector
		FROM embeddings e
		JOIN memories m ON m.id = e.doc_id
		WHERE e.doc_type = 'memory' AND e.model = $2 AND m.agent_id = $1`,
		agentID, model)
	if err != nil {
		return nil, fmt.Errorf("memory embeddings for agent %d: %w", agentID, err)
	}
	defer rows.Close()

	var out []MemoryVector
	for rows.Next() {
		var (
			m    Memory
			meta []byte
			dim  int
			raw  []byte
		)
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Kind, &m.Text, &m.Confidence, &m.SourceTurnID,
			&m.NormalizedHash, &meta, &m.CreatedAt, &m.UpdatedAt, &dim, &raw); err != nil {
			return nil, fmt.Errorf("scan memory embedding: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode memory metadata %d: %w", m.ID, err)
			}
		}
		vec := decodeVector(raw)
		if len(vec) != dim {
			continue
		}
		out = append(out, MemoryVector{Memory: &m, Vector: vec})
	}
	return out, rows.Err()
}

func scanMemory(row pgx.Row) (*Memory, error) {
	var (
		m    Memory
		meta []byte
	)
	err := row.Scan(&m.ID, &m.AgentID, &m.Kind, &m.Text, &m.Confidence, &m.SourceTurnID,
		&m.NormalizedHash, &meta, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode memory metadata %d: %w", m.ID, err)
		}
	}
	return &m, nil
}

func marshalMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal memory metadata: %w", err)
	}
	return data, nil
}

// encodeVector packs float32s as little-endian bytes for BYTEA storage.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(raw []byte) []float32 {
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec
}
