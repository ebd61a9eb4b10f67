package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Edge is a directed relationship between two named agents.
type Edge struct {
	FromName string  `json:"from_name"`
	ToName   string  `json:"to_name"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

// RelationGraph mirrors agent relationships into Neo4j for graph queries.
// Postgres remains the source of truth; mirror failures are non-fatal.
type RelationGraph struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewRelationGraph connects to Neo4j and returns the mirror.
func NewRelationGraph(uri, user, password string, logger *zap.Logger) (*RelationGraph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j connect %s: %w", uri, err)
	}
	return &RelationGraph{driver: driver, logger: logger}, nil
}

// UpsertEdge creates or updates a relationship edge between two agents.
func (g *RelationGraph) UpsertEdge(ctx context.Context, e Edge) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (a:Agent {name: $from})
		 MERGE (b:Agent {name: $to})
		 MERGE (a)-[r:KNOWS]->(b)
		 SET r.type = $type, r.strength = $strength, r.updated_at = datetime()`,
		map[string]any{
			"from":     e.FromName,
			"to":       e.ToName,
			"type":     e.Type,
			"strength": e.Strength,
		})
	if err != nil {
		return fmt.Errorf("upsert edge %s->%s: %w", e.FromName, e.ToName, err)
	}
	return nil
}

// Neighborhood returns all outgoing edges for a named agent.
func (g *RelationGraph) Neighborhood(ctx context.Context, name string) ([]Edge, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Agent {name: $name})-[r:KNOWS]->(b:Agent)
		 RETURN b.name, r.type, r.strength
		 ORDER BY r.strength DESC`,
		map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("neighborhood %s: %w", name, err)
	}

	var edges []Edge
	for result.Next(ctx) {
		rec := result.Record()
		to, _ := rec.Get("b.name")
		relType, _ := rec.Get("r.type")
		strength, _ := rec.Get("r.strength")

		e := Edge{FromName: name}
		if s, ok := to.(string); ok {
			e.ToName = s
		}
		if s, ok := relType.(string); ok {
			e.Type = s
		}
		if f, ok := strength.(float64); ok {
			e.Strength = f
		}
		edges = append(edges, e)
	}
	return edges, result.Err()
}

// Close releases the Neo4j driver.
func (g *RelationGraph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}
