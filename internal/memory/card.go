package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/hamlet/internal/store"
)

// BuildContextCard assembles persona, relationships and retrieved memories
// into a word-budgeted context block for prompt injection. Returns an empty
// card when the agent has neither persona nor memories.
func (s *Service) BuildContextCard(ctx context.Context, agent *store.Agent, queryText string) (string, RetrievalStats, error) {
	persona := s.personaLine(agent)
	relationships, err := s.relationshipLines(ctx, agent)
	if err != nil {
		return "", RetrievalStats{}, err
	}
	memories, stats, err := s.Retrieve(ctx, agent.ID, queryText)
	if err != nil {
		return "", stats, err
	}

	if persona == "" && len(memories) == 0 {
		return "", stats, nil
	}

	sections := []string{"Context Card - " + agent.Name}
	if persona != "" {
		sections = append(sections, "Persona: "+persona)
	}
	if len(relationships) > 0 {
		lines := make([]string, len(relationships))
		for i, line := range relationships {
			lines[i] = "- " + line
		}
		sections = append(sections, "Relationships:\n"+strings.Join(lines, "\n"))
	}
	if len(memories) > 0 {
		lines := make([]string, len(memories))
		for i, m := range memories {
			lines[i] = fmt.Sprintf("- [%s] %s", m.Kind, m.Text)
		}
		sections = append(sections, "Memories:\n"+strings.Join(lines, "\n"))
	}

	return s.clipSections(sections), stats, nil
}

// personaLine builds and caches the one-line persona summary for an agent.
func (s *Service) personaLine(agent *store.Agent) string {
	s.mu.RLock()
	cached, ok := s.personaCache[agent.ID]
	s.mu.RUnlock()
	if ok {
		return cached
	}

	var parts []string
	if bio := strings.TrimSpace(agent.Bio); bio != "" {
		parts = append(parts, bio)
	}
	if job := strings.TrimSpace(agent.Job); job != "" {
		parts = append(parts, "Job: "+job)
	}
	if len(agent.Interests) > 0 {
		top := agent.Interests
		if len(top) > 2 {
			top = top[:2]
		}
		tags := make([]string, len(top))
		for i, interest := range top {
			tags[i] = interest.Tag
		}
		parts = append(parts, "Interests: "+strings.Join(tags, ", "))
	}
	persona := strings.Join(parts, " | ")

	s.mu.Lock()
	s.personaCache[agent.ID] = persona
	s.mu.Unlock()
	return persona
}

// relationshipLines returns the agent's two strongest relationships.
func (s *Service) relationshipLines(ctx context.Context, agent *store.Agent) ([]string, error) {
	rels, err := s.store.StrongestRelationships(ctx, agent.ID, 2)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(rels))
	for _, rel := range rels {
		targetName := "unknown"
		s.mu.RLock()
		if target := s.idIndex[rel.ToAgentID]; target != nil {
			targetName = target.Name
		}
		s.mu.RUnlock()
		lines = append(lines, fmt.Sprintf("%s with %s (%.2f)", rel.Type, targetName, rel.Strength))
	}
	return lines, nil
}

// clipSections joins sections line by line until the word budget is reached,
// marking truncation with a trailing "..." line.
func (s *Service) clipSections(sections []string) string {
	words := 0
	var limited []string
	for _, block := range sections {
		for _, line := range strings.Split(block, "\n") {
			lineWords := len(strings.Fields(line))
			if lineWords == 0 {
				lineWords = 1
			}
			if words+lineWords > s.wordBudget {
				limited = append(limited, "...")
				return strings.Join(limited, "\n")
			}
			limited = append(limited, line)
			words += lineWords
		}
	}
	return strings.Join(limited, "\n")
}
