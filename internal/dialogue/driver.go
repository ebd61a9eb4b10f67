// Package dialogue runs bounded LLM conversations between world agents.
package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/hamlet/internal/memory"
	"github.com/nidhogg/hamlet/internal/provider"
	"github.com/nidhogg/hamlet/internal/store"
)

// Generator produces completions. Satisfied by *provider.Router.
type Generator interface {
	Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Store persists conversations and turns.
type Store interface {
	CreateConversation(ctx context.Context, c *store.Conversation) error
	InsertTurn(ctx context.Context, t *store.Turn) error
}

// Memorizer extracts memories from spoken turns and builds prompt context.
// Satisfied by *memory.Service.
type Memorizer interface {
	ProcessTurn(ctx context.Context, agent *store.Agent, turn *store.Turn) (memory.Stats, error)
	BuildContextCard(ctx context.Context, agent *store.Agent, queryText string) (string, memory.RetrievalStats, error)
}

// Utterance is one spoken line, serialized as {role, content} in event payloads.
type Utterance struct {
	Speaker string `json:"role"`
	Content string `json:"content"`
}

// Result is a completed exchange.
type Result struct {
	ConversationID string
	Transcript     []Utterance
	Errors         int
}

// Options tune the driver. Zero values pick defaults.
type Options struct {
	Model       string
	MaxWords    int
	TurnTimeout time.Duration
}

// Driver orchestrates duo and group conversations: it rebuilds the system
// prompt for whichever agent speaks next, persists every turn, and feeds
// spoken turns through the memorizer.
type Driver struct {
	gen         Generator
	store       Store
	mem         Memorizer
	model       string
	maxWords    int
	turnTimeout time.Duration
	logger      *zap.Logger
}

// NewDriver creates a dialogue driver. mem may be nil to skip memory extraction.
func NewDriver(gen Generator, st Store, mem Memorizer, logger *zap.Logger, opts Options) *Driver {
	if opts.Model == "" {
		opts.Model = "llama3.2"
	}
	if opts.MaxWords <= 0 {
		opts.MaxWords = 50
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 60 * time.Second
	}
	return &Driver{
		gen:         gen,
		store:       st,
		mem:         mem,
		model:       opts.Model,
		maxWords:    opts.MaxWords,
		turnTimeout: opts.TurnTimeout,
		logger:      logger,
	}
}

// RunDuo runs a two-agent exchange of turns*2 alternating utterances,
// starting with the initiator. A failed generation becomes an "[error: ...]"
// placeholder utterance and the exchange continues.
func (d *Driver) RunDuo(ctx context.Context, initiator, partner *store.Agent, topic string, turns int) (*Result, error) {
	if turns <= 0 {
		turns = 2
	}

	conv := &store.Conversation{
		Scenario:      fmt.Sprintf("World chat between %s and %s", initiator.Name, partner.Name),
		InitialPrompt: topic,
	}
	if err := d.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	current, other := initiator, partner
	messages := []provider.Message{
		{Role: "system", Content: d.systemPrompt(ctx, current, topic)},
		{Role: "user", Content: fmt.Sprintf("You are %s. Start a brief conversation about: %s", current.Name, topic)},
	}

	result := &Result{ConversationID: conv.ID}
	for i := 0; i < turns*2; i++ {
		content, err := d.generate(ctx, messages)
		if err != nil {
			result.Errors++
			content = fmt.Sprintf("[error: %v]", err)
			d.logger.Warn("dialogue turn failed",
				zap.String("conversation", conv.ID),
				zap.String("speaker", current.Name),
				zap.Error(err))
		}

		turn := &store.Turn{
			ConversationID: conv.ID,
			Round:          i / 2,
			Interaction:    0,
			TurnIndex:      i % 2,
			AgentID:        &current.ID,
			Model:          d.model,
			Role:           "assistant",
			Content:        content,
		}
		if insErr := d.store.InsertTurn(ctx, turn); insErr != nil {
			return result, insErr
		}
		if d.mem != nil && err == nil {
			if _, memErr := d.mem.ProcessTurn(ctx, current, turn); memErr != nil {
				d.logger.Warn("memory extraction failed", zap.String("speaker", current.Name), zap.Error(memErr))
			}
		}
		result.Transcript = append(result.Transcript, Utterance{Speaker: current.Name, Content: content})

		messages = append(messages, provider.Message{Role: "assistant", Content: content})
		current, other = other, current
		messages[0] = provider.Message{Role: "system", Content: d.systemPrompt(ctx, current, topic)}
		messages = append(messages, provider.Message{
			Role:    "user",
			Content: fmt.Sprintf("You are %s. Respond to what %s just said.", current.Name, other.Name),
		})
	}

	return result, nil
}

// RunGroup runs a shared-transcript group exchange: turnsPerAgent rounds over
// the given agent ordering, each reply appended as "Name: text" for the next
// speaker's context.
func (d *Driver) RunGroup(ctx context.Context, agents []*store.Agent, topic string, turnsPerAgent int) (*Result, error) {
	if len(agents) < 2 {
		return nil, fmt.Errorf("group chat needs at least 2 agents, got %d", len(agents))
	}
	if turnsPerAgent <= 0 {
		turnsPerAgent = 1
	}

	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	conv := &store.Conversation{
		Scenario:      "Group chat: " + strings.Join(names, ", "),
		InitialPrompt: topic,
	}
	if err := d.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	messages := []provider.Message{{Role: "system", Content: ""}}
	result := &Result{ConversationID: conv.ID}

	for round := 0; round < turnsPerAgent; round++ {
		for idx, agent := range agents {
			messages[0] = provider.Message{Role: "system", Content: d.systemPrompt(ctx, agent, topic)}

			content, err := d.generate(ctx, messages)
			if err != nil {
				result.Errors++
				content = fmt.Sprintf("[error: %v]", err)
				d.logger.Warn("group turn failed",
					zap.String("conversation", conv.ID),
					zap.String("speaker", agent.Name),
					zap.Error(err))
			}

			turn := &store.Turn{
				ConversationID: conv.ID,
				Round:          round,
				Interaction:    0,
				TurnIndex:      idx,
				AgentID:        &agent.ID,
				Model:          d.model,
				Role:           "assistant",
				Content:        content,
			}
			if insErr := d.store.InsertTurn(ctx, turn); insErr != nil {
				return result, insErr
			}
			if d.mem != nil && err == nil {
				if _, memErr := d.mem.ProcessTurn(ctx, agent, turn); memErr != nil {
					d.logger.Warn("memory extraction failed", zap.String("speaker", agent.Name), zap.Error(memErr))
				}
			}
			result.Transcript = append(result.Transcript, Utterance{Speaker: agent.Name, Content: content})

			messages = append(messages, provider.Message{
				Role:    "assistant",
				Content: agent.Name + ": " + content,
			})
		}
	}

	return result, nil
}

// generate calls the provider under a per-turn timeout.
func (d *Driver) generate(ctx context.Context, messages []provider.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.turnTimeout)
	defer cancel()

	resp, err := d.gen.Chat(ctx, &provider.ChatRequest{
		Model:    d.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// systemPrompt builds the speaker's persona prompt, with their context card
// appended when a memorizer is configured.
func (d *Driver) systemPrompt(ctx context.Context, agent *store.Agent, topic string) string {
	parts := []string{fmt.Sprintf("You are %s.", agent.Name)}
	if agent.Job != "" {
		parts = append(parts, fmt.Sprintf("Job: %s.", agent.Job))
	}
	if agent.Bio != "" {
		parts = append(parts, fmt.Sprintf("Bio: %s.", agent.Bio))
	}
	if len(agent.Interests) > 0 {
		top := agent.Interests
		if len(top) > 3 {
			top = top[:3]
		}
		tags := make([]string, len(top))
		for i, interest := range top {
			tags[i] = interest.Tag
		}
		parts = append(parts, fmt.Sprintf("Interests: %s.", strings.Join(tags, ", ")))
	}
	parts = append(parts,
		fmt.Sprintf("Keep responses under %d words.", d.maxWords),
		"Be natural and conversational.",
		"Stay in character.",
	)
	prompt := strings.Join(parts, " ")

	if d.mem != nil {
		card, _, err := d.mem.BuildContextCard(ctx, agent, topic)
		if err != nil {
			d.logger.Warn("context card failed", zap.String("agent", agent.Name), zap.Error(err))
		} else if card != "" {
			prompt += "\n\n" + card
		}
	}
	return prompt
}
