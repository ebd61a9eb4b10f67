package world

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/hamlet/internal/dialogue"
	"github.com/nidhogg/hamlet/internal/store"
)

// ActionKind identifies one of the closed set of agent actions.
type ActionKind string

const (
	ActionMove           ActionKind = "move"
	ActionSoloReflection ActionKind = "solo_reflection"
	ActionDuoChat        ActionKind = "duo_chat"
	ActionGroupMeeting   ActionKind = "group_meeting"
	ActionTaskUpdate     ActionKind = "task_update"
)

// ActionOrder fixes the iteration order for weighted draws so a seeded rng
// reproduces the same sequence.
var ActionOrder = []ActionKind{
	ActionMove,
	ActionSoloReflection,
	ActionDuoChat,
	ActionGroupMeeting,
	ActionTaskUpdate,
}

// DefaultActionWeights returns the built-in draw distribution.
func DefaultActionWeights() map[ActionKind]float64 {
	return map[ActionKind]float64{
		ActionMove:           0.15,
		ActionSoloReflection: 0.20,
		ActionDuoChat:        0.30,
		ActionGroupMeeting:   0.20,
		ActionTaskUpdate:     0.15,
	}
}

// ActionStore is the persistence surface the dispatcher needs beyond the
// environment.
type ActionStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	InsertEvent(ctx context.Context, ev *store.WorldEvent) error
	GetActivityByName(ctx context.Context, name string) (*store.Activity, error)
	ListLocations(ctx context.Context, limit int) ([]*store.Location, error)
	ListAgents(ctx context.Context, limit int) ([]*store.Agent, error)
}

// Dialoguer runs LLM conversations. Satisfied by *dialogue.Driver.
type Dialoguer interface {
	RunDuo(ctx context.Context, initiator, partner *store.Agent, topic string, turns int) (*dialogue.Result, error)
	RunGroup(ctx context.Context, agents []*store.Agent, topic string, turnsPerAgent int) (*dialogue.Result, error)
}

// Reflector stores reflection memories. Satisfied by *memory.Service.
type Reflector interface {
	SaveReflection(ctx context.Context, agent *store.Agent, dayLabel string, tick int, text string) error
}

// Publisher pushes committed event payloads to a live feed. Satisfied by
// *bus.Feed.
type Publisher interface {
	Publish(ctx context.Context, payload map[string]any) error
}

var reflectionPrompts = []string{
	"reflect on recent experiences",
	"think about goals and aspirations",
	"review the day's events",
	"contemplate personal growth",
}

var chatTopics = []string{
	"weekend plans",
	"a book or show recently enjoyed",
	"how current projects are going",
	"favorite spots around town",
}

var workTasks = []string{
	"code review",
	"feature implementation",
	"bug fixing",
	"documentation",
	"planning",
}

type handlerFunc func(ctx context.Context, agent *store.Agent, tick int, dayLabel string, hour int, dryRun bool) (map[string]any, error)

// Dispatcher draws a weighted action for an agent and executes it. All of an
// action's writes commit as one transaction; expected can't-proceed outcomes
// are reported through a status field, not an error.
type Dispatcher struct {
	store    ActionStore
	env      *Environment
	dialogue Dialoguer
	mem      Reflector
	feed     Publisher
	weights  map[ActionKind]float64
	rng      *rand.Rand
	now      func() time.Time
	logger   *zap.Logger
	handlers map[ActionKind]handlerFunc
}

// DispatcherOptions hold optional collaborators. Nil fields disable the
// corresponding side effects.
type DispatcherOptions struct {
	Dialogue Dialoguer
	Memory   Reflector
	Feed     Publisher
	Weights  map[ActionKind]float64
	Now      func() time.Time
}

// NewDispatcher creates an action dispatcher.
func NewDispatcher(st ActionStore, env *Environment, rng *rand.Rand, logger *zap.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.Weights == nil {
		opts.Weights = DefaultActionWeights()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	d := &Dispatcher{
		store:    st,
		env:      env,
		dialogue: opts.Dialogue,
		mem:      opts.Memory,
		feed:     opts.Feed,
		weights:  opts.Weights,
		rng:      rng,
		now:      opts.Now,
		logger:   logger,
	}
	d.handlers = map[ActionKind]handlerFunc{
		ActionMove:           d.move,
		ActionSoloReflection: d.soloReflection,
		ActionDuoChat:        d.duoChat,
		ActionGroupMeeting:   d.groupStandup,
		ActionTaskUpdate:     d.taskUpdate,
	}
	return d
}

// Draw picks an action kind by weight, walking ActionOrder so the outcome is
// a pure function of the rng state.
func (d *Dispatcher) Draw() ActionKind {
	var total float64
	for _, kind := range ActionOrder {
		total += d.weights[kind]
	}
	if total <= 0 {
		return ActionTaskUpdate
	}
	r := d.rng.Float64() * total
	for _, kind := range ActionOrder {
		r -= d.weights[kind]
		if r < 0 {
			return kind
		}
	}
	return ActionOrder[len(ActionOrder)-1]
}

// Dispatch draws and executes one action for the agent. When persisting, the
// handler runs inside a single transaction and the committed payload is then
// offered to the live feed.
func (d *Dispatcher) Dispatch(ctx context.Context, agent *store.Agent, tick int, dayLabel string, hour int, dryRun bool) (map[string]any, error) {
	kind := d.Draw()
	handler := d.handlers[kind]

	d.logger.Info("action",
		zap.String("agent", agent.Name),
		zap.String("kind", string(kind)),
		zap.Int("tick", tick),
		zap.Int("hour", hour))

	var meta map[string]any
	run := func(ctx context.Context) error {
		var err error
		meta, err = handler(ctx, agent, tick, dayLabel, hour, dryRun)
		return err
	}

	var err error
	if dryRun {
		err = run(ctx)
	} else {
		err = d.store.InTx(ctx, run)
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch %s for %s: %w", kind, agent.Name, err)
	}

	if !dryRun && d.feed != nil && meta != nil {
		if pubErr := d.feed.Publish(ctx, meta); pubErr != nil {
			d.logger.Warn("event feed publish failed", zap.Error(pubErr))
		}
	}
	return meta, nil
}

func (d *Dispatcher) logEvent(ctx context.Context, agent *store.Agent, tick int, activity *store.Activity, loc *store.Location, meta map[string]any) error {
	ev := &store.WorldEvent{
		AgentID:   agent.ID,
		TickIndex: tick,
		Payload:   meta,
	}
	if activity != nil {
		ev.ActivityID = &activity.ID
	}
	if loc != nil {
		ev.LocationID = &loc.ID
	}
	return d.store.InsertEvent(ctx, ev)
}

func (d *Dispatcher) move(ctx context.Context, agent *store.Agent, tick int, dayLabel string, hour int, dryRun bool) (map[string]any, error) {
	current, err := d.env.CurrentLocation(ctx, agent)
	if err != nil {
		return nil, err
	}

	var candidates []*store.Location
	if current != nil {
		candidates, err = d.env.Nearby(ctx, current, defaultTravelMinutes)
	} else {
		candidates, err = d.store.ListLocations(ctx, 5)
	}
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return map[string]any{"action": "move", "status": "no_destinations"}, nil
	}

	var open []*store.Location
	for _, loc := range candidates {
		if d.env.IsOpen(loc, hour) {
			open = append(open, loc)
		}
	}
	if len(open) == 0 {
		return map[string]any{"action": "move", "status": "all_closed"}, nil
	}

	target := open[d.rng.Intn(len(open))]

	from := "unknown"
	if current != nil {
		from = current.Name
	}
	meta := map[string]any{
		"action":    "move",
		"from":      from,
		"to":        target.Name,
		"hour":      hour,
		"day_label": dayLabel,
	}

	if !dryRun {
		if err := d.env.Move(ctx, agent, target, d.now()); err != nil {
			return nil, err
		}
		meta["success"] = true
		meta["error"] = nil
		if err := d.logEvent(ctx, agent, tick, nil, target, meta); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

func (d *Dispatcher) soloReflection(ctx context.Context, agent *store.Agent, tick int, dayLabel string, hour int, dryRun bool) (map[string]any, error) {
	activity, err := d.store.GetActivityByName(ctx, "reflection")
	if err != nil {
		return nil, err
	}
	loc, err := d.env.CurrentLocation(ctx, agent)
	if err != nil {
		return nil, err
	}

	prompt := reflectionPrompts[d.rng.Intn(len(reflectionPrompts))]
	meta := map[string]any{
		"action":    "solo_reflection",
		"prompt":    prompt,
		"hour":      hour,
		"location":  locationName(loc),
		"day_label": dayLabel,
	}

	if !dryRun {
		if err := d.logEvent(ctx, agent, tick, activity, loc, meta); err != nil {
			return nil, err
		}
		if d.mem != nil {
			text := fmt.Sprintf("%s spent time %s", agent.Name, prompt)
			if err := d.mem.SaveReflection(ctx, agent, dayLabel, tick, text); err != nil {
				return nil, err
			}
		}
	}
	return meta, nil
}

func (d *Dispatcher) duoChat(ctx context.Context, agent *store.Agent, tick int, dayLabel string, hour int, dryRun bool) (map[string]any, error) {
	activity, err := d.store.GetActivityByName(ctx, "coffee_chat")
	if err != nil {
		return nil, err
	}
	loc, err := d.env.CurrentLocation(ctx, agent)
	if err != nil {
		return nil, err
	}

	var partners []*store.Agent
	if loc != nil {
		here, err := d.env.AgentsAt(ctx, loc)
		if err != nil {
			return nil, err
		}
		for _, a := range here {
			if a.ID != agent.ID {
				partners = append(partners, a)
			}
		}
	} else {
		all, err := d.store.ListAgents(ctx, 4)
		if err != nil {
			return nil, err
		}
		for _, a := range all {
			if a.ID != agent.ID && len(partners) < 3 {
				partners = append(partners, a)
			}
		}
	}
	if len(partners) == 0 {
		return map[string]any{"action": "duo_chat", "status": "no_partner"}, nil
	}

	partner := partners[d.rng.Intn(len(partners))]
	topic := chatTopics[d.rng.Intn(len(chatTopics))]
	meta := map[string]any{
		"action":    "duo_chat",
		"agent_a":   agent.Name,
		"agent_b":   partner.Name,
		"topic":     topic,
		"location":  locationName(loc),
		"hour":      hour,
		"day_label": dayLabel,
	}

	if !dryRun {
		if d.dialogue != nil {
			result, err := d.dialogue.RunDuo(ctx, agent, partner, topic, 2)
			if err != nil {
				return nil, err
			}
			meta["conversation_id"] = result.ConversationID
			meta["conversation"] = result.Transcript
		}
		if err := d.logEvent(ctx, agent, tick, activity, loc, meta); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

func (d *Dispatcher) groupStandup(ctx context.Context, agent *store.Agent, tick int, dayLabel string, hour int, dryRun bool) (map[string]any, error) {
	activity, err := d.store.GetActivityByName(ctx, "team_standup")
	if err != nil {
		return nil, err
	}
	loc, err := d.env.CurrentLocation(ctx, agent)
	if err != nil {
		return nil, err
	}

	participants := []*store.Agent{agent}
	if loc != nil {
		here, err := d.env.AgentsAt(ctx, loc)
		if err != nil {
			return nil, err
		}
		if len(here) > 0 {
			participants = here
		}
	}
	names := make([]string, len(participants))
	for i, a := range participants {
		names[i] = a.Name
	}

	meta := map[string]any{
		"action":       "group_standup",
		"participants": names,
		"location":     locationName(loc),
		"hour":         hour,
		"day_label":    dayLabel,
	}

	if !dryRun {
		if d.dialogue != nil && len(participants) >= 2 {
			topic := "quick team status update"
			if activity != nil && activity.Prompt != "" {
				topic = activity.Prompt
			}
			result, err := d.dialogue.RunGroup(ctx, participants, topic, 1)
			if err != nil {
				return nil, err
			}
			meta["conversation_id"] = result.ConversationID
			meta["conversation"] = result.Transcript
		}
		if err := d.logEvent(ctx, agent, tick, activity, loc, meta); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

func (d *Dispatcher) taskUpdate(ctx context.Context, agent *store.Agent, tick int, dayLabel string, hour int, dryRun bool) (map[string]any, error) {
	activity, err := d.store.GetActivityByName(ctx, "work_task")
	if err != nil {
		return nil, err
	}
	loc, err := d.env.CurrentLocation(ctx, agent)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{
		"action":    "task_update",
		"task":      workTasks[d.rng.Intn(len(workTasks))],
		"location":  locationName(loc),
		"hour":      hour,
		"day_label": dayLabel,
	}

	if !dryRun {
		if err := d.logEvent(ctx, agent, tick, activity, loc, meta); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

func locationName(loc *store.Location) string {
	if loc == nil {
		return "unknown"
	}
	return loc.Name
}
