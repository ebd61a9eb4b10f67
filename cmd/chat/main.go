// Command chat is a console client for the world: it inspects the running
// world over HTTP and holds a streaming conversation with one agent's persona
// through a local model.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/hamlet/internal/provider"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "world view server URL")
	agentName := flag.String("agent", "Alice", "agent persona to chat with")
	endpoint := flag.String("endpoint", "http://localhost:11434", "model endpoint")
	model := flag.String("model", "llama3.2", "model name")
	providerType := flag.String("provider", "ollama", "provider type: ollama or openai")
	flag.Parse()

	logger := zap.NewNop()
	var gen provider.Provider
	opts := provider.Options{ID: "chat", Type: *providerType, Endpoint: *endpoint, APIKey: os.Getenv("OPENAI_API_KEY")}
	switch *providerType {
	case "openai":
		gen = provider.NewOpenAIProvider(opts, logger)
	default:
		gen = provider.NewOllamaProvider(opts, logger)
	}

	persona := fetchPersona(*server, *agentName)
	fmt.Printf("Chatting with %s. Type 'exit' to leave. Commands: /state, /agents\n---\n", *agentName)

	messages := []provider.Message{{Role: "system", Content: persona}}
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}
		if input == "/state" {
			fetchState(*server)
			continue
		}
		if input == "/agents" {
			fetchAgents(*server)
			continue
		}

		messages = append(messages, provider.Message{Role: "user", Content: input})
		reply, err := streamReply(gen, *model, messages)
		if err != nil {
			printError("generation failed: %v", err)
			messages = messages[:len(messages)-1]
			continue
		}
		messages = append(messages, provider.Message{Role: "assistant", Content: reply})
	}
}

// fetchPersona builds the system prompt from the agent's profile, falling
// back to a bare persona when the server is unreachable.
func fetchPersona(server, name string) string {
	fallback := fmt.Sprintf("You are %s. Be natural and conversational.", name)

	resp, err := http.Get(server + "/api/agents/" + name)
	if err != nil || resp.StatusCode != http.StatusOK {
		if resp != nil {
			resp.Body.Close()
		}
		printError("could not load %s from the server, using a bare persona", name)
		return fallback
	}
	defer resp.Body.Close()

	var agent struct {
		Name      string   `json:"name"`
		Bio       string   `json:"bio"`
		Job       string   `json:"job"`
		Interests []string `json:"interests"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&agent); err != nil {
		return fallback
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", agent.Name)
	if agent.Job != "" {
		fmt.Fprintf(&b, " Job: %s.", agent.Job)
	}
	if agent.Bio != "" {
		fmt.Fprintf(&b, " Bio: %s", agent.Bio)
	}
	if len(agent.Interests) > 0 {
		fmt.Fprintf(&b, " Interests: %s.", strings.Join(agent.Interests, ", "))
	}
	b.WriteString(" Keep responses brief. Stay in character.")
	return b.String()
}

func streamReply(gen provider.Provider, model string, messages []provider.Message) (string, error) {
	chunks, err := gen.ChatStream(context.Background(), &provider.ChatRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for chunk := range chunks {
		fmt.Print(chunk.Content)
		b.WriteString(chunk.Content)
	}
	fmt.Println()
	return b.String(), nil
}

func fetchState(server string) {
	resp, err := http.Get(server + "/api/state")
	if err != nil {
		printError("failed to fetch state: %v", err)
		return
	}
	defer resp.Body.Close()

	var state struct {
		AgentCount int `json:"agent_count"`
		Agents     []struct {
			Name      string         `json:"name"`
			Location  string         `json:"location"`
			LastEvent map[string]any `json:"last_event"`
		} `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		printError("failed to parse state: %v", err)
		return
	}
	fmt.Printf("World state (%d agents):\n", state.AgentCount)
	for _, a := range state.Agents {
		loc := a.Location
		if loc == "" {
			loc = "nowhere"
		}
		action := "-"
		if a.LastEvent != nil {
			if s, ok := a.LastEvent["action"].(string); ok {
				action = s
			}
		}
		fmt.Printf("  %s @ %s (last: %s)\n", a.Name, loc, action)
	}
}

func fetchAgents(server string) {
	resp, err := http.Get(server + "/api/agents")
	if err != nil {
		printError("failed to fetch agents: %v", err)
		return
	}
	defer resp.Body.Close()

	var agents []struct {
		Name string `json:"name"`
		Job  string `json:"job"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		printError("failed to parse agents: %v", err)
		return
	}
	if len(agents) == 0 {
		fmt.Println("No agents seeded yet.")
		return
	}
	fmt.Println("Agents:")
	for _, a := range agents {
		fmt.Printf("  %s (%s)\n", a.Name, a.Job)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
