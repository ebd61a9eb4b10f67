package embedding

import "context"

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New builds a Provider from config. Unknown provider types default to the
// local Ollama backend.
func New(cfg Config) Provider {
	switch cfg.Provider {
	case "api":
		return NewAPIProvider(cfg)
	default:
		return NewLocalProvider(cfg)
	}
}
