package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadJSONWithEnvSubstitution(t *testing.T) {
	os.Setenv("HAMLET_TEST_DSN", "postgres://env/db")
	defer os.Unsetenv("HAMLET_TEST_DSN")

	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"server": {"port": 9090, "log_level": "debug"},
		"database": {"postgres": {"dsn": "${HAMLET_TEST_DSN}"}},
		"reports_dir": "${HAMLET_TEST_MISSING:out}"
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Postgres.DSN != "postgres://env/db" {
		t.Errorf("dsn = %q, want env value", cfg.Database.Postgres.DSN)
	}
	if cfg.ReportsDir != "out" {
		t.Errorf("reports_dir = %q, want default substitution", cfg.ReportsDir)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Dialogue.TopKMemories != 5 {
		t.Errorf("top_k_memories = %d, want default 5", cfg.Dialogue.TopKMemories)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.yaml")
	data := `
world:
  day_start_hour: 9
  day_end_hour: 17
  tick_minutes: 30
action_weights:
  move: 1.0
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.DayStartHour != 9 || cfg.World.DayEndHour != 17 || cfg.World.TickMinutes != 30 {
		t.Errorf("world = %+v, want 9/17/30", cfg.World)
	}
	if cfg.ActionWeights["move"] != 1.0 {
		t.Errorf("move weight = %v, want 1.0", cfg.ActionWeights["move"])
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg, err := LoadOrDefault("does-not-exist.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if cfg == nil {
		t.Fatal("expected default config")
	}
	if len(cfg.Locations) != 5 {
		t.Errorf("default locations = %d, want 5", len(cfg.Locations))
	}
	var sum float64
	for _, w := range cfg.ActionWeights {
		sum += w
	}
	if sum < 0.99 || sum > 1.01 {
		t.Errorf("default weights sum = %v, want 1.0", sum)
	}
}
