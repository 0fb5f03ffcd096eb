package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8090" {
		t.Errorf("expected port 8090, got %s", cfg.Server.Port)
	}
	if cfg.Orchestrator.MaxDebateTurns != 2 {
		t.Errorf("expected max_debate_turns 2, got %d", cfg.Orchestrator.MaxDebateTurns)
	}
	if cfg.LLMProxy.EntropyThreshold != 0.4 {
		t.Errorf("expected entropy threshold 0.4, got %v", cfg.LLMProxy.EntropyThreshold)
	}
	if cfg.Stream.SessionIdleTTL != 60*time.Second {
		t.Errorf("expected session idle ttl 60s, got %v", cfg.Stream.SessionIdleTTL)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
llm_proxy:
  small_model: "openai/gpt-5-nano"
  entropy_threshold: 0.5
orchestrator:
  max_debate_turns: 3
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.LLMProxy.SmallModel != "openai/gpt-5-nano" {
		t.Errorf("expected overridden small model, got %s", cfg.LLMProxy.SmallModel)
	}
	if cfg.LLMProxy.EntropyThreshold != 0.5 {
		t.Errorf("expected entropy threshold 0.5, got %v", cfg.LLMProxy.EntropyThreshold)
	}
	if cfg.Orchestrator.MaxDebateTurns != 3 {
		t.Errorf("expected max_debate_turns 3, got %d", cfg.Orchestrator.MaxDebateTurns)
	}
	// Unchanged fields keep defaults
	if cfg.LLMProxy.LargeModel != "openai/gpt-4o" {
		t.Errorf("expected default large model, got %s", cfg.LLMProxy.LargeModel)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("FINSIGHT_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("FINSIGHT_MAX_DEBATE_TURNS", "4")
	t.Setenv("FINSIGHT_ENTROPY_THRESHOLD", "0.33")
	t.Setenv("FINSIGHT_SESSION_IDLE_TTL", "90s")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Orchestrator.MaxDebateTurns != 4 {
		t.Errorf("expected max_debate_turns 4, got %d", cfg.Orchestrator.MaxDebateTurns)
	}
	if cfg.LLMProxy.EntropyThreshold != 0.33 {
		t.Errorf("expected entropy threshold 0.33, got %v", cfg.LLMProxy.EntropyThreshold)
	}
	if cfg.Stream.SessionIdleTTL != 90*time.Second {
		t.Errorf("expected session idle ttl 90s, got %v", cfg.Stream.SessionIdleTTL)
	}
}

func TestNormalizeWeights(t *testing.T) {
	w := ConfidenceWeights{SpecialistAgreement: 2, DebateStability: 1, RouterConfidence: 1}
	normalizeWeights(&w)

	sum := w.SpecialistAgreement + w.DebateStability + w.RouterConfidence
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("expected weights to sum to 1, got %v", sum)
	}
	if math.Abs(w.SpecialistAgreement-0.5) > 1e-9 {
		t.Errorf("expected agreement weight 0.5, got %v", w.SpecialistAgreement)
	}
}

func TestNormalizeWeightsAllZero(t *testing.T) {
	w := ConfidenceWeights{}
	normalizeWeights(&w)

	def := Defaults().Orchestrator.ConfidenceWeights
	if w != def {
		t.Errorf("expected default weights for all-zero input, got %+v", w)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := Defaults()
	cfg.LLMProxy.EntropyFlagThreshold = 0.1 // below entropy_threshold

	if err := validate(&cfg); err == nil {
		t.Fatal("expected validation error for flag threshold below escalation threshold")
	}
}

func TestValidateRejectsZeroDebateTurns(t *testing.T) {
	cfg := Defaults()
	cfg.Orchestrator.MaxDebateTurns = 0

	if err := validate(&cfg); err == nil {
		t.Fatal("expected validation error for zero max_debate_turns")
	}
}
