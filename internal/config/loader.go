package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "finsight.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	normalizeWeights(&cfg.Orchestrator.ConfidenceWeights)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FINSIGHT_PORT")
	setString(&cfg.Server.CORSOrigin, "FINSIGHT_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FINSIGHT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FINSIGHT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FINSIGHT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FINSIGHT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FINSIGHT_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setBool(&cfg.NATS.Enabled, "FINSIGHT_NATS_ENABLED")
	setString(&cfg.LLMProxy.URL, "LLM_PROXY_URL")
	setString(&cfg.LLMProxy.APIKey, "LLM_PROXY_API_KEY")
	setString(&cfg.LLMProxy.SmallModel, "FINSIGHT_SMALL_MODEL")
	setString(&cfg.LLMProxy.LargeModel, "FINSIGHT_LARGE_MODEL")
	setDuration(&cfg.LLMProxy.RequestTimeout, "FINSIGHT_LLM_TIMEOUT")
	setInt64(&cfg.LLMProxy.MaxInFlight, "FINSIGHT_LLM_MAX_IN_FLIGHT")
	setInt(&cfg.LLMProxy.LogprobsTopK, "FINSIGHT_LLM_LOGPROBS_TOP_K")
	setFloat64(&cfg.LLMProxy.EntropyThreshold, "FINSIGHT_ENTROPY_THRESHOLD")
	setFloat64(&cfg.LLMProxy.EntropyFlagThreshold, "FINSIGHT_ENTROPY_FLAG_THRESHOLD")
	setString(&cfg.MarketData.URL, "MARKET_DATA_URL")
	setString(&cfg.MarketData.APIKey, "MARKET_DATA_API_KEY")
	setDuration(&cfg.MarketData.Timeout, "FINSIGHT_MARKET_DATA_TIMEOUT")
	setDuration(&cfg.MarketData.QuoteTTL, "FINSIGHT_QUOTE_TTL")
	setString(&cfg.Logging.Level, "FINSIGHT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FINSIGHT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FINSIGHT_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "FINSIGHT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FINSIGHT_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "FINSIGHT_CACHE_SIZE_MB")
	setDuration(&cfg.Stream.SessionIdleTTL, "FINSIGHT_SESSION_IDLE_TTL")
	setInt(&cfg.Stream.BufferSize, "FINSIGHT_STREAM_BUFFER_SIZE")
	setDuration(&cfg.Stream.GCInterval, "FINSIGHT_SESSION_GC_INTERVAL")
	setInt(&cfg.Orchestrator.MaxDebateTurns, "FINSIGHT_MAX_DEBATE_TURNS")
	setDuration(&cfg.Orchestrator.SpecialistTimeout, "FINSIGHT_SPECIALIST_TIMEOUT")
	setDuration(&cfg.Orchestrator.RequestBudget, "FINSIGHT_REQUEST_BUDGET")
	setFloat64(&cfg.Orchestrator.ExhaustedCap, "FINSIGHT_EXHAUSTED_CAP")
	setInt(&cfg.Orchestrator.MaxSegments, "FINSIGHT_MAX_SEGMENTS")
	setFloat64(&cfg.Orchestrator.ConfidenceWeights.SpecialistAgreement, "FINSIGHT_WEIGHT_AGREEMENT")
	setFloat64(&cfg.Orchestrator.ConfidenceWeights.DebateStability, "FINSIGHT_WEIGHT_STABILITY")
	setFloat64(&cfg.Orchestrator.ConfidenceWeights.RouterConfidence, "FINSIGHT_WEIGHT_ROUTER")
	setString(&cfg.Gate.SecretHash, "FINSIGHT_GATE_SECRET_HASH")
	setBool(&cfg.MCP.Enabled, "FINSIGHT_MCP_ENABLED")
	setString(&cfg.MCP.Port, "FINSIGHT_MCP_PORT")
	setBool(&cfg.Telemetry.Enabled, "FINSIGHT_OTEL_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// normalizeWeights scales the confidence weights so they sum to 1.
// All-zero weights are replaced with the defaults.
func normalizeWeights(w *ConfidenceWeights) {
	sum := w.SpecialistAgreement + w.DebateStability + w.RouterConfidence
	if sum <= 0 {
		*w = Defaults().Orchestrator.ConfidenceWeights
		return
	}
	w.SpecialistAgreement /= sum
	w.DebateStability /= sum
	w.RouterConfidence /= sum
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required when nats.enabled")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.LLMProxy.SmallModel == "" || cfg.LLMProxy.LargeModel == "" {
		return errors.New("llm_proxy.small_model and llm_proxy.large_model are required")
	}
	if cfg.LLMProxy.EntropyThreshold <= 0 || cfg.LLMProxy.EntropyThreshold >= 1 {
		return errors.New("llm_proxy.entropy_threshold must be in (0, 1)")
	}
	if cfg.LLMProxy.EntropyFlagThreshold < cfg.LLMProxy.EntropyThreshold {
		return errors.New("llm_proxy.entropy_flag_threshold must be >= entropy_threshold")
	}
	if cfg.Orchestrator.MaxDebateTurns < 1 {
		return errors.New("orchestrator.max_debate_turns must be >= 1")
	}
	if cfg.Stream.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
