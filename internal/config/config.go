// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig
	Chunker       ChunkerConfig
	Relay         RelayConfig
	Avatar        AvatarConfig
	Backend       BackendConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds listener settings.
type ServiceConfig struct {
	Principal       string
	GRPCPort        string
	HTTPPort        string
	ShutdownTimeout time.Duration
}

// ChunkerConfig holds streaming chunker policy.
type ChunkerConfig struct {
	ChunkSize           int
	FirstChunkSize      int
	RegressionPolicy    string // strict, tolerant
	RegressionTolerance int
}

// RelayConfig holds cross-window relay settings.
type RelayConfig struct {
	Transport    string // memory, redis
	ChannelName  string
	RedisAddr    string
	RedisPrefix  string
	ReadyTimeout time.Duration
}

// AvatarConfig holds avatar binding settings.
type AvatarConfig struct {
	// Mode is window (bindings attach over WebSocket) or mock (headless
	// in-memory binding per channel).
	Mode            string
	PollInterval    time.Duration
	SimulationDelay time.Duration
}

// BackendConfig holds the agent REST backend settings.
type BackendConfig struct {
	BaseURL         string
	Timeout         time.Duration
	PingInterval    time.Duration
	GreetingScripts string // path to the YAML fallback map
}

// KafkaConfig holds speak-event publishing settings.
type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	TopicSpeak string
	TopicTurn  string
	Principal  string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads a .env file when present, then the environment.
func Load() *Configuration {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-avatar-control")
	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),

			ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Chunker: ChunkerConfig{
			ChunkSize:           envInt("CHUNK_SIZE", 6),
			FirstChunkSize:      envInt("CHUNK_FIRST_SIZE", 0),
			RegressionPolicy:    strings.ToLower(envOrDefault("CHUNK_REGRESSION_POLICY", "strict")),
			RegressionTolerance: envInt("CHUNK_REGRESSION_TOLERANCE", 10),
		},
		Relay: RelayConfig{
			Transport:    strings.ToLower(envOrDefault("RELAY_TRANSPORT", "memory")),
			ChannelName:  envOrDefault("RELAY_CHANNEL", "avatar_control"),
			RedisAddr:    envOrDefault("RELAY_REDIS_ADDR", "localhost:6379"),
			RedisPrefix:  envOrDefault("RELAY_REDIS_PREFIX", "relay:"),
			ReadyTimeout: envDuration("RELAY_READY_TIMEOUT", 3*time.Second),
		},
		Avatar: AvatarConfig{
			Mode:            strings.ToLower(envOrDefault("AVATAR_MODE", "window")),
			PollInterval:    envDuration("AVATAR_POLL_INTERVAL", time.Second),
			SimulationDelay: envDuration("SIMULATION_DELAY", 300*time.Millisecond),
		},
		Backend: BackendConfig{
			BaseURL:         envOrDefault("AGENT_API_URL", "http://localhost:8080"),
			Timeout:         envDuration("AGENT_API_TIMEOUT", 10*time.Second),
			PingInterval:    envDuration("AGENT_PING_INTERVAL", 3*time.Second),
			GreetingScripts: envOrDefault("GREETING_SCRIPTS_FILE", ""),
		},
		Kafka: KafkaConfig{
			Enabled:    envBool("KAFKA_ENABLED", false),
			Brokers:    envList("KAFKA_BROKERS"),
			TopicSpeak: envOrDefault("KAFKA_TOPIC_SPEAK", "avatar.speak.chunk"),
			TopicTurn:  envOrDefault("KAFKA_TOPIC_TURN", "avatar.turn.final"),
			Principal:  principal,
		},
		Observability: ObservabilityConfig{
			LogLevel:    strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer, using default")
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid boolean, using default")
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration, using default")
		return def
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
